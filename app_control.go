package main

import (
	"log/slog"
	"time"

	"keybubbles/internal/autostart"
	"keybubbles/internal/combo"
	"keybubbles/internal/config"
	"keybubbles/internal/ipc"
	"keybubbles/internal/render"
)

// handleControl serves the control pipe. It runs on the ipc connection
// goroutine.
func (a *App) handleControl(req ipc.Request) ipc.Response {
	resp := ipc.Response{OK: true}
	switch req.Command {
	case ipc.CommandQuit:
		resp.Message = "shutting down"
		// Answer before the runtime tears the pipe down.
		time.AfterFunc(50*time.Millisecond, a.controller.Quit)
	case ipc.CommandPause:
		a.controller.SetPaused(true)
	case ipc.CommandResume:
		a.controller.SetPaused(false)
	case ipc.CommandToggle:
		a.controller.TogglePause()
	case ipc.CommandSettings:
		a.controller.OpenSettings()
	case ipc.CommandStatus, ipc.CommandPing:
	default:
		return ipc.Response{OK: false, Paused: a.controller.Paused(), Message: "unknown command"}
	}
	resp.Paused = a.controller.Paused()
	if resp.Message == "" {
		resp.Message = a.controller.StatusText()
	}
	return resp
}

func (a *App) settingsURL() string {
	if a.hub == nil {
		return ""
	}
	return a.hub.BaseURL() + "/settings"
}

func (a *App) openSettings() {
	url := a.settingsURL()
	if url == "" {
		slog.Warn("[settings] settings page unavailable: frame server not running")
		return
	}
	if err := openBrowserFn(url); err != nil {
		slog.Warn("[settings] failed to open browser", "url", url, "error", err)
		return
	}
	slog.Info("[settings] opened", "url", url)
}

// resetDefaults restores the defaults and clears bubbles drawn in the old
// style.
func (a *App) resetDefaults() {
	a.store.Reset()
	if a.bubbles != nil {
		a.bubbles.Clear()
	}
	slog.Info("[config] reset to defaults")
}

func (a *App) quit() {
	ctx := a.runtimeContext()
	if ctx == nil {
		slog.Warn("[app] quit requested before runtime was ready")
		return
	}
	runtimeQuitFn(ctx)
}

// onPauseChange runs on the goroutine that changed the pause state.
func (a *App) onPauseChange(paused bool) {
	// A release that arrives while paused is lost; start clean on resume.
	a.runner.Reset()
	if a.hub != nil {
		a.hub.PublishStatus(paused)
	}
}

// addBubble is the aggregator sink.
func (a *App) addBubble(tok combo.Token) {
	b := a.bubbles.Add(tok.String(), tok.At)
	slog.Debug("[combo] bubble added", "text", b.Text, "slot", b.Slot)
}

// frameSink moves the overlay window to each frame's rectangle, then hands
// the frame to the stream.
func (a *App) frameSink() render.Sink {
	return render.SinkFunc(func(f render.Frame) {
		a.follower.Follow(f.Window)
		if a.hub != nil {
			a.hub.Present(f)
		}
	})
}

func (a *App) moveWindow(r render.Rect) {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	runtimeWindowSetSizeFn(ctx, r.W, r.H)
	runtimeWindowSetPositionFn(ctx, r.X, r.Y)
}

// applyConfig pushes a new snapshot into every running component. Store
// listeners run after the store lock is released.
func (a *App) applyConfig(cfg config.Config) {
	a.runner.SetOptions(comboOptions(cfg))
	a.bubbles.SetLimits(cfg.MaxKeys, cfg.FadeSpeed)
	a.loop.SetConfig(cfg)
	a.listener.SetMouseEnabled(cfg.ShowMouseClicks)
	a.syncAutostart(cfg.StartWithWindows)
	a.syncHotkey(cfg.PauseHotkey)
}

// syncAutostart touches the registry only when the wanted state changes.
func (a *App) syncAutostart(want bool) {
	if a.autostart == nil {
		return
	}
	a.autostartMu.Lock()
	defer a.autostartMu.Unlock()
	if a.autostartWant != nil && *a.autostartWant == want {
		return
	}
	if err := autostart.Sync(a.autostart, want); err != nil {
		slog.Warn("[autostart] failed to update login item", "enabled", want, "error", err)
		return
	}
	a.autostartWant = &want
}

// syncHotkey re-registers the pause shortcut when its binding changes. A failed
// registration is not retried until the binding changes again.
func (a *App) syncHotkey(spec string) {
	if a.hotkey == nil {
		return
	}
	a.hotkeyMu.Lock()
	defer a.hotkeyMu.Unlock()
	if spec == a.hotkeySpec {
		return
	}
	a.hotkeySpec = spec
	if spec == "" {
		if err := a.hotkey.Stop(); err != nil {
			slog.Warn("[hotkey] failed to unregister pause hotkey", "error", err)
		}
		return
	}
	if err := a.hotkey.Start(spec, func() { a.controller.TogglePause() }); err != nil {
		slog.Warn("[hotkey] pause hotkey unavailable", "binding", spec, "error", err)
		return
	}
	slog.Info("[hotkey] pause hotkey registered", "binding", spec)
}
