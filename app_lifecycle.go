package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/browser"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"keybubbles/internal/autostart"
	"keybubbles/internal/bubble"
	"keybubbles/internal/combo"
	"keybubbles/internal/config"
	"keybubbles/internal/hotkeys"
	"keybubbles/internal/input"
	"keybubbles/internal/ipc"
	"keybubbles/internal/keys"
	"keybubbles/internal/overlay"
	"keybubbles/internal/render"
	"keybubbles/internal/settingsweb"
	"keybubbles/internal/tray"
	"keybubbles/internal/workerutil"
	"keybubbles/internal/wsserver"
)

// Test seams. Wails runtime calls need a context created by wails.Run.
var (
	runtimeQuitFn              = runtime.Quit
	runtimeWindowSetPositionFn = runtime.WindowSetPosition
	runtimeWindowSetSizeFn     = runtime.WindowSetSize
	openBrowserFn              = browser.OpenURL
	showErrorFn                = overlay.ShowError
	makeClickThroughFn         = overlay.MakeClickThrough
	primaryScreenFn            = overlay.PrimaryScreen
	newHookSourceFn            = func(mouse bool) input.Source { return input.NewHookSource(mouse) }
	newAutostartFn             = autostart.NewManager
	newTrayUIFn                = func(c *tray.Controller) trayUI { return tray.NewUI(c) }
	newHotkeyFn                = func() hotkeyRegistrar { return hotkeys.NewManager() }
)

const (
	shutdownWaitTimeout = 10 * time.Second
	// gateBuffer sits between the pause gate and the aggregator.
	gateBuffer = 64
)

func (a *App) startup(ctx context.Context) {
	a.setRuntimeContext(ctx)

	cfg, err := config.EnsureFile(a.opts.configPath)
	if err != nil {
		// Non-fatal: run with what Load returned (defaults for a broken file).
		slog.Warn("[config] failed to load config, running with defaults", "path", a.opts.configPath, "error", err)
	}
	// Load already logged each repair; drop the copies kept for the CLI.
	config.ConsumeWarnings()
	a.store = config.NewStore(cfg)

	a.persister = config.NewPersister(a.opts.configPath, a.store, config.DefaultPersistDelay)
	a.watcher = config.NewWatcher(a.opts.configPath, a.store)
	a.persister.OnWrite(a.watcher.IgnoreContent)
	a.persister.Start()

	a.controller = tray.NewController(tray.Actions{
		OpenSettings:  a.openSettings,
		ResetDefaults: a.resetDefaults,
		Quit:          a.quit,
	})

	a.hub = wsserver.NewHub(wsserver.HubOptions{Addr: a.opts.hubAddr})
	a.settings = settingsweb.New(a.store, a.diagnosticsSnapshot)
	a.settings.Mount(a.hub)
	if err := a.hub.Start(ctx); err != nil {
		slog.Error("[WS] frame stream failed to start", "error", err)
		a.hub = nil
	}

	measurer, err := render.NewFontMeasurer()
	if err != nil {
		slog.Warn("[render] font metrics unavailable, estimating", "error", err)
	} else {
		a.measurer = measurer
	}
	a.bubbles = bubble.NewManager(cfg.MaxKeys, cfg.FadeSpeed)
	a.follower = overlay.NewFollower(a.moveWindow)
	var m render.Measurer = render.EstimateMeasurer{}
	if a.measurer != nil {
		m = a.measurer
	}
	a.loop = render.NewLoop(a.bubbles, m, a.frameSink(), primaryScreenFn, cfg)
	a.bubbles.OnChange(a.loop.Redraw)

	a.gate = make(chan keys.Event, gateBuffer)
	a.runner = combo.NewRunner(comboOptions(cfg), a.gate, a.addBubble)
	a.listener = input.NewListener(newHookSourceFn(cfg.ShowMouseClicks), input.DefaultBuffer)
	a.listener.SetMouseEnabled(cfg.ShowMouseClicks)

	a.unsubscribePause = a.controller.OnChange(a.onPauseChange)
	if a.hub != nil {
		a.hub.PublishStatus(false)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	a.workersCancel = cancel
	if err := a.listener.Start(workerCtx); err != nil {
		a.fail(err)
		return
	}
	a.startWorkers(workerCtx)

	a.control = ipc.NewServer(a.opts.controlEndpoint, ipc.HandlerFunc(a.handleControl))
	if err := a.control.Start(); err != nil {
		slog.Warn("[ipc] control pipe unavailable; CLI commands will not reach this instance", "error", err)
		a.control = nil
	}

	a.tray = newTrayUIFn(a.controller)
	if err := a.tray.Start(); err != nil {
		slog.Warn("[tray] tray icon unavailable", "error", err)
	}

	a.autostart = newAutostartFn()
	a.hotkey = newHotkeyFn()
	a.unsubscribeConfig = a.store.Subscribe(a.applyConfig)
	a.syncAutostart(cfg.StartWithWindows)
	a.syncHotkey(cfg.PauseHotkey)

	if !cfg.StartMinimized {
		a.openSettings()
	}
	slog.Info("[app] started", "config", a.opts.configPath, "frames", a.GetFrameStreamURL())
}

// domReady runs once the overlay page has loaded and the native window
// exists.
func (a *App) domReady(_ context.Context) {
	if err := makeClickThroughFn(overlay.WindowTitle); err != nil {
		slog.Warn("[overlay] click-through not applied", "error", err)
	}
	if a.loop != nil {
		a.loop.Redraw()
	}
}

func (a *App) startWorkers(ctx context.Context) {
	opts := workerutil.RecoveryOptions{
		IsShutdown: a.shuttingDown.Load,
		OnPanic: func(worker string, attempt int, value any) {
			slog.Warn("[worker] restarting after panic", "worker", worker, "attempt", attempt, "panic", value)
		},
	}
	workerutil.RunWithPanicRecovery(ctx, "pause-gate", &a.bgWG, func(ctx context.Context) {
		gateEvents(ctx, a.listener.Events(), a.gate, a.controller.Paused)
	}, opts)
	workerutil.RunWithPanicRecovery(ctx, "combo-runner", &a.bgWG, a.runner.Run, opts)
	workerutil.RunWithPanicRecovery(ctx, "render-loop", &a.bgWG, a.loop.Run, opts)
	workerutil.RunWithPanicRecovery(ctx, "config-watcher", &a.bgWG, func(ctx context.Context) {
		if err := a.watcher.Run(ctx); err != nil {
			slog.Warn("[config] external edits will not be picked up", "error", err)
		}
	}, opts)
}

// fail records a fatal error, tells the user and ends the run.
func (a *App) fail(err error) {
	a.fatalMu.Lock()
	if a.fatalErr == nil {
		a.fatalErr = err
	}
	a.fatalMu.Unlock()

	slog.Error("[app] fatal error", "error", err)
	msg := err.Error()
	if errors.Is(err, input.ErrSubscribe) {
		msg = fmt.Sprintf("KeyBubbles could not listen to the keyboard.\n\n%v", err)
	}
	showErrorFn("KeyBubbles", msg)
	if ctx := a.runtimeContext(); ctx != nil {
		runtimeQuitFn(ctx)
	}
}

// shutdown stops everything in dependency order: input first so no new
// bubbles appear, then the pipeline, the surfaces and finally the config
// flush. The diagnostics store and the instance lock are released by the
// caller of wails.Run.
func (a *App) shutdown(_ context.Context) {
	a.shuttingDown.Store(true)

	if a.unsubscribeConfig != nil {
		a.unsubscribeConfig()
	}
	if a.unsubscribePause != nil {
		a.unsubscribePause()
	}
	if a.hotkey != nil {
		if err := a.hotkey.Stop(); err != nil {
			slog.Warn("[hotkey] failed to unregister pause hotkey", "error", err)
		}
	}
	if a.listener != nil {
		if err := a.listener.Stop(); err != nil {
			slog.Warn("[input] listener stop failed", "error", err)
		}
	}
	if a.workersCancel != nil {
		a.workersCancel()
	}
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		slog.Warn("[app] timed out waiting for background workers during shutdown")
	}
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Warn("[WS] hub stop failed", "error", err)
		}
	}
	if a.persister != nil {
		if err := a.persister.Stop(); err != nil {
			slog.Warn("[config] final save failed", "path", a.opts.configPath, "error", err)
		}
	}
	if a.control != nil {
		if err := a.control.Stop(); err != nil {
			slog.Warn("[ipc] control server stop failed", "error", err)
		}
	}
	if a.tray != nil {
		a.tray.Stop()
	}
	if a.measurer != nil {
		_ = a.measurer.Close()
	}
	slog.Info("[app] stopped")
}

// gateEvents forwards events from in to out while paused reports false.
// Events arriving while paused are dropped before the aggregator.
func gateEvents(ctx context.Context, in <-chan keys.Event, out chan<- keys.Event, paused func() bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if paused() {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func comboOptions(cfg config.Config) combo.Options {
	return combo.Options{Window: cfg.AggregationWindow(), ModifierTimeout: cfg.ModifierTimeout()}
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout; only used at process exit.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
