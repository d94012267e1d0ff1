package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keybubbles/internal/autostart"
	"keybubbles/internal/config"
	"keybubbles/internal/input"
	"keybubbles/internal/ipc"
	"keybubbles/internal/keys"
	"keybubbles/internal/render"
	"keybubbles/internal/sessionlog"
	"keybubbles/internal/testutil"
	"keybubbles/internal/tray"
)

// NOTE: These tests replace package-level function variables
// (runtimeQuitFn, newHookSourceFn, etc.). Do not use t.Parallel() here.

type fakeTray struct {
	started atomic.Bool
	stopped atomic.Bool
	err     error
}

func (f *fakeTray) Start() error {
	f.started.Store(true)
	return f.err
}

func (f *fakeTray) Stop() { f.stopped.Store(true) }

type fakeHotkey struct {
	mu      sync.Mutex
	specs   []string
	stops   int
	trigger func()
	err     error
}

func (f *fakeHotkey) Start(spec string, onTrigger func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return f.err
	}
	f.trigger = onTrigger
	return nil
}

func (f *fakeHotkey) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.trigger = nil
	return nil
}

func (f *fakeHotkey) snapshot() ([]string, int, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.specs...), f.stops, f.trigger
}

type fakeAutostart struct {
	mu       sync.Mutex
	enabled  bool
	enables  int
	disables int
	readErr  error
}

func (f *fakeAutostart) IsEnabled() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, f.readErr
}

func (f *fakeAutostart) Enable(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	f.enables++
	return nil
}

func (f *fakeAutostart) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	f.disables++
	return nil
}

type lifecycleSeams struct {
	tray      *fakeTray
	hotkey    *fakeHotkey
	autostart *fakeAutostart
	events    chan keys.Event
	quits     atomic.Int32
	moves     atomic.Int32
	browser   chan string
	errors    chan string
}

func restoreLifecycleSeams(t *testing.T) {
	t.Helper()
	origQuit := runtimeQuitFn
	origPos := runtimeWindowSetPositionFn
	origSize := runtimeWindowSetSizeFn
	origBrowser := openBrowserFn
	origShowError := showErrorFn
	origClickThrough := makeClickThroughFn
	origScreen := primaryScreenFn
	origHook := newHookSourceFn
	origAutostart := newAutostartFn
	origTray := newTrayUIFn
	origHotkey := newHotkeyFn
	origLogger := slog.Default()
	t.Cleanup(func() {
		runtimeQuitFn = origQuit
		runtimeWindowSetPositionFn = origPos
		runtimeWindowSetSizeFn = origSize
		openBrowserFn = origBrowser
		showErrorFn = origShowError
		makeClickThroughFn = origClickThrough
		primaryScreenFn = origScreen
		newHookSourceFn = origHook
		newAutostartFn = origAutostart
		newTrayUIFn = origTray
		newHotkeyFn = origHotkey
		slog.SetDefault(origLogger)
	})
}

// installLifecycleSeams replaces every OS-facing seam with an in-memory fake.
func installLifecycleSeams(t *testing.T) *lifecycleSeams {
	t.Helper()
	restoreLifecycleSeams(t)
	s := &lifecycleSeams{
		tray:      &fakeTray{},
		hotkey:    &fakeHotkey{},
		autostart: &fakeAutostart{},
		events:    make(chan keys.Event, 16),
		browser:   make(chan string, 4),
		errors:    make(chan string, 4),
	}
	runtimeQuitFn = func(context.Context) { s.quits.Add(1) }
	runtimeWindowSetPositionFn = func(context.Context, int, int) { s.moves.Add(1) }
	runtimeWindowSetSizeFn = func(context.Context, int, int) {}
	openBrowserFn = func(url string) error {
		s.browser <- url
		return nil
	}
	showErrorFn = func(_, msg string) { s.errors <- msg }
	makeClickThroughFn = func(string) error { return nil }
	primaryScreenFn = func() render.Rect { return render.Rect{W: 1920, H: 1080} }
	newHookSourceFn = func(bool) input.Source { return input.NewChanSource("test", s.events) }
	newAutostartFn = func() autostart.Manager { return s.autostart }
	newTrayUIFn = func(*tray.Controller) trayUI { return s.tray }
	newHotkeyFn = func() hotkeyRegistrar { return s.hotkey }
	return s
}

// newTestConfigPath points the config directory at a temp dir so saves pass
// the path guard.
func newTestConfigPath(t *testing.T) string {
	t.Helper()
	t.Setenv("LOCALAPPDATA", t.TempDir())
	return config.DefaultPath()
}

func testControlEndpoint(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\KeyBubbles-test-%d`, time.Now().UnixNano())
	}
	dir, err := os.MkdirTemp("", "kb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func bubbleTexts(a *App) []string {
	var out []string
	for _, b := range a.bubbles.Snapshot() {
		out = append(out, b.Text)
	}
	return out
}

func tap(ch chan<- keys.Event, k keys.Key) {
	now := time.Now()
	ch <- keys.Pressed(k, now)
	ch <- keys.Released(k, now.Add(10*time.Millisecond))
}

func TestAppStartupShutdownLifecycle(t *testing.T) {
	seams := installLifecycleSeams(t)
	configPath := newTestConfigPath(t)
	endpoint := testControlEndpoint(t)

	app := NewApp(appOptions{configPath: configPath, controlEndpoint: endpoint, hubAddr: "127.0.0.1:0"})
	app.startup(context.Background())
	shutdownDone := false
	t.Cleanup(func() {
		if !shutdownDone {
			app.shutdown(context.Background())
		}
	})

	if err := app.Err(); err != nil {
		t.Fatalf("startup recorded fatal error: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if url := app.GetFrameStreamURL(); !strings.HasPrefix(url, "ws://127.0.0.1:") {
		t.Fatalf("GetFrameStreamURL() = %q", url)
	}
	if !seams.tray.started.Load() {
		t.Fatal("tray UI was not started")
	}
	if specs, _, _ := seams.hotkey.snapshot(); len(specs) != 1 || specs[0] != "Ctrl+Alt+K" {
		t.Fatalf("hotkey registrations = %v, want [Ctrl+Alt+K]", specs)
	}
	select {
	case url := <-seams.browser:
		t.Fatalf("settings opened at startup (%s) although start_minimized is set", url)
	default:
	}

	// Keys flow from the hook through the gate and aggregator into bubbles.
	tap(seams.events, "Q")
	if !testutil.WaitFor(2*time.Second, func() bool { return app.bubbles.Len() == 1 }) {
		t.Fatalf("bubbles = %v, want [Q]", bubbleTexts(app))
	}
	if got := bubbleTexts(app); got[0] != "Q" {
		t.Fatalf("bubble text = %q, want Q", got[0])
	}
	if !testutil.WaitFor(2*time.Second, func() bool { return seams.moves.Load() > 0 }) {
		t.Fatal("overlay window was never positioned")
	}

	// The control pipe reaches the controller.
	resp, err := ipc.Send(endpoint, ipc.Request{Command: ipc.CommandPause})
	if err != nil {
		t.Fatalf("Send(pause) error = %v", err)
	}
	if !resp.OK || !resp.Paused {
		t.Fatalf("pause response = %+v", resp)
	}
	tap(seams.events, "W")
	time.Sleep(150 * time.Millisecond)
	for _, text := range bubbleTexts(app) {
		if text == "W" {
			t.Fatal("key pressed while paused produced a bubble")
		}
	}

	// The pause hotkey toggles back to active.
	_, _, trigger := seams.hotkey.snapshot()
	if trigger == nil {
		t.Fatal("hotkey callback not registered")
	}
	trigger()
	if app.controller.Paused() {
		t.Fatal("hotkey did not resume")
	}

	// Settings API edits reach the running components.
	req, err := http.NewRequest(http.MethodPut, app.hub.BaseURL()+"/api/options/pause_hotkey", strings.NewReader(`{"value":"ctrl+shift+p"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT pause_hotkey error = %v", err)
	}
	httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("PUT pause_hotkey status = %d", httpResp.StatusCode)
	}
	if specs, _, _ := seams.hotkey.snapshot(); specs[len(specs)-1] != "Ctrl+Shift+P" {
		t.Fatalf("hotkey registrations = %v, want last Ctrl+Shift+P", specs)
	}

	app.shutdown(context.Background())
	shutdownDone = true

	if !seams.tray.stopped.Load() {
		t.Fatal("tray UI was not stopped")
	}
	if _, stops, _ := seams.hotkey.snapshot(); stops == 0 {
		t.Fatal("hotkey was not unregistered")
	}
	if _, err := ipc.Send(endpoint, ipc.Request{Command: ipc.CommandStatus}); err == nil {
		t.Fatal("control pipe still answering after shutdown")
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load() after shutdown error = %v", err)
	}
	if saved.PauseHotkey != "Ctrl+Shift+P" {
		t.Fatalf("saved pause_hotkey = %q, want Ctrl+Shift+P", saved.PauseHotkey)
	}
}

func TestAppPauseKeepsExistingBubblesFading(t *testing.T) {
	seams := installLifecycleSeams(t)
	app := NewApp(appOptions{configPath: newTestConfigPath(t), controlEndpoint: testControlEndpoint(t), hubAddr: "127.0.0.1:0"})
	app.startup(context.Background())
	t.Cleanup(func() { app.shutdown(context.Background()) })
	if err := app.Err(); err != nil {
		t.Fatalf("startup recorded fatal error: %v", err)
	}
	// Full opacity fades out in half a second.
	if err := app.store.Set("fade_speed", 2.0); err != nil {
		t.Fatal(err)
	}

	tap(seams.events, "Q")
	if !testutil.WaitFor(2*time.Second, func() bool { return app.bubbles.Len() == 1 }) {
		t.Fatalf("bubbles = %v, want [Q]", bubbleTexts(app))
	}
	app.controller.SetPaused(true)

	var samples []float64
	gone := testutil.WaitFor(3*time.Second, func() bool {
		snap := app.bubbles.Snapshot()
		if len(snap) == 0 {
			return true
		}
		samples = append(samples, snap[0].Opacity)
		return false
	})
	if !gone {
		t.Fatalf("bubble still visible while paused, opacity samples = %v", samples)
	}
	if !app.controller.Paused() {
		t.Fatal("app resumed on its own")
	}
	if len(samples) < 2 {
		t.Fatalf("too few samples to observe fading: %v", samples)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i] > samples[i-1] {
			t.Fatalf("opacity rose while paused: %v", samples)
		}
	}
	if samples[len(samples)-1] >= samples[0] {
		t.Fatalf("opacity never decreased while paused: %v", samples)
	}
}

func TestAppResetDefaultsClearsBubbles(t *testing.T) {
	seams := installLifecycleSeams(t)
	app := NewApp(appOptions{configPath: newTestConfigPath(t), controlEndpoint: testControlEndpoint(t), hubAddr: "127.0.0.1:0"})
	app.startup(context.Background())
	t.Cleanup(func() { app.shutdown(context.Background()) })
	if err := app.store.Set("font_size", 40); err != nil {
		t.Fatal(err)
	}

	tap(seams.events, "Q")
	if !testutil.WaitFor(2*time.Second, func() bool { return app.bubbles.Len() == 1 }) {
		t.Fatalf("bubbles = %v, want [Q]", bubbleTexts(app))
	}
	app.controller.ResetDefaults()

	if got := app.store.Snapshot().FontSize; got != config.DefaultConfig().FontSize {
		t.Fatalf("FontSize after reset = %d", got)
	}
	if n := app.bubbles.Len(); n != 0 {
		t.Fatalf("bubbles after reset = %v", bubbleTexts(app))
	}
}

func TestAppStartupOpensSettingsWhenNotMinimized(t *testing.T) {
	seams := installLifecycleSeams(t)
	configPath := newTestConfigPath(t)
	cfg := config.DefaultConfig()
	cfg.StartMinimized = false
	if _, err := config.Save(configPath, cfg); err != nil {
		t.Fatal(err)
	}

	app := NewApp(appOptions{configPath: configPath, controlEndpoint: testControlEndpoint(t)})
	app.startup(context.Background())
	defer app.shutdown(context.Background())

	select {
	case url := <-seams.browser:
		if url != app.hub.BaseURL()+"/settings" {
			t.Fatalf("opened %q, want settings page", url)
		}
	case <-time.After(time.Second):
		t.Fatal("settings page was not opened")
	}
}

func TestAppStartupFailsWhenInputUnavailable(t *testing.T) {
	seams := installLifecycleSeams(t)
	newHookSourceFn = func(bool) input.Source { return failingSource{} }

	app := NewApp(appOptions{configPath: newTestConfigPath(t), controlEndpoint: testControlEndpoint(t)})
	app.startup(context.Background())
	app.shutdown(context.Background())

	err := app.Err()
	if !errors.Is(err, input.ErrSubscribe) {
		t.Fatalf("Err() = %v, want ErrSubscribe", err)
	}
	select {
	case msg := <-seams.errors:
		if !strings.Contains(msg, "could not listen to the keyboard") {
			t.Fatalf("error dialog = %q", msg)
		}
	default:
		t.Fatal("no error dialog shown")
	}
	if seams.quits.Load() != 1 {
		t.Fatalf("runtime quit calls = %d, want 1", seams.quits.Load())
	}
	if seams.tray.started.Load() {
		t.Fatal("tray started after fatal input error")
	}
}

type failingSource struct{}

func (failingSource) Start(context.Context, func(keys.Event)) error { return input.ErrUnsupported }
func (failingSource) Stop() error                                   { return nil }
func (failingSource) Name() string                                  { return "failing" }

func TestGateEvents(t *testing.T) {
	tests := []struct {
		name   string
		paused bool
		want   int
	}{
		{name: "active forwards", paused: false, want: 2},
		{name: "paused drops", paused: true, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make(chan keys.Event, 2)
			out := make(chan keys.Event, 2)
			now := time.Now()
			in <- keys.Pressed("A", now)
			in <- keys.Released("A", now)
			close(in)

			gateEvents(context.Background(), in, out, func() bool { return tt.paused })
			if len(out) != tt.want {
				t.Fatalf("forwarded %d events, want %d", len(out), tt.want)
			}
		})
	}
}

func TestGateEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gateEvents(ctx, make(chan keys.Event), make(chan keys.Event), func() bool { return false })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gateEvents did not return after cancel")
	}
}

func newControlTestApp(t *testing.T) (*App, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	restoreLifecycleSeams(t)
	var settings, quits atomic.Int32
	app := NewApp(appOptions{configPath: newTestConfigPath(t)})
	app.controller = tray.NewController(tray.Actions{
		OpenSettings: func() { settings.Add(1) },
		Quit:         func() { quits.Add(1) },
	})
	return app, &settings, &quits
}

func TestHandleControl(t *testing.T) {
	tests := []struct {
		command    string
		startPause bool
		wantOK     bool
		wantPaused bool
	}{
		{command: ipc.CommandPause, wantOK: true, wantPaused: true},
		{command: ipc.CommandResume, startPause: true, wantOK: true, wantPaused: false},
		{command: ipc.CommandToggle, wantOK: true, wantPaused: true},
		{command: ipc.CommandToggle, startPause: true, wantOK: true, wantPaused: false},
		{command: ipc.CommandStatus, startPause: true, wantOK: true, wantPaused: true},
		{command: ipc.CommandPing, wantOK: true},
		{command: "explode", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			app, _, _ := newControlTestApp(t)
			app.controller.SetPaused(tt.startPause)

			resp := app.handleControl(ipc.Request{Command: tt.command})
			if resp.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v (%+v)", resp.OK, tt.wantOK, resp)
			}
			if tt.wantOK && resp.Paused != tt.wantPaused {
				t.Fatalf("Paused = %v, want %v", resp.Paused, tt.wantPaused)
			}
			if resp.Message == "" {
				t.Fatal("response has no message")
			}
		})
	}
}

func TestHandleControlSettingsAndQuit(t *testing.T) {
	app, settings, quits := newControlTestApp(t)

	if resp := app.handleControl(ipc.Request{Command: ipc.CommandSettings}); !resp.OK {
		t.Fatalf("settings response = %+v", resp)
	}
	if settings.Load() != 1 {
		t.Fatalf("OpenSettings calls = %d, want 1", settings.Load())
	}

	resp := app.handleControl(ipc.Request{Command: ipc.CommandQuit})
	if !resp.OK || resp.Message != "shutting down" {
		t.Fatalf("quit response = %+v", resp)
	}
	// Quit is deferred so the response can be written first.
	if !testutil.WaitFor(time.Second, func() bool { return quits.Load() == 1 }) {
		t.Fatalf("Quit calls = %d, want 1", quits.Load())
	}
}

func TestSyncAutostartOnlyOnChange(t *testing.T) {
	restoreLifecycleSeams(t)
	fake := &fakeAutostart{}
	app := NewApp(appOptions{configPath: newTestConfigPath(t)})
	app.autostart = fake

	app.syncAutostart(false)
	app.syncAutostart(true)
	app.syncAutostart(true)
	app.syncAutostart(false)

	if fake.enables != 1 || fake.disables != 1 {
		t.Fatalf("enables=%d disables=%d, want 1 and 1", fake.enables, fake.disables)
	}
}

func TestSyncAutostartRetriesAfterFailure(t *testing.T) {
	restoreLifecycleSeams(t)
	fake := &fakeAutostart{readErr: errors.New("registry unavailable")}
	app := NewApp(appOptions{configPath: newTestConfigPath(t)})
	app.autostart = fake

	app.syncAutostart(true)
	fake.readErr = nil
	app.syncAutostart(true)

	if fake.enables != 1 {
		t.Fatalf("enables = %d, want 1 after the registry recovered", fake.enables)
	}
}

func TestSyncHotkey(t *testing.T) {
	app, _, _ := newControlTestApp(t)
	fake := &fakeHotkey{}
	app.hotkey = fake

	app.syncHotkey("Ctrl+Alt+K")
	app.syncHotkey("Ctrl+Alt+K")
	app.syncHotkey("")
	app.syncHotkey("Ctrl+Shift+P")

	specs, stops, trigger := fake.snapshot()
	if len(specs) != 2 || specs[0] != "Ctrl+Alt+K" || specs[1] != "Ctrl+Shift+P" {
		t.Fatalf("registrations = %v", specs)
	}
	if stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
	trigger()
	if !app.controller.Paused() {
		t.Fatal("hotkey trigger did not toggle pause")
	}
}

func TestSyncHotkeyFailureIsNotRetried(t *testing.T) {
	app, _, _ := newControlTestApp(t)
	fake := &fakeHotkey{err: errors.New("already registered by another program")}
	app.hotkey = fake

	buf := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	app.syncHotkey("Ctrl+Alt+K")
	app.syncHotkey("Ctrl+Alt+K")

	if specs, _, _ := fake.snapshot(); len(specs) != 1 {
		t.Fatalf("registrations = %v, want one attempt", specs)
	}
	if !strings.Contains(buf.String(), "pause hotkey unavailable") {
		t.Fatalf("expected warning, log=%q", buf.String())
	}
}

func TestDiagnosticsSnapshot(t *testing.T) {
	app, _, _ := newControlTestApp(t)
	app.controller.SetPaused(true)

	ring := sessionlog.NewRing(5)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ring.Add(sessionlog.Entry{Time: base, Level: slog.LevelWarn, Message: "first"})
	ring.Add(sessionlog.Entry{Time: base.Add(time.Second), Level: slog.LevelError, Message: "second"})
	app.opts.diagnostics = &diagnosticsLog{ring: ring}

	got, err := app.diagnosticsSnapshot(context.Background())
	if err != nil {
		t.Fatalf("diagnosticsSnapshot() error = %v", err)
	}
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	var view struct {
		Paused         bool `json:"paused"`
		RecentWarnings []struct {
			Time    string `json:"time"`
			Level   string `json:"level"`
			Message string `json:"message"`
		} `json:"recent_warnings"`
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatal(err)
	}
	if !view.Paused {
		t.Fatal("paused not reported")
	}
	if len(view.RecentWarnings) != 2 {
		t.Fatalf("recent_warnings = %+v", view.RecentWarnings)
	}
	if w := view.RecentWarnings[0]; w.Message != "second" || w.Level != "ERROR" || w.Time != "03:04:06" {
		t.Fatalf("newest warning = %+v", w)
	}
}

func TestDiagnosticsSnapshotWithoutLogging(t *testing.T) {
	app := NewApp(appOptions{configPath: "/tmp/keybubbles/config.yaml"})
	got, err := app.diagnosticsSnapshot(context.Background())
	if err != nil {
		t.Fatalf("diagnosticsSnapshot() error = %v", err)
	}
	view := got.(diagnosticsView)
	if view.RecentWarnings == nil || len(view.RecentWarnings) != 0 {
		t.Fatalf("RecentWarnings = %#v, want empty slice", view.RecentWarnings)
	}
	if view.ConfigPath != "/tmp/keybubbles/config.yaml" {
		t.Fatalf("ConfigPath = %q", view.ConfigPath)
	}
}

func TestSetupLoggingTeesWarnings(t *testing.T) {
	restoreLifecycleSeams(t)
	var console bytes.Buffer
	dbPath := filepath.Join(t.TempDir(), "diagnostics.db")

	diag := setupLogging(&console, false, dbPath)
	slog.Info("[test] routine")
	slog.Warn("[test] something odd", "n", 3)
	diag.Close()

	if !strings.Contains(console.String(), "routine") || !strings.Contains(console.String(), "something odd") {
		t.Fatalf("console output = %q", console.String())
	}
	recent := diag.ring.Recent(0)
	if len(recent) != 1 || recent[0].Message != "[test] something odd n=3" {
		t.Fatalf("ring = %+v", recent)
	}
	if diag.store == nil {
		t.Fatal("diagnostics store not opened")
	}

	// The warning survives into a later run.
	diag2 := setupLogging(&console, false, dbPath)
	defer diag2.Close()
	entries, err := diag2.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message != "[test] something odd n=3" {
		t.Fatalf("stored entries = %+v", entries)
	}
}

func TestSetupLoggingWithoutStore(t *testing.T) {
	restoreLifecycleSeams(t)
	var console bytes.Buffer
	// A regular file where the directory should be makes Open fail.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	diag := setupLogging(&console, false, filepath.Join(blocker, "diagnostics.db"))
	defer diag.Close()

	if diag.store != nil {
		t.Fatal("store opened under a regular file")
	}
	if !strings.Contains(console.String(), "diagnostics store unavailable") {
		t.Fatalf("console output = %q", console.String())
	}
	if len(diag.ring.Recent(0)) != 1 {
		t.Fatal("store failure warning not kept in memory")
	}
}

func TestWaitWithTimeout(t *testing.T) {
	if !waitWithTimeout(func() {}, time.Second) {
		t.Fatal("waitWithTimeout() = false for an immediate wait")
	}
	block := make(chan struct{})
	defer close(block)
	if waitWithTimeout(func() { <-block }, 20*time.Millisecond) {
		t.Fatal("waitWithTimeout() = true for a blocked wait")
	}
}
