package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"keybubbles/internal/autostart"
	"keybubbles/internal/bubble"
	"keybubbles/internal/combo"
	"keybubbles/internal/config"
	"keybubbles/internal/input"
	"keybubbles/internal/ipc"
	"keybubbles/internal/keys"
	"keybubbles/internal/overlay"
	"keybubbles/internal/render"
	"keybubbles/internal/settingsweb"
	"keybubbles/internal/tray"
	"keybubbles/internal/wsserver"
)

// trayUI is the system tray surface. tray.UI implements it.
type trayUI interface {
	Start() error
	Stop()
}

// hotkeyRegistrar owns the global pause shortcut. hotkeys.Manager
// implements it.
type hotkeyRegistrar interface {
	Start(spec string, onTrigger func()) error
	Stop() error
}

// appOptions are fixed at construction.
type appOptions struct {
	// configPath defaults to config.DefaultPath().
	configPath string
	// controlEndpoint defaults to ipc.DefaultEndpoint().
	controlEndpoint string
	// hubAddr defaults to a free loopback port.
	hubAddr string
	// diagnostics provides the recent-warnings list for the settings page.
	diagnostics *diagnosticsLog
}

// App is the Wails-bound process context. It owns every component from the
// input hook to the overlay frame stream.
type App struct {
	opts appOptions // INVARIANT: immutable after NewApp.

	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Set once during startup before any worker goroutine runs; read-only
	// afterwards.
	store      *config.Store
	persister  *config.Persister
	watcher    *config.Watcher
	controller *tray.Controller
	tray       trayUI
	listener   *input.Listener
	runner     *combo.Runner
	bubbles    *bubble.Manager
	loop       *render.Loop
	measurer   *render.FontMeasurer
	follower   *overlay.Follower
	hub        *wsserver.Hub
	settings   *settingsweb.Server
	control    *ipc.Server
	autostart  autostart.Manager
	hotkey     hotkeyRegistrar
	gate       chan keys.Event

	// autostartMu serializes registry syncs and guards autostartWant.
	autostartMu   sync.Mutex
	autostartWant *bool

	// hotkeyMu guards hotkeySpec, the last requested pause shortcut.
	hotkeyMu   sync.Mutex
	hotkeySpec string

	unsubscribeConfig func()
	unsubscribePause  func()

	fatalMu  sync.Mutex
	fatalErr error

	shuttingDown  atomic.Bool
	workersCancel context.CancelFunc
	bgWG          sync.WaitGroup
}

// NewApp creates the app service. Nothing runs until startup.
func NewApp(opts appOptions) *App {
	if opts.configPath == "" {
		opts.configPath = config.DefaultPath()
	}
	return &App{opts: opts}
}

func (a *App) setRuntimeContext(ctx context.Context) {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ctxMu.Unlock()
}

func (a *App) runtimeContext() context.Context {
	a.ctxMu.RLock()
	ctx := a.ctx
	a.ctxMu.RUnlock()
	return ctx
}

// GetFrameStreamURL returns the WebSocket endpoint the overlay page
// subscribes to, or "" when the hub failed to start.
func (a *App) GetFrameStreamURL() string {
	if a.hub == nil {
		slog.Debug("[WS] hub is nil, frame stream URL unavailable")
		return ""
	}
	return a.hub.URL()
}

// Err returns the fatal error that ended the run, if any.
func (a *App) Err() error {
	a.fatalMu.Lock()
	defer a.fatalMu.Unlock()
	return a.fatalErr
}
