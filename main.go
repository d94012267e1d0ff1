package main

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"keybubbles/internal/config"
	"keybubbles/internal/ipc"
	"keybubbles/internal/overlay"
	"keybubbles/internal/singleinstance"
)

//go:embed all:frontend/dist
var assets embed.FS

// Test seams for runApp.
var (
	tryLockFn         = singleinstance.TryLock
	sendControlFn     = ipc.Send
	runWailsFn        = wails.Run
	defaultConfigPath = config.DefaultPath
)

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		os.Exit(code)
	}
}

// runApp runs the overlay until the user quits. A second launch hands over
// to the running instance by asking it to open the settings page.
func runApp(verbose bool) error {
	configPath := defaultConfigPath()
	diag := setupLogging(os.Stderr, verbose, diagnosticsPath(configPath))
	defer diag.Close()

	// Single-instance check before any WebView initialization.
	lock, err := tryLockFn(singleinstance.DefaultMutexName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[single] another instance is running, opening its settings")
		if _, sendErr := sendControlFn("", ipc.Request{Command: ipc.CommandSettings}); sendErr != nil {
			slog.Warn("[single] failed to signal running instance", "error", sendErr)
		}
		return nil
	}
	if err != nil {
		slog.Warn("[single] instance lock failed, continuing without it", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[single] instance lock release failed", "error", releaseErr)
			}
		}()
	}

	app := NewApp(appOptions{configPath: configPath, diagnostics: diag})
	err = runWailsFn(&options.App{
		Title:            overlay.WindowTitle,
		Width:            800,
		Height:           120,
		Frameless:        true,
		AlwaysOnTop:      true,
		DisableResize:    true,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		Windows: &windows.Options{
			WebviewIsTransparent:              true,
			WindowIsTranslucent:               false,
			DisableWindowIcon:                 true,
			DisableFramelessWindowDecorations: true,
		},
		OnStartup:  app.startup,
		OnDomReady: app.domReady,
		OnShutdown: app.shutdown,
		Bind: []any{
			app,
		},
	})
	if err != nil {
		return fmt.Errorf("run overlay: %w", err)
	}
	if fatal := app.Err(); fatal != nil {
		return &exitError{code: 1, err: fatal}
	}
	return nil
}
