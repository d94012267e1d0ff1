package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"keybubbles/internal/config"
	"keybubbles/internal/diaglog"
	"keybubbles/internal/sessionlog"
)

const recentWarningsShown = 20

// diagnosticsLog is the logging pipeline: a text handler for the console,
// teed at Warn into an in-memory ring for the settings page and into the
// SQLite store for later runs.
type diagnosticsLog struct {
	ring  *sessionlog.Ring
	store *diaglog.Store
	sink  *sessionlog.StoreSink
}

// diagnosticsPath is the database next to the config file.
func diagnosticsPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), diaglog.FileName)
}

// setupLogging installs the default slog logger. A store that fails to open
// leaves the ring in place; the failure is logged once the logger is set.
func setupLogging(w io.Writer, verbose bool, dbPath string) *diagnosticsLog {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	d := &diagnosticsLog{ring: sessionlog.NewRing(sessionlog.DefaultRingSize)}
	store, openErr := diaglog.Open(dbPath, diaglog.DefaultRetention)
	sinks := []sessionlog.Sink{d.ring}
	if openErr == nil {
		d.store = store
		d.sink = sessionlog.NewStoreSink(store, 0)
		sinks = append(sinks, d.sink)
	}
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, sinks...)))
	if openErr != nil {
		slog.Warn("[diag] diagnostics store unavailable; warnings kept in memory only", "path", dbPath, "error", openErr)
	}
	return d
}

// Close drains pending writes and closes the store.
func (d *diagnosticsLog) Close() {
	if d == nil {
		return
	}
	if d.sink != nil {
		d.sink.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "[diag] close diagnostics store: %v\n", err)
		}
	}
}

type warningView struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type diagnosticsView struct {
	Paused         bool          `json:"paused"`
	Bubbles        int           `json:"bubbles"`
	DroppedEvents  uint64        `json:"dropped_events"`
	StreamClients  int           `json:"stream_clients"`
	ConfigPath     string        `json:"config_path"`
	DatabasePath   string        `json:"database_path,omitempty"`
	StoredWarnings int           `json:"stored_warnings"`
	RecentWarnings []warningView `json:"recent_warnings"`
}

// diagnosticsSnapshot serves GET /api/diagnostics.
func (a *App) diagnosticsSnapshot(ctx context.Context) (any, error) {
	view := diagnosticsView{
		ConfigPath:     a.opts.configPath,
		RecentWarnings: []warningView{},
	}
	if a.controller != nil {
		view.Paused = a.controller.Paused()
	}
	if a.bubbles != nil {
		view.Bubbles = a.bubbles.Len()
	}
	if a.listener != nil {
		view.DroppedEvents = a.listener.Dropped()
	}
	if a.hub != nil {
		view.StreamClients = a.hub.ClientCount()
	}

	d := a.opts.diagnostics
	if d == nil {
		return view, nil
	}
	for _, e := range d.ring.Recent(recentWarningsShown) {
		view.RecentWarnings = append(view.RecentWarnings, warningView{
			Time:    e.Time.Format("15:04:05"),
			Level:   e.Level.String(),
			Message: e.Message,
		})
	}
	if d.store != nil {
		view.DatabasePath = d.store.Path()
		n, err := d.store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count stored warnings: %w", err)
		}
		view.StoredWarnings = n
	}
	return view, nil
}

// loadConfigForCLI reads the config without creating it; CLI commands must
// not write files as a side effect of reading. A file that is not valid YAML
// yields the defaults.
func loadConfigForCLI() (config.Config, string, error) {
	path := defaultConfigPath()
	cfg, err := config.Load(path)
	if err != nil && !errors.Is(err, config.ErrInvalidFile) {
		return cfg, path, err
	}
	return cfg, path, nil
}
