// Package settingsweb serves the settings page and its JSON API. Handlers
// are mounted on the frame-stream listener, which only binds to loopback.
package settingsweb

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"keybubbles/internal/config"
)

//go:embed settings.html
var settingsPage []byte

// maxBodyBytes bounds request bodies; option values are tiny.
const maxBodyBytes = 64 * 1024

const diagnosticsTimeout = 3 * time.Second

// DiagnosticsFunc reports runtime state for GET /api/diagnostics.
type DiagnosticsFunc func(ctx context.Context) (any, error)

// Server exposes a config.Store over HTTP.
type Server struct {
	store       *config.Store
	diagnostics DiagnosticsFunc
}

// New creates a server for store. diagnostics may be nil.
func New(store *config.Store, diagnostics DiagnosticsFunc) *Server {
	return &Server{store: store, diagnostics: diagnostics}
}

// Mounter is satisfied by *http.ServeMux and *wsserver.Hub.
type Mounter interface {
	Handle(pattern string, handler http.Handler)
}

// Mount registers every route on m. Every route requires a loopback Host;
// mutating routes also require a same-origin request with a JSON body type.
func (s *Server) Mount(m Mounter) {
	m.Handle("GET /{$}", readOnly(http.RedirectHandler("/settings", http.StatusFound)))
	m.Handle("GET /settings", readOnly(http.HandlerFunc(s.handlePage)))
	m.Handle("GET /api/config", readOnly(http.HandlerFunc(s.handleGetConfig)))
	m.Handle("PUT /api/config", mutating(http.HandlerFunc(s.handlePutConfig)))
	m.Handle("GET /api/options", readOnly(http.HandlerFunc(s.handleOptions)))
	m.Handle("PUT /api/options/{name}", mutating(http.HandlerFunc(s.handleSetOption)))
	m.Handle("GET /api/presets", readOnly(http.HandlerFunc(s.handlePresets)))
	m.Handle("POST /api/presets/{name}", mutating(http.HandlerFunc(s.handleApplyPreset)))
	m.Handle("POST /api/reset", mutating(http.HandlerFunc(s.handleReset)))
	m.Handle("GET /api/diagnostics", readOnly(http.HandlerFunc(s.handleDiagnostics)))
}

// readOnly rejects requests addressed to anything but the loopback listener.
// A foreign Host means DNS rebinding.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r) {
			slog.Warn("[settings] rejected request with foreign host", "host", r.Host, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, errorBody{Error: "host not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mutating adds the cross-site checks. A cross-origin page cannot send an
// application/json body without a preflight, which is never answered.
func mutating(next http.Handler) http.Handler {
	return readOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && origin != "http://"+r.Host {
			slog.Warn("[settings] rejected cross-origin request", "origin", origin, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, errorBody{Error: "origin not allowed"})
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "content type must be application/json"})
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// loopbackHost reports whether r.Host names a loopback address and, when the
// listener address is known, the listener's port.
func loopbackHost(r *http.Request) bool {
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		return false
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return false
		}
	}
	if local, ok := r.Context().Value(http.LocalAddrContextKey).(*net.TCPAddr); ok {
		return port == strconv.Itoa(local.Port)
	}
	return true
}

// Handler returns a standalone handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Mount(mux)
	return mux
}

// OptionState is one option with its current value.
type OptionState struct {
	config.OptionInfo
	Value any `json:"value"`
}

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("[settings] response write failed", "error", err)
	}
}

// writeError maps store errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var vErr *config.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Field: vErr.Field, Reason: vErr.Reason})
	case errors.Is(err, config.ErrUnknownOption), errors.Is(err, config.ErrUnknownPreset):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(settingsPage); err != nil {
		slog.Debug("[settings] page write failed", "error", err)
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	// Start from the current values so a partial document only touches
	// the fields it names.
	next := s.store.Snapshot()
	if err := decodeBody(w, r, &next); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Replace(next); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.Snapshot()
	infos := s.store.Options()
	out := make([]OptionState, 0, len(infos))
	for _, info := range infos {
		value, err := config.Value(cfg, info.Name)
		if err != nil {
			slog.Warn("[settings] option without value", "name", info.Name, "error", err)
			continue
		}
		out = append(out, OptionState{OptionInfo: info, Value: value})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetOption(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Set(name, body.Value); err != nil {
		writeError(w, err)
		return
	}
	value, err := s.store.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.Presets())
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ApplyPreset(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.store.Reset()
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), diagnosticsTimeout)
	defer cancel()
	report, err := s.diagnostics(ctx)
	if err != nil {
		slog.Warn("[settings] diagnostics failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
