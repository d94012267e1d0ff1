// Package config holds the KeyBubbles option set, its YAML persistence and the
// in-memory Store shared by the overlay, tray and settings surfaces.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	// AppDirName is the per-user directory under LOCALAPPDATA.
	AppDirName = "KeyBubbles"
	// FileName is the config file inside AppDirName.
	FileName = "config.yaml"

	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Antivirus and indexers hold fresh files briefly on Windows.
	// Linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
)

// ErrInvalidFile wraps YAML parse failures. Load still returns defaults with it.
var ErrInvalidFile = errors.New("config file is not valid YAML")

// defaultConfigDirFn is a test seam for validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir

var pendingWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	pendingWarningState.mu.Lock()
	pendingWarningState.messages = append(pendingWarningState.messages, trimmed)
	pendingWarningState.mu.Unlock()
}

// ConsumeWarnings returns and clears the user-visible warnings recorded by
// DefaultPath and Load (path fallback, clamped values, unreadable file).
func ConsumeWarnings() []string {
	pendingWarningState.mu.Lock()
	defer pendingWarningState.mu.Unlock()
	if len(pendingWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(pendingWarningState.messages))
	copy(out, pendingWarningState.messages)
	pendingWarningState.messages = nil
	return out
}

// Config is the complete option set. YAML keys match the option names used
// by Store.Get/Set and the settings API.
type Config struct {
	// appearance
	BgColor     string `yaml:"bg_color" json:"bg_color"`
	TextColor   string `yaml:"text_color" json:"text_color"`
	BorderColor string `yaml:"border_color" json:"border_color"`
	ShowBorder  bool   `yaml:"show_border" json:"show_border"`
	FontFamily  string `yaml:"font_family" json:"font_family"`
	FontSize    int    `yaml:"font_size" json:"font_size"`
	FontBold    bool   `yaml:"font_bold" json:"font_bold"`

	// size
	Padding        int `yaml:"padding" json:"padding"`
	MinBubbleWidth int `yaml:"min_bubble_width" json:"min_bubble_width"`
	BorderRadius   int `yaml:"border_radius" json:"border_radius"`
	BorderWidth    int `yaml:"border_width" json:"border_width"`
	OverlayHeight  int `yaml:"overlay_height" json:"overlay_height"`
	BubbleSpacing  int `yaml:"bubble_spacing" json:"bubble_spacing"`

	// position
	PositionHorizontal string `yaml:"position_horizontal" json:"position_horizontal"`
	PositionVertical   string `yaml:"position_vertical" json:"position_vertical"`
	MarginVertical     int    `yaml:"margin_vertical" json:"margin_vertical"`
	MarginHorizontal   int    `yaml:"margin_horizontal" json:"margin_horizontal"`

	// behavior
	FadeSpeed           float64 `yaml:"fade_speed" json:"fade_speed"`
	MaxKeys             int     `yaml:"max_keys" json:"max_keys"`
	AggregationWindowMS int     `yaml:"aggregation_window_ms" json:"aggregation_window_ms"`
	ModifierTimeoutMS   int     `yaml:"modifier_timeout_ms" json:"modifier_timeout_ms"`
	ShowMouseClicks     bool    `yaml:"show_mouse_clicks" json:"show_mouse_clicks"`
	FrameRate           int     `yaml:"frame_rate" json:"frame_rate"`
	PauseHotkey         string  `yaml:"pause_hotkey" json:"pause_hotkey"`

	// startup
	StartMinimized   bool `yaml:"start_minimized" json:"start_minimized"`
	StartWithWindows bool `yaml:"start_with_windows" json:"start_with_windows"`
}

// Alignment values.
const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"
	AlignTop    = "top"
	AlignBottom = "bottom"
)

// DefaultConfig returns the built-in option values (the Dark preset).
func DefaultConfig() Config {
	return Config{
		BgColor:     "#2b2b2b",
		TextColor:   "#ffffff",
		BorderColor: "#555555",
		ShowBorder:  true,
		FontFamily:  "Segoe UI",
		FontSize:    20,
		FontBold:    true,

		Padding:        15,
		MinBubbleWidth: 55,
		BorderRadius:   25,
		BorderWidth:    3,
		OverlayHeight:  80,
		BubbleSpacing:  10,

		PositionHorizontal: AlignCenter,
		PositionVertical:   AlignBottom,
		MarginVertical:     50,
		MarginHorizontal:   0,

		FadeSpeed:           0.5,
		MaxKeys:             10,
		AggregationWindowMS: 50,
		ModifierTimeoutMS:   400,
		ShowMouseClicks:     false,
		FrameRate:           60,
		PauseHotkey:         "Ctrl+Alt+K",

		StartMinimized:   true,
		StartWithWindows: false,
	}
}

// AggregationWindow returns aggregation_window_ms as a duration.
func (c Config) AggregationWindow() time.Duration {
	return time.Duration(c.AggregationWindowMS) * time.Millisecond
}

// ModifierTimeout returns modifier_timeout_ms as a duration.
func (c Config) ModifierTimeout() time.Duration {
	return time.Duration(c.ModifierTimeoutMS) * time.Millisecond
}

// FrameInterval returns the render tick period for frame_rate.
func (c Config) FrameInterval() time.Duration {
	rate := c.FrameRate
	if rate <= 0 {
		rate = DefaultConfig().FrameRate
	}
	return time.Second / time.Duration(rate)
}

// DefaultPath resolves the config file path, preferring LOCALAPPDATA over
// APPDATA, then ~/.config, then os.TempDir() if the home directory cannot be
// resolved. The temp-dir fallback is not a stable persistence location.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/home directory. Using temp directory; settings may not persist.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppDirName, FileName)
}

// Load reads the config file. A missing or empty file yields defaults.
// Each known key is applied on its own: a value of the wrong type keeps the
// default, an out-of-range number is clamped, and both are reported through
// ConsumeWarnings. A file that is not valid YAML yields defaults and an error
// wrapping ErrInvalidFile; callers treat that as a warning, not a failure.
func Load(path string) (Config, error) {
	cfg, warnings, err := load(path)
	for _, warning := range warnings {
		recordWarning(warning)
	}
	return cfg, err
}

// load is Load without the pending-warning list. Every warning is logged
// here; the caller decides whether to keep them.
func load(path string) (Config, []string, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil, nil
		}
		return cfg, nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil, nil
	}

	var rawMap map[string]any
	if err := yaml.Unmarshal(raw, &rawMap); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		warning := fmt.Sprintf("Config file %s could not be parsed; defaults are in use.", path)
		return DefaultConfig(), []string{warning}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	warnings := applyRawValues(&cfg, rawMap)
	for _, warning := range warnings {
		slog.Warn("[WARN-CONFIG] "+warning, "path", path)
	}
	return cfg, warnings, nil
}

// applyRawValues copies every recognised key from rawMap into cfg and
// returns a warning per key it had to repair or ignore.
func applyRawValues(cfg *Config, rawMap map[string]any) []string {
	var warnings []string
	keys := make([]string, 0, len(rawMap))
	for key := range rawMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := rawMap[key]
		opt, ok := lookupOption(key)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown option %q ignored", key))
			continue
		}
		err := opt.set(cfg, value, false)
		if err == nil {
			continue
		}
		if clampErr := opt.set(cfg, value, true); clampErr == nil {
			warnings = append(warnings, fmt.Sprintf("%s=%v out of range; clamped to %v", key, value, opt.get(cfg)))
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: %v; using %v", key, err, opt.get(cfg)))
	}
	return warnings
}

// EnsureFile writes the default config if the file is missing and returns
// the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Marshal normalizes cfg and encodes it as YAML.
func Marshal(cfg Config) ([]byte, error) {
	normalized, _ := Normalize(cfg)
	raw, err := yaml.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return raw, nil
}

// ContentHash identifies file contents for self-write detection.
func ContentHash(raw []byte) [sha256.Size]byte {
	return sha256.Sum256(raw)
}

// Save normalizes cfg, writes it atomically and returns what was written.
func Save(path string, cfg Config) (Config, error) {
	normalized, _ := Normalize(cfg)
	raw, err := Marshal(normalized)
	if err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}
	if err := WriteFile(path, raw); err != nil {
		return cfg, err
	}
	return normalized, nil
}

// WriteFile atomically replaces the config file at path with raw.
func WriteFile(path string, raw []byte) error {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return err
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", normalizedPath)
	return nil
}

// atomicWrite writes data to a temp file in the target directory, fsyncs it
// and renames it over path. A crash leaves either the old or the new file.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath keeps writes inside the default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir reports whether path is dir or below it. filepath.Rel
// returns an absolute path across Windows drives, which is rejected too.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
