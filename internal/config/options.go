package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"keybubbles/internal/hotkeys"
)

// ErrUnknownOption is returned for option names that do not exist.
var ErrUnknownOption = errors.New("unknown option")

// ValidationError reports a rejected option value. The store keeps the
// previous value when it returns one.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %v for %s: %s", e.Value, e.Field, e.Reason)
}

// Option groups.
const (
	GroupAppearance = "appearance"
	GroupSize       = "size"
	GroupPosition   = "position"
	GroupBehavior   = "behavior"
	GroupStartup    = "startup"
)

// Kind is the value type of an option.
type Kind string

const (
	KindColor  Kind = "color"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindEnum   Kind = "enum"
	KindString Kind = "string"
)

// OptionInfo describes one option for the settings surface.
type OptionInfo struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Group   string   `json:"group"`
	Kind    Kind     `json:"kind"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
	Default any      `json:"default"`
}

const (
	maxFontFamilyLen = 64
	maxHotkeyLen     = 32
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// ValidColor reports whether s is #rgb, #rrggbb or #rrggbbaa.
func ValidColor(s string) bool { return colorPattern.MatchString(s) }

type option struct {
	info OptionInfo
	get  func(*Config) any
	// set converts and stores v. With clamp, out-of-range numbers are pulled
	// into range instead of rejected; type errors are always rejected.
	set func(c *Config, v any, clamp bool) error
	// repair fixes an invalid field in place and reports whether it changed.
	repair func(c *Config) bool
}

func intOption(name, label, group string, lo, hi int, field func(*Config) *int) option {
	return option{
		info: OptionInfo{Name: name, Label: label, Group: group, Kind: KindInt, Min: float64(lo), Max: float64(hi), Step: 1},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, clamp bool) error {
			n, ok := toInt(v)
			if !ok {
				return &ValidationError{Field: name, Value: v, Reason: "expected an integer"}
			}
			if n < lo || n > hi {
				if !clamp {
					return &ValidationError{Field: name, Value: v, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
				}
				n = min(max(n, lo), hi)
			}
			*field(c) = n
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			fixed := min(max(*p, lo), hi)
			changed := fixed != *p
			*p = fixed
			return changed
		},
	}
}

func floatOption(name, label, group string, lo, hi, step float64, field func(*Config) *float64) option {
	return option{
		info: OptionInfo{Name: name, Label: label, Group: group, Kind: KindFloat, Min: lo, Max: hi, Step: step},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, clamp bool) error {
			f, ok := toFloat(v)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return &ValidationError{Field: name, Value: v, Reason: "expected a number"}
			}
			if f < lo || f > hi {
				if !clamp {
					return &ValidationError{Field: name, Value: v, Reason: fmt.Sprintf("must be between %g and %g", lo, hi)}
				}
				f = min(max(f, lo), hi)
			}
			*field(c) = f
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			if math.IsNaN(*p) {
				*p = lo
				return true
			}
			fixed := min(max(*p, lo), hi)
			changed := fixed != *p
			*p = fixed
			return changed
		},
	}
}

func boolOption(name, label, group string, field func(*Config) *bool) option {
	return option{
		info: OptionInfo{Name: name, Label: label, Group: group, Kind: KindBool},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, _ bool) error {
			b, ok := toBool(v)
			if !ok {
				return &ValidationError{Field: name, Value: v, Reason: "expected true or false"}
			}
			*field(c) = b
			return nil
		},
		repair: func(*Config) bool { return false },
	}
}

func colorOption(name, label string, field func(*Config) *string, fallback func() string) option {
	return option{
		info: OptionInfo{Name: name, Label: label, Group: GroupAppearance, Kind: KindColor},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, _ bool) error {
			s, ok := v.(string)
			s = strings.TrimSpace(s)
			if !ok || !ValidColor(s) {
				return &ValidationError{Field: name, Value: v, Reason: "expected #rgb, #rrggbb or #rrggbbaa"}
			}
			*field(c) = strings.ToLower(s)
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			if ValidColor(*p) {
				*p = strings.ToLower(*p)
				return false
			}
			*p = fallback()
			return true
		},
	}
}

func enumOption(name, label, group string, allowed []string, field func(*Config) *string, fallback func() string) option {
	match := func(v any) (string, bool) {
		s, ok := v.(string)
		if !ok {
			return "", false
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, a := range allowed {
			if s == a {
				return a, true
			}
		}
		return "", false
	}
	return option{
		info: OptionInfo{Name: name, Label: label, Group: group, Kind: KindEnum, Allowed: allowed},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, _ bool) error {
			s, ok := match(v)
			if !ok {
				return &ValidationError{Field: name, Value: v, Reason: "must be one of " + strings.Join(allowed, ", ")}
			}
			*field(c) = s
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			if s, ok := match(*p); ok {
				*p = s
				return false
			}
			*p = fallback()
			return true
		},
	}
}

func fontOption(name, label string, field func(*Config) *string, fallback func() string) option {
	return option{
		info: OptionInfo{Name: name, Label: label, Group: GroupAppearance, Kind: KindString, Max: maxFontFamilyLen},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, _ bool) error {
			s, ok := v.(string)
			s = strings.TrimSpace(s)
			if !ok || !validFontFamily(s) {
				return &ValidationError{Field: name, Value: v, Reason: fmt.Sprintf("expected a printable font name of at most %d characters", maxFontFamilyLen)}
			}
			*field(c) = s
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			trimmed := strings.TrimSpace(*p)
			if validFontFamily(trimmed) {
				*p = trimmed
				return false
			}
			*p = fallback()
			return true
		},
	}
}

// hotkeyOption accepts a global shortcut such as "Ctrl+Alt+K" and stores its
// canonical form. An empty value disables the shortcut.
func hotkeyOption(name, label, group string, field func(*Config) *string, fallback func() string) option {
	canonical := func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", errors.New("expected a string")
		}
		b, err := hotkeys.ParseBinding(s)
		if errors.Is(err, hotkeys.ErrEmpty) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return b.String(), nil
	}
	return option{
		info: OptionInfo{Name: name, Label: label, Group: group, Kind: KindString, Max: maxHotkeyLen},
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, v any, _ bool) error {
			s, err := canonical(v)
			if err != nil {
				return &ValidationError{Field: name, Value: v, Reason: err.Error()}
			}
			*field(c) = s
			return nil
		},
		repair: func(c *Config) bool {
			p := field(c)
			s, err := canonical(*p)
			if err != nil {
				*p = fallback()
				return true
			}
			*p = s
			return false
		},
	}
}

func validFontFamily(s string) bool {
	if s == "" || !utf8.ValidString(s) || utf8.RuneCountInString(s) > maxFontFamilyLen {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// optionTable is the ordered option registry.
// INVARIANT: immutable after init.
var optionTable = buildOptionTable()

var optionIndex = func() map[string]int {
	idx := make(map[string]int, len(optionTable))
	for i, opt := range optionTable {
		idx[opt.info.Name] = i
	}
	return idx
}()

func buildOptionTable() []option {
	def := DefaultConfig()
	table := []option{
		colorOption("bg_color", "Background color", func(c *Config) *string { return &c.BgColor }, func() string { return def.BgColor }),
		colorOption("text_color", "Text color", func(c *Config) *string { return &c.TextColor }, func() string { return def.TextColor }),
		colorOption("border_color", "Border color", func(c *Config) *string { return &c.BorderColor }, func() string { return def.BorderColor }),
		boolOption("show_border", "Show border", GroupAppearance, func(c *Config) *bool { return &c.ShowBorder }),
		fontOption("font_family", "Font", func(c *Config) *string { return &c.FontFamily }, func() string { return def.FontFamily }),
		intOption("font_size", "Font size", GroupAppearance, 8, 72, func(c *Config) *int { return &c.FontSize }),
		boolOption("font_bold", "Bold", GroupAppearance, func(c *Config) *bool { return &c.FontBold }),

		intOption("padding", "Padding", GroupSize, 4, 40, func(c *Config) *int { return &c.Padding }),
		intOption("min_bubble_width", "Minimum bubble width", GroupSize, 20, 200, func(c *Config) *int { return &c.MinBubbleWidth }),
		intOption("border_radius", "Corner radius", GroupSize, 0, 100, func(c *Config) *int { return &c.BorderRadius }),
		intOption("border_width", "Border width", GroupSize, 1, 10, func(c *Config) *int { return &c.BorderWidth }),
		intOption("overlay_height", "Overlay height", GroupSize, 40, 300, func(c *Config) *int { return &c.OverlayHeight }),
		intOption("bubble_spacing", "Bubble spacing", GroupSize, 2, 50, func(c *Config) *int { return &c.BubbleSpacing }),

		enumOption("position_horizontal", "Horizontal position", GroupPosition, []string{AlignLeft, AlignCenter, AlignRight},
			func(c *Config) *string { return &c.PositionHorizontal }, func() string { return def.PositionHorizontal }),
		enumOption("position_vertical", "Vertical position", GroupPosition, []string{AlignTop, AlignBottom},
			func(c *Config) *string { return &c.PositionVertical }, func() string { return def.PositionVertical }),
		intOption("margin_vertical", "Vertical margin", GroupPosition, 0, 500, func(c *Config) *int { return &c.MarginVertical }),
		intOption("margin_horizontal", "Horizontal offset", GroupPosition, -500, 500, func(c *Config) *int { return &c.MarginHorizontal }),

		floatOption("fade_speed", "Fade speed (opacity/second)", GroupBehavior, 0.1, 2.0, 0.1, func(c *Config) *float64 { return &c.FadeSpeed }),
		intOption("max_keys", "Maximum bubbles", GroupBehavior, 1, 20, func(c *Config) *int { return &c.MaxKeys }),
		intOption("aggregation_window_ms", "Combo window (ms)", GroupBehavior, 10, 500, func(c *Config) *int { return &c.AggregationWindowMS }),
		intOption("modifier_timeout_ms", "Lone modifier delay (ms)", GroupBehavior, 100, 2000, func(c *Config) *int { return &c.ModifierTimeoutMS }),
		boolOption("show_mouse_clicks", "Show mouse clicks", GroupBehavior, func(c *Config) *bool { return &c.ShowMouseClicks }),
		intOption("frame_rate", "Frame rate", GroupBehavior, 15, 144, func(c *Config) *int { return &c.FrameRate }),
		hotkeyOption("pause_hotkey", "Pause hotkey", GroupBehavior, func(c *Config) *string { return &c.PauseHotkey }, func() string { return def.PauseHotkey }),

		boolOption("start_minimized", "Start minimized", GroupStartup, func(c *Config) *bool { return &c.StartMinimized }),
		boolOption("start_with_windows", "Start with Windows", GroupStartup, func(c *Config) *bool { return &c.StartWithWindows }),
	}
	for i := range table {
		table[i].info.Default = table[i].get(&def)
	}
	return table
}

func lookupOption(name string) (option, bool) {
	i, ok := optionIndex[strings.TrimSpace(name)]
	if !ok {
		return option{}, false
	}
	return optionTable[i], true
}

// Options describes every option in display order.
func Options() []OptionInfo {
	out := make([]OptionInfo, 0, len(optionTable))
	for _, opt := range optionTable {
		info := opt.info
		if info.Allowed != nil {
			info.Allowed = append([]string(nil), info.Allowed...)
		}
		out = append(out, info)
	}
	return out
}

// Value returns the named option from cfg.
func Value(cfg Config, name string) (any, error) {
	opt, ok := lookupOption(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	return opt.get(&cfg), nil
}

// SetValue validates value and stores it into cfg. On error cfg is unchanged.
func SetValue(cfg *Config, name string, value any) error {
	opt, ok := lookupOption(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	return opt.set(cfg, value, false)
}

// Validate checks every option of cfg and returns the first *ValidationError.
func Validate(cfg Config) error {
	for _, opt := range optionTable {
		scratch := cfg
		if err := opt.set(&scratch, opt.get(&cfg), false); err != nil {
			return err
		}
	}
	return nil
}

// Normalize clamps every numeric option into range and replaces malformed
// colors, fonts and enum values with defaults. It returns one warning per
// repaired field.
func Normalize(cfg Config) (Config, []string) {
	var warnings []string
	for _, opt := range optionTable {
		before := opt.get(&cfg)
		if opt.repair(&cfg) {
			warnings = append(warnings, fmt.Sprintf("%s=%v is invalid; using %v", opt.info.Name, before, opt.get(&cfg)))
		}
	}
	return cfg, warnings
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return toInt(f)
		}
		return toInt(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}
