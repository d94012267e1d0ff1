package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPreset is returned by ApplyPreset for names not in PresetNames.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named color scheme. Applying one overwrites exactly these fields.
type Preset struct {
	Name        string `json:"name"`
	BgColor     string `json:"bg_color"`
	TextColor   string `json:"text_color"`
	BorderColor string `json:"border_color"`
	ShowBorder  bool   `json:"show_border"`
}

// INVARIANT: immutable after init.
var presets = []Preset{
	{Name: "Dark", BgColor: "#2b2b2b", TextColor: "#ffffff", BorderColor: "#555555", ShowBorder: true},
	{Name: "Light", BgColor: "#ffffff", TextColor: "#333333", BorderColor: "#cccccc", ShowBorder: true},
	{Name: "Minimal", BgColor: "#000000", TextColor: "#ffffff", BorderColor: "#000000", ShowBorder: false},
	{Name: "Colorful", BgColor: "#4a90d9", TextColor: "#ffffff", BorderColor: "#2e6bb0", ShowBorder: true},
}

// Presets returns the built-in presets in menu order.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// PresetNames returns the preset names in menu order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.Name)
	}
	return names
}

// LookupPreset finds a preset by case-insensitive name.
func LookupPreset(name string) (Preset, error) {
	trimmed := strings.TrimSpace(name)
	for _, p := range presets {
		if strings.EqualFold(p.Name, trimmed) {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// Apply returns cfg with the preset's fields written.
func (p Preset) Apply(cfg Config) Config {
	cfg.BgColor = p.BgColor
	cfg.TextColor = p.TextColor
	cfg.BorderColor = p.BorderColor
	cfg.ShowBorder = p.ShowBorder
	return cfg
}
