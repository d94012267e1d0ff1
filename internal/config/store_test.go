package config

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestStoreSetAndGet(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "font_size", value: 32, want: 32},
		{name: "font_size", value: float64(24), want: 24},
		{name: "font_size", value: json.Number("18"), want: 18},
		{name: "font_size", value: "40", want: 40},
		{name: "fade_speed", value: 1, want: 1.0},
		{name: "fade_speed", value: "0.8", want: 0.8},
		{name: "show_border", value: false, want: false},
		{name: "show_border", value: "true", want: true},
		{name: "bg_color", value: "#FFF", want: "#fff"},
		{name: "bg_color", value: "#11223344", want: "#11223344"},
		{name: "position_horizontal", value: " Left ", want: "left"},
		{name: "margin_horizontal", value: -500, want: -500},
		{name: "font_family", value: "  Consolas ", want: "Consolas"},
		{name: "pause_hotkey", value: "shift+ctrl+p", want: "Ctrl+Shift+P"},
		{name: "pause_hotkey", value: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(DefaultConfig())
			if err := s.Set(tt.name, tt.value); err != nil {
				t.Fatalf("Set(%q, %v) error = %v", tt.name, tt.value, err)
			}
			got, err := s.Get(tt.name)
			if err != nil {
				t.Fatalf("Get(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Fatalf("Get(%q) = %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStoreSetRejectsAndKeepsPriorValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "font_size", value: 7},
		{name: "font_size", value: 73},
		{name: "font_size", value: 12.5},
		{name: "max_keys", value: 21},
		{name: "fade_speed", value: 0.05},
		{name: "fade_speed", value: "fast"},
		{name: "bg_color", value: "red"},
		{name: "bg_color", value: "#12345"},
		{name: "text_color", value: 42},
		{name: "position_vertical", value: "middle"},
		{name: "font_family", value: ""},
		{name: "font_family", value: "bad\x00name"},
		{name: "show_border", value: "sometimes"},
		{name: "border_width", value: 0},
		{name: "pause_hotkey", value: "P"},
		{name: "pause_hotkey", value: "Ctrl+Banana"},
		{name: "pause_hotkey", value: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(DefaultConfig())
			before := s.Snapshot()
			notified := false
			s.Subscribe(func(Config) { notified = true })

			err := s.Set(tt.name, tt.value)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Set(%q, %v) error = %v, want *ValidationError", tt.name, tt.value, err)
			}
			if verr.Field != tt.name {
				t.Fatalf("ValidationError.Field = %q, want %q", verr.Field, tt.name)
			}
			if s.Snapshot() != before {
				t.Fatal("rejected Set changed the configuration")
			}
			if notified {
				t.Fatal("rejected Set notified listeners")
			}
		})
	}
}

func TestStoreUnknownOption(t *testing.T) {
	s := NewStore(DefaultConfig())
	if err := s.Set("nope", 1); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("Set() error = %v, want ErrUnknownOption", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("Get() error = %v, want ErrUnknownOption", err)
	}
}

func TestStoreApplyPreset(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			s := NewStore(DefaultConfig())
			if err := s.Set("font_size", 33); err != nil {
				t.Fatal(err)
			}
			if err := s.ApplyPreset(p.Name); err != nil {
				t.Fatalf("ApplyPreset(%q) error = %v", p.Name, err)
			}
			cfg := s.Snapshot()
			if cfg.BgColor != p.BgColor || cfg.TextColor != p.TextColor || cfg.BorderColor != p.BorderColor || cfg.ShowBorder != p.ShowBorder {
				t.Fatalf("preset %s not applied: %+v", p.Name, cfg)
			}
			if cfg.FontSize != 33 {
				t.Fatalf("preset touched font_size: %d", cfg.FontSize)
			}
		})
	}

	s := NewStore(DefaultConfig())
	if err := s.ApplyPreset("minimal"); err != nil {
		t.Fatalf("ApplyPreset is case-insensitive: %v", err)
	}
	if s.Snapshot().ShowBorder {
		t.Fatal("Minimal preset should hide the border")
	}
	before := s.Snapshot()
	if err := s.ApplyPreset("Neon"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("ApplyPreset(Neon) error = %v, want ErrUnknownPreset", err)
	}
	if s.Snapshot() != before {
		t.Fatal("unknown preset changed the configuration")
	}
}

// A reader racing ApplyPreset must see either all four preset fields or none.
func TestStoreApplyPresetIsAtomic(t *testing.T) {
	s := NewStore(DefaultConfig())
	light, _ := LookupPreset("Light")
	dark, _ := LookupPreset("Dark")

	matches := func(cfg Config, p Preset) bool {
		return cfg.BgColor == p.BgColor && cfg.TextColor == p.TextColor && cfg.BorderColor == p.BorderColor && cfg.ShowBorder == p.ShowBorder
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Go(func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			name := "Light"
			if i%2 == 0 {
				name = "Dark"
			}
			if err := s.ApplyPreset(name); err != nil {
				t.Errorf("ApplyPreset: %v", err)
				return
			}
		}
	})
	for range 2000 {
		cfg := s.Snapshot()
		if !matches(cfg, light) && !matches(cfg, dark) {
			close(stop)
			wg.Wait()
			t.Fatalf("observed a partially applied preset: %+v", cfg)
		}
	}
	close(stop)
	wg.Wait()
}

func TestStoreSubscribeOrderAndCancel(t *testing.T) {
	s := NewStore(DefaultConfig())
	var order []string
	cancelA := s.Subscribe(func(cfg Config) { order = append(order, "a") })
	s.Subscribe(func(cfg Config) {
		order = append(order, "b")
		if cfg.MaxKeys != 7 {
			t.Errorf("listener snapshot MaxKeys = %d, want 7", cfg.MaxKeys)
		}
	})

	if err := s.Set("max_keys", 7); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("notification order = %v, want [a b]", order)
	}

	// Same value: no change, no notification.
	if err := s.Set("max_keys", 7); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 {
		t.Fatalf("unchanged Set notified listeners: %v", order)
	}

	cancelA()
	cancelA()
	order = nil
	s.Reset()
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("after cancel, order = %v, want [b]", order)
	}
	if s.Snapshot() != DefaultConfig() {
		t.Fatal("Reset() did not restore defaults")
	}
}

func TestStoreListenerMayCallBack(t *testing.T) {
	s := NewStore(DefaultConfig())
	s.Subscribe(func(cfg Config) {
		if cfg.FontSize == 30 {
			// Re-entrant call from inside a notification.
			if err := s.Set("padding", 20); err != nil {
				t.Errorf("nested Set: %v", err)
			}
		}
	})
	if err := s.Set("font_size", 30); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Padding; got != 20 {
		t.Fatalf("Padding = %d, want 20", got)
	}
}

func TestStoreReplace(t *testing.T) {
	s := NewStore(DefaultConfig())
	next := DefaultConfig()
	next.MaxKeys = 3
	next.BgColor = "#ABC"
	if err := s.Replace(next); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := s.Snapshot(); got.MaxKeys != 3 || got.BgColor != "#abc" {
		t.Fatalf("Replace() result = %+v", got)
	}

	bad := DefaultConfig()
	bad.FontSize = 1
	err := s.Replace(bad)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "font_size" {
		t.Fatalf("Replace(bad) error = %v, want font_size ValidationError", err)
	}
	if s.Snapshot().MaxKeys != 3 {
		t.Fatal("rejected Replace changed the configuration")
	}
}

func TestNewStoreNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FontSize = 1000
	cfg.PositionVertical = "sideways"
	cfg.PauseHotkey = "Ctrl+Nope"
	s := NewStore(cfg)
	got := s.Snapshot()
	if got.FontSize != 72 || got.PositionVertical != AlignBottom || got.PauseHotkey != "Ctrl+Alt+K" {
		t.Fatalf("NewStore() did not normalize: %+v", got)
	}
}

func TestOptionsDescribeEveryConfigField(t *testing.T) {
	infos := Options()
	if len(infos) != 26 {
		t.Fatalf("Options() returned %d entries, want 26", len(infos))
	}
	raw, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, info := range infos {
		if _, ok := fields[info.Name]; !ok {
			t.Errorf("option %q has no Config field", info.Name)
		}
		if seen[info.Name] {
			t.Errorf("option %q listed twice", info.Name)
		}
		seen[info.Name] = true
		if info.Group == "" || info.Label == "" {
			t.Errorf("option %q missing group or label", info.Name)
		}
		if info.Kind == KindInt || info.Kind == KindFloat {
			def, _ := toFloat(info.Default)
			if def < info.Min || def > info.Max {
				t.Errorf("option %q default %v outside [%v, %v]", info.Name, info.Default, info.Min, info.Max)
			}
		}
	}
	if len(seen) != len(fields) {
		t.Fatalf("Options() covers %d fields, Config has %d", len(seen), len(fields))
	}
}

func TestValidateDefaultsAndPresets(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("Validate(DefaultConfig()) = %v", err)
	}
	for _, p := range Presets() {
		if err := Validate(p.Apply(DefaultConfig())); err != nil {
			t.Fatalf("preset %s is invalid: %v", p.Name, err)
		}
	}
	if got := PresetNames(); len(got) != 4 || got[0] != "Dark" || got[3] != "Colorful" {
		t.Fatalf("PresetNames() = %v", got)
	}
}

func TestStoreOverlappingWritersDeliverNewestLast(t *testing.T) {
	s := NewStore(DefaultConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var applied []int
	s.Subscribe(func(cfg Config) {
		if cfg.FontSize == 30 {
			close(entered)
			<-release
		}
		mu.Lock()
		applied = append(applied, cfg.FontSize)
		mu.Unlock()
	})

	first := make(chan error, 1)
	go func() { first <- s.Set("font_size", 30) }()
	<-entered

	// The first writer is still notifying; this write must not overtake it.
	if err := s.Set("font_size", 40); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) == 0 || applied[len(applied)-1] != 40 {
		t.Fatalf("applied sequence = %v, want it to end with 40", applied)
	}
	if got := s.Snapshot().FontSize; got != 40 {
		t.Fatalf("store FontSize = %d, want 40", got)
	}
}

func TestStoreConcurrentWritersListenerSeesFinalConfig(t *testing.T) {
	s := NewStore(DefaultConfig())
	var mu sync.Mutex
	var last Config
	s.Subscribe(func(cfg Config) {
		mu.Lock()
		last = cfg
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 20 {
				_ = s.Set("font_size", 10+(i*20+j)%60)
			}
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last != s.Snapshot() {
		t.Fatalf("listener last FontSize = %d, store = %d", last.FontSize, s.Snapshot().FontSize)
	}
}
