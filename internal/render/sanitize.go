package render

import (
	"log/slog"
	"sync"

	"keybubbles/internal/config"
)

// Sanitize returns cfg with every numeric option clamped into range and
// malformed colors, fonts and alignments replaced by defaults. The strings
// describe each substitution.
func Sanitize(cfg config.Config) (config.Config, []string) {
	out, warnings := config.Normalize(cfg)
	def := config.DefaultConfig()
	for _, c := range []struct {
		name     string
		field    *string
		fallback string
	}{
		{"bg_color", &out.BgColor, def.BgColor},
		{"text_color", &out.TextColor, def.TextColor},
		{"border_color", &out.BorderColor, def.BorderColor},
	} {
		if _, err := ParseColor(*c.field); err != nil {
			warnings = append(warnings, c.name+" "+err.Error()+"; using "+c.fallback)
			*c.field = c.fallback
		}
	}
	return out, warnings
}

// warnOnce logs each distinct sanitizer warning a single time per process.
type warnOnce struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (w *warnOnce) log(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen == nil {
		w.seen = make(map[string]struct{})
	}
	for _, msg := range warnings {
		if _, ok := w.seen[msg]; ok {
			continue
		}
		w.seen[msg] = struct{}{}
		slog.Warn("[render] substituted default", "detail", msg)
	}
}
