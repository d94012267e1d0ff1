package render

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Measurer reports the pixel extent of a label. Implementations must be
// safe for concurrent use.
type Measurer interface {
	Measure(text string, size int, bold bool) (width, height int)
	// LineHeight is the font's line height for size.
	LineHeight(size int, bold bool) int
}

// FontMeasurer measures with the embedded Go fonts. The overlay draws with
// the configured system font, so these metrics are a close proxy, not exact.
type FontMeasurer struct {
	regular *opentype.Font
	bold    *opentype.Font

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

type faceKey struct {
	size int
	bold bool
}

// NewFontMeasurer parses the embedded fonts.
func NewFontMeasurer() (*FontMeasurer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &FontMeasurer{regular: regular, bold: bold, faces: make(map[faceKey]font.Face)}, nil
}

// face returns a cached face. Caller must hold mu.
func (m *FontMeasurer) face(size int, bold bool) font.Face {
	key := faceKey{size: size, bold: bold}
	if f, ok := m.faces[key]; ok {
		return f
	}
	src := m.regular
	if bold {
		src = m.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		slog.Warn("[render] font face unavailable, using estimate", "size", size, "bold", bold, "error", err)
		return nil
	}
	m.faces[key] = f
	return f
}

// Measure implements Measurer.
func (m *FontMeasurer) Measure(text string, size int, bold bool) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.face(size, bold)
	if f == nil {
		return EstimateMeasurer{}.Measure(text, size, bold)
	}
	width := font.MeasureString(f, text).Ceil()
	return width, f.Metrics().Height.Ceil()
}

// LineHeight implements Measurer.
func (m *FontMeasurer) LineHeight(size int, bold bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.face(size, bold)
	if f == nil {
		return EstimateMeasurer{}.LineHeight(size, bold)
	}
	return f.Metrics().Height.Ceil()
}

// Close releases the cached faces.
func (m *FontMeasurer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, f := range m.faces {
		if err := f.Close(); err != nil {
			slog.Debug("[render] close font face", "size", key.size, "error", err)
		}
		delete(m.faces, key)
	}
	return nil
}

// EstimateMeasurer approximates metrics from the font size alone:
// 0.6em per rune and a 1.4em line.
type EstimateMeasurer struct{}

// Measure implements Measurer.
func (EstimateMeasurer) Measure(text string, size int, bold bool) (int, int) {
	runes := len([]rune(text))
	return int(math.Ceil(float64(runes) * float64(size) * 0.6)), EstimateMeasurer{}.LineHeight(size, bold)
}

// LineHeight implements Measurer.
func (EstimateMeasurer) LineHeight(size int, _ bool) int {
	return int(math.Ceil(float64(size) * 1.4))
}
