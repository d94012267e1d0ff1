package render

import (
	"math"
	"unicode/utf8"

	"keybubbles/internal/bubble"
	"keybubbles/internal/config"
)

const (
	// screenSideReserve is the screen width not covered by the overlay.
	screenSideReserve = 200
	// edgeInset keeps left/right-aligned overlays off the screen edge.
	edgeInset = 20
	// overlayMargin is the vertical air above and below the bubble row.
	overlayMargin = 10
	// rowInset keeps a left/right-aligned row off the overlay edge.
	rowInset = 10
)

// Rect is an integer rectangle in screen pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Style is the resolved drawing style shared by every bubble in a frame.
type Style struct {
	Background   string `json:"background"`
	Text         string `json:"text"`
	Border       string `json:"border"`
	ShowBorder   bool   `json:"showBorder"`
	BorderWidth  int    `json:"borderWidth"`
	BorderRadius int    `json:"borderRadius"`
	FontFamily   string `json:"fontFamily"`
	FontSize     int    `json:"fontSize"`
	FontBold     bool   `json:"fontBold"`
}

// Box is one bubble placed inside the overlay window. Rect is relative to
// the window's top-left corner.
type Box struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Rect    Rect    `json:"rect"`
	Opacity float64 `json:"opacity"`
}

// Frame is everything the overlay needs to draw one tick.
type Frame struct {
	Seq     uint64 `json:"seq"`
	Window  Rect   `json:"window"`
	Style   Style  `json:"style"`
	Bubbles []Box  `json:"bubbles"`
}

// Empty reports whether the frame draws nothing.
func (f Frame) Empty() bool { return len(f.Bubbles) == 0 }

// OverlayRect places the overlay window on screen. Its height grows to fit
// the font and never drops below overlay_height.
func OverlayRect(screen Rect, cfg config.Config, m Measurer) Rect {
	lineHeight := m.LineHeight(cfg.FontSize, cfg.FontBold)
	border := 0
	if cfg.ShowBorder {
		border = cfg.BorderWidth
	}
	height := max(cfg.OverlayHeight, lineHeight+2*cfg.Padding+2*border+2*overlayMargin)
	width := max(screen.W-screenSideReserve, 1)

	var x int
	switch cfg.PositionHorizontal {
	case config.AlignLeft:
		x = screen.X + cfg.MarginHorizontal + edgeInset
	case config.AlignRight:
		x = screen.X + screen.W - width - cfg.MarginHorizontal - edgeInset
	default:
		x = screen.X + (screen.W-width)/2 + cfg.MarginHorizontal
	}

	var y int
	if cfg.PositionVertical == config.AlignTop {
		y = screen.Y + cfg.MarginVertical
	} else {
		y = screen.Y + screen.H - height - cfg.MarginVertical
	}
	return Rect{X: x, Y: y, W: width, H: height}
}

// BubbleSize returns the outer size of a bubble showing text.
func BubbleSize(text string, cfg config.Config, m Measurer) (width, height int) {
	tw, th := m.Measure(text, cfg.FontSize, cfg.FontBold)
	w := float64(max(tw+2*cfg.Padding, cfg.MinBubbleWidth))
	h := math.Max(float64(th+2*cfg.Padding), float64(cfg.FontSize)*2.2)

	switch n := utf8.RuneCountInString(text); {
	case n == 1:
		// Single glyphs read best as near-square keycaps.
		w = math.Max(w, h)
		h = w * 0.95
	case n <= 3:
		h = math.Min(h, w*1.3)
	}

	if cfg.ShowBorder {
		w += float64(cfg.BorderWidth + 2)
		h += float64(cfg.BorderWidth + 2)
	}
	return int(math.Ceil(w)), int(math.Ceil(h))
}

// Layout computes a frame for bubbles (oldest first) on screen.
func Layout(screen Rect, cfg config.Config, bubbles []bubble.Bubble, m Measurer) Frame {
	window := OverlayRect(screen, cfg, m)
	frame := Frame{
		Window:  window,
		Style:   styleFor(cfg),
		Bubbles: make([]Box, 0, len(bubbles)),
	}
	if len(bubbles) == 0 {
		return frame
	}

	type sized struct{ w, h int }
	sizes := make([]sized, len(bubbles))
	total := 0
	for i, b := range bubbles {
		w, h := BubbleSize(b.Text, cfg, m)
		sizes[i] = sized{w, h}
		total += w
	}
	total += cfg.BubbleSpacing * (len(bubbles) - 1)

	var x int
	switch cfg.PositionHorizontal {
	case config.AlignLeft:
		x = rowInset
	case config.AlignRight:
		x = window.W - total - rowInset
	default:
		x = (window.W - total) / 2
	}
	// An overfull row keeps the newest bubble visible.
	if total > window.W {
		x = window.W - total
	}

	for i, b := range bubbles {
		s := sizes[i]
		frame.Bubbles = append(frame.Bubbles, Box{
			ID:      b.ID,
			Text:    b.Text,
			Rect:    Rect{X: x, Y: (window.H - s.h) / 2, W: s.w, H: s.h},
			Opacity: b.Opacity,
		})
		x += s.w + cfg.BubbleSpacing
	}
	return frame
}

func styleFor(cfg config.Config) Style {
	def := config.DefaultConfig()
	return Style{
		Background:   cssOr(cfg.BgColor, def.BgColor),
		Text:         cssOr(cfg.TextColor, def.TextColor),
		Border:       cssOr(cfg.BorderColor, def.BorderColor),
		ShowBorder:   cfg.ShowBorder,
		BorderWidth:  cfg.BorderWidth,
		BorderRadius: cfg.BorderRadius,
		FontFamily:   cfg.FontFamily,
		FontSize:     cfg.FontSize,
		FontBold:     cfg.FontBold,
	}
}
