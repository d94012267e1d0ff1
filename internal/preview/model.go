// Package preview shows the overlay's bubbles in a terminal. Keys typed into
// the terminal run through the same aggregator, bubble manager and layout as
// the desktop overlay, which makes it a quick way to try a configuration.
package preview

import (
	"fmt"
	"image/color"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"keybubbles/internal/config"
	"keybubbles/internal/keys"
	"keybubbles/internal/render"
)

// frameMsg delivers a frame from the render loop.
type frameMsg struct{ frame render.Frame }

// Model is the bubbletea model for the preview.
type Model struct {
	cfg    config.Config
	events chan<- keys.Event
	now    func() time.Time

	frame   render.Frame
	width   int
	strokes int
	dropped *atomic.Uint64

	title lipgloss.Style
	help  lipgloss.Style
}

var _ tea.Model = Model{}

// NewModel creates a model that forwards key strokes to events. Sends never
// block; a full channel drops the stroke.
func NewModel(cfg config.Config, events chan<- keys.Event) Model {
	return Model{
		cfg:     cfg,
		events:  events,
		now:     time.Now,
		dropped: &atomic.Uint64{},
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4a90d9")),
		help:    lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		evs := EventsFromKey(msg, m.now())
		if len(evs) > 0 {
			m.strokes++
		}
		for _, ev := range evs {
			select {
			case m.events <- ev:
			default:
				m.dropped.Add(1)
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case frameMsg:
		m.frame = msg.frame
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.title.Render("KeyBubbles preview"))
	b.WriteString(m.help.Render(fmt.Sprintf("  %d strokes  ctrl+c to quit", m.strokes)))
	b.WriteString("\n\n")
	b.WriteString(m.bubbleRow())
	b.WriteString("\n")
	return b.String()
}

func (m Model) bubbleRow() string {
	if len(m.frame.Bubbles) == 0 {
		return m.help.Render("type something...")
	}
	bg, _ := render.ParseColor(m.cfg.BgColor)
	fg, _ := render.ParseColor(m.cfg.TextColor)
	border, _ := render.ParseColor(m.cfg.BorderColor)

	cells := make([]string, 0, len(m.frame.Bubbles))
	for _, box := range m.frame.Bubbles {
		style := lipgloss.NewStyle().
			Padding(0, 1).
			Bold(m.cfg.FontBold).
			Foreground(lipgloss.Color(fade(fg, box.Opacity))).
			Background(lipgloss.Color(fade(bg, box.Opacity)))
		if m.cfg.ShowBorder {
			style = style.Border(borderFor(m.cfg.BorderRadius)).
				BorderForeground(lipgloss.Color(fade(border, box.Opacity)))
		}
		cells = append(cells, style.Render(box.Text), " ")
	}
	row := lipgloss.JoinHorizontal(lipgloss.Center, cells[:len(cells)-1]...)
	if m.width <= 0 {
		return row
	}
	return lipgloss.PlaceHorizontal(m.width, alignment(m.cfg.PositionHorizontal), row)
}

func borderFor(radius int) lipgloss.Border {
	if radius > 0 {
		return lipgloss.RoundedBorder()
	}
	return lipgloss.NormalBorder()
}

func alignment(horizontal string) lipgloss.Position {
	switch horizontal {
	case config.AlignLeft:
		return lipgloss.Left
	case config.AlignRight:
		return lipgloss.Right
	default:
		return lipgloss.Center
	}
}

// fade darkens c toward black by opacity; terminals have no alpha.
func fade(c color.NRGBA, opacity float64) string {
	opacity = max(0, min(1, opacity))
	scale := func(v uint8) uint8 { return uint8(float64(v)*opacity + 0.5) }
	return fmt.Sprintf("#%02x%02x%02x", scale(c.R), scale(c.G), scale(c.B))
}
