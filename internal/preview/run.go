package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"keybubbles/internal/bubble"
	"keybubbles/internal/combo"
	"keybubbles/internal/config"
	"keybubbles/internal/input"
	"keybubbles/internal/keys"
	"keybubbles/internal/render"
	"keybubbles/internal/workerutil"
)

// terminalScreen is the virtual screen the layout runs against. Only the
// bubble order and opacity reach the terminal.
var terminalScreen = render.Rect{W: 1920, H: 1080}

// Pipeline is the input-to-frame chain the preview drives. It is the same
// chain the overlay uses, fed from a channel instead of an OS hook.
type Pipeline struct {
	Events   chan keys.Event
	listener *input.Listener
	manager  *bubble.Manager
	runner   *combo.Runner
	loop     *render.Loop
}

// NewPipeline builds the chain for cfg and presents frames to sink.
func NewPipeline(cfg config.Config, sink render.Sink) *Pipeline {
	cfg, _ = render.Sanitize(cfg)
	events := make(chan keys.Event, input.DefaultBuffer)
	p := &Pipeline{
		Events:   events,
		listener: input.NewListener(input.NewChanSource("terminal", events), input.DefaultBuffer),
		manager:  bubble.NewManager(cfg.MaxKeys, cfg.FadeSpeed),
	}
	p.runner = combo.NewRunner(
		combo.Options{Window: cfg.AggregationWindow(), ModifierTimeout: cfg.ModifierTimeout()},
		p.listener.Events(),
		func(tok combo.Token) { p.manager.Add(tok.String(), tok.At) },
	)
	p.loop = render.NewLoop(p.manager, render.EstimateMeasurer{}, sink,
		func() render.Rect { return terminalScreen }, cfg)
	return p
}

// Manager exposes the bubble list.
func (p *Pipeline) Manager() *bubble.Manager { return p.manager }

// Start launches the listener, aggregator and render loop on wg. They stop
// when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := p.listener.Start(ctx); err != nil {
		return err
	}
	opts := workerutil.RecoveryOptions{MaxRetries: 3}
	workerutil.RunWithPanicRecovery(ctx, "preview-combo", wg, p.runner.Run, opts)
	workerutil.RunWithPanicRecovery(ctx, "preview-render", wg, p.loop.Run, opts)
	wg.Go(func() {
		<-ctx.Done()
		if err := p.listener.Stop(); err != nil {
			slog.Debug("[preview] listener stop failed", "error", err)
		}
	})
	return nil
}

// Run shows the preview until the user quits or ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	ready := make(chan struct{})
	pipeline := NewPipeline(cfg, render.SinkFunc(func(f render.Frame) {
		<-ready
		program.Send(frameMsg{frame: f})
	}))

	sanitized, _ := render.Sanitize(cfg)
	program = tea.NewProgram(NewModel(sanitized, pipeline.Events), append(opts, tea.WithContext(ctx))...)
	close(ready)

	var wg sync.WaitGroup
	if err := pipeline.Start(ctx, &wg); err != nil {
		return fmt.Errorf("start preview: %w", err)
	}

	_, err := program.Run()
	cancel()
	wg.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	return nil
}
