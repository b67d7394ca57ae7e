package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State int

const (
	StateIdle State = iota
	StateScrolling
	StateSettling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScrolling:
		return "scrolling"
	case StateSettling:
		return "settling"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Viewport struct {
	ScrollTop    float64 `json:"scrollTop"`
	ClientHeight float64 `json:"clientHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// Surface is the scrollable, lazily loading message list being crawled.
type Surface interface {
	ScrollToBottom(ctx context.Context) error
	ScrollTo(ctx context.Context, top float64) error
	Viewport(ctx context.Context) (Viewport, error)
	// Candidates returns the currently rendered message candidates in
	// document order.
	Candidates(ctx context.Context) ([]Node, error)
}

type EngineOptions struct {
	// SettleDelay is the pause after scrolling before observing the
	// surface again.
	SettleDelay time.Duration
	// StepDelay is the pause between two scroll steps.
	StepDelay time.Duration
	// ScrollFraction of the visible height scrolled up per step.
	ScrollFraction float64
	// NoGrowthLimit consecutive steps without new messages (while at the
	// top) end the crawl.
	NoGrowthLimit int
	// TopTolerance in pixels under which the viewport counts as at the top.
	TopTolerance float64
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		SettleDelay:    time.Second,
		StepDelay:      200 * time.Millisecond,
		ScrollFraction: 0.8,
		NoGrowthLimit:  3,
		TopTolerance:   10,
	}
}

func (o EngineOptions) withDefaults() EngineOptions {
	d := DefaultEngineOptions()
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.StepDelay <= 0 {
		o.StepDelay = d.StepDelay
	}
	if o.ScrollFraction <= 0 || o.ScrollFraction > 1 {
		o.ScrollFraction = d.ScrollFraction
	}
	if o.NoGrowthLimit <= 0 {
		o.NoGrowthLimit = d.NoGrowthLimit
	}
	if o.TopTolerance <= 0 {
		o.TopTolerance = d.TopTolerance
	}
	return o
}

// Hooks are the callbacks through which the engine reports to its owner.
// All of them are called from the engine goroutine.
type Hooks struct {
	// OnBatch receives the pairs extracted during one step. Errors are
	// logged, the crawl continues.
	OnBatch func(ctx context.Context, pairs []Pair) error
	// OnState is called on every state transition.
	OnState func(State)
	// OnProgress receives the processed count after each step.
	OnProgress func(processed int)
}

// Engine drives a Surface upward until no more history loads.
type Engine struct {
	surface   Surface
	extractor *Extractor
	opts      EngineOptions
	hooks     Hooks

	mu         sync.Mutex
	state      State
	lastAuthor string
	noGrowth   int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewEngine(surface Surface, extractor *Extractor, opts EngineOptions, hooks Hooks) *Engine {
	return &Engine{
		surface:   surface,
		extractor: extractor,
		opts:      opts.withDefaults(),
		hooks:     hooks,
		state:     StateIdle,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s || e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()

	if e.hooks.OnState != nil {
		e.hooks.OnState(s)
	}
}

// SetLastAuthor seeds the grouped-message accumulator, used when the caller
// already extracted the initially rendered messages.
func (e *Engine) SetLastAuthor(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAuthor = id
}

// Stop asks the loop to end at the top of its next step. An in-flight
// settle delay is allowed to finish. Calling Stop more than once, or on a
// stopped engine, does nothing.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) stopRequested() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// wait blocks for d unless ctx ends first. Stop does not interrupt it.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run scrolls to the bottom, then walks the surface upward one step at a
// time until the termination condition holds, Stop is called or ctx ends.
// It returns nil when the history was exhausted or the engine was stopped,
// otherwise the error that ended the crawl. Run may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.setState(StateStopped)

	ctx, span := tracer.Start(ctx, "engine:Run")
	defer span.End()

	e.setState(StateScrolling)
	err := e.surface.ScrollToBottom(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scroll to bottom")
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	e.setState(StateSettling)
	err = wait(ctx, e.opts.SettleDelay)
	if err != nil {
		return err
	}

	timer := time.NewTimer(e.opts.StepDelay)
	defer timer.Stop()
	steps := 0

	for {
		select {
		case <-timer.C:
		case <-e.stop:
			span.SetAttributes(attribute.Int("steps", steps))
			slog.InfoContext(ctx, "crawl stopped", "steps", steps)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.stopRequested() {
			slog.InfoContext(ctx, "crawl stopped", "steps", steps)
			return nil
		}

		steps++
		done, err := e.step(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "step failed")
			return err
		}
		if done {
			span.SetAttributes(attribute.Int("steps", steps))
			slog.InfoContext(ctx, "history exhausted", "steps", steps, "messages", e.extractor.Processed())
			return nil
		}
		timer.Reset(e.opts.StepDelay)
	}
}

// step performs one scroll-settle-observe cycle and reports whether the
// crawl is finished.
func (e *Engine) step(ctx context.Context) (bool, error) {
	paginationSteps.Add(ctx, 1)
	e.setState(StateScrolling)

	before := e.extractor.Processed()
	viewport, err := e.surface.Viewport(ctx)
	if err != nil {
		return false, fmt.Errorf("read viewport: %w", err)
	}

	target := viewport.ScrollTop - e.opts.ScrollFraction*viewport.ClientHeight
	if target < 0 {
		target = 0
	}
	noop := target >= viewport.ScrollTop
	if !noop {
		err = e.surface.ScrollTo(ctx, target)
		if err != nil {
			return false, fmt.Errorf("scroll to %.0f: %w", target, err)
		}
	}

	e.setState(StateSettling)
	err = wait(ctx, e.opts.SettleDelay)
	if err != nil {
		return false, err
	}

	err = e.collect(ctx)
	if err != nil {
		return false, err
	}

	after := e.extractor.Processed()
	viewport, err = e.surface.Viewport(ctx)
	if err != nil {
		return false, fmt.Errorf("read viewport: %w", err)
	}

	if e.hooks.OnProgress != nil {
		e.hooks.OnProgress(after)
	}

	if after > before {
		e.noGrowth = 0
	} else {
		e.noGrowth++
	}

	slog.DebugContext(
		ctx, "pagination step",
		"scroll_top", viewport.ScrollTop,
		"noop", noop,
		"new_messages", after-before,
		"no_growth", e.noGrowth,
	)

	atTop := viewport.ScrollTop <= e.opts.TopTolerance
	return e.noGrowth >= e.opts.NoGrowthLimit && atTop, nil
}

// collect extracts the currently rendered candidates and forwards the new
// ones as a single batch.
func (e *Engine) collect(ctx context.Context) error {
	nodes, err := e.surface.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("read candidates: %w", err)
	}

	e.mu.Lock()
	last := e.lastAuthor
	e.mu.Unlock()

	pairs, last := e.extractor.ExtractAll(ctx, nodes, last)

	e.mu.Lock()
	e.lastAuthor = last
	e.mu.Unlock()

	if len(pairs) == 0 || e.hooks.OnBatch == nil {
		return nil
	}
	err = e.hooks.OnBatch(ctx, pairs)
	if err != nil {
		slog.WarnContext(ctx, "failed to deliver batch", "size", len(pairs), "err", err)
	}
	return nil
}
