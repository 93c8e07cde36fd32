package detect

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"borderwatch/internal/camera"
	"borderwatch/internal/matcher"
	"borderwatch/internal/model"
)

// MatcherProvider hands out the current roster matcher. The roster
// syncer swaps it atomically, so every cycle sees either the old or
// the fully built new matcher.
type MatcherProvider interface {
	Current() *matcher.Matcher
}

// Sink receives the confirmed-unknown side effects: snapshot capture,
// local persistence and notification. The engine calls it exactly once
// per armed debounce cycle.
type Sink interface {
	Fire(ctx context.Context, frame model.Frame, results []model.MatchResult)
}

// Engine drives the periodic capture → match → debounce cycle. Cycles
// never overlap: a tick that arrives while the previous cycle is still
// in flight is skipped, not queued.
type Engine struct {
	logger   *slog.Logger
	source   camera.Source
	locator  matcher.Locator
	matchers MatcherProvider
	debounce *Debouncer
	sink     Sink
	interval time.Duration

	inFlight atomic.Bool
	cycles   atomic.Int64
	skipped  atomic.Int64
}

func NewEngine(
	logger *slog.Logger,
	source camera.Source,
	locator matcher.Locator,
	matchers MatcherProvider,
	debounce *Debouncer,
	sink Sink,
	interval time.Duration,
) *Engine {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Engine{
		logger:   logger,
		source:   source,
		locator:  locator,
		matchers: matchers,
		debounce: debounce,
		sink:     sink,
		interval: interval,
	}
}

// Run blocks until the context is cancelled, executing one cycle per
// tick. In-flight remote calls are abandoned on cancellation, never
// awaited.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			go e.Cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Cycle executes one capture → match → debounce pass. It returns
// immediately when a previous cycle is still running.
func (e *Engine) Cycle(ctx context.Context) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		return
	}
	defer e.inFlight.Store(false)
	e.cycles.Add(1)

	frame, err := e.source.Grab(ctx)
	if err != nil {
		if ctx.Err() == nil && e.logger != nil {
			e.logger.Warn("frame grab failed", "err", err)
		}
		return
	}

	results, err := matcher.MatchFrame(ctx, frame, e.locator, e.matchers.Current())
	if err != nil {
		if errors.Is(err, matcher.ErrNotReady) {
			if e.logger != nil {
				e.logger.Debug("matcher not ready, skipping frame")
			}
			return
		}
		if ctx.Err() == nil && e.logger != nil {
			e.logger.Warn("frame match failed", "err", err)
		}
		return
	}

	hasUnknown := false
	for _, r := range results {
		if r.Unknown() {
			hasUnknown = true
			break
		}
	}
	if e.debounce.Observe(hasUnknown, frame.CapturedAt) {
		if e.logger != nil {
			e.logger.Warn("unknown presence confirmed",
				"faces", len(results),
				"threshold", e.debounce.Threshold(),
			)
		}
		e.sink.Fire(ctx, frame, results)
	}
}

// Unlock acknowledges the active incident and re-arms the debouncer.
func (e *Engine) Unlock() {
	e.debounce.Unlock()
}

// Stats reports cycle counters and the debounce state for the API.
func (e *Engine) Stats() (cycles, skipped int64, state State) {
	return e.cycles.Load(), e.skipped.Load(), e.debounce.State()
}
