package pipeline

import (
	"sync"
	"time"

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// batchSpanMultiple bounds how long a single burst of activity can keep
// resetting the window timer before being forced to flush, per spec.md
// §4.4's recommended cap; the Open Question is pinned at 10x window_ms
// in SPEC_FULL.md §9.
const batchSpanMultiple = 10

// Batcher implements spec.md §4.4's event-driven micro-batching window:
// one timer for the whole open batch (not one per path, unlike the
// teacher's internal/watcher/debounce.go), reset on every incoming
// event, with a hard cap on total batch span so a sustained write storm
// still flushes periodically.
type Batcher struct {
	window  time.Duration
	maxSpan time.Duration
	flush   func(batch []meowdiff.Event, tsStart, tsEnd time.Time)

	mu       sync.Mutex
	timer    *time.Timer
	buf      []meowdiff.Event
	tsStart  time.Time
	batching bool
	stopped  bool
}

// NewBatcher creates a Batcher with the given quiet window. flush is
// called with the ordered event buffer and the batch's start/end
// timestamps whenever the window elapses with no further events, the
// max span is exceeded, or Stop is called with a nonempty buffer.
func NewBatcher(window time.Duration, flush func(batch []meowdiff.Event, tsStart, tsEnd time.Time)) *Batcher {
	return &Batcher{
		window:  window,
		maxSpan: window * batchSpanMultiple,
		flush:   flush,
	}
}

// Feed appends an event to the open batch (starting one if idle),
// preserving per-path and first-seen-across-paths ordering, and resets
// the quiet-window timer.
func (b *Batcher) Feed(e meowdiff.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	if !b.batching {
		b.batching = true
		b.tsStart = e.TS
		b.buf = nil
	}
	b.buf = append(b.buf, e)

	if b.timer != nil {
		b.timer.Stop()
	}

	elapsed := e.TS.Sub(b.tsStart)
	wait := b.window
	if elapsed+b.window > b.maxSpan {
		if remaining := b.maxSpan - elapsed; remaining > 0 {
			wait = remaining
		} else {
			wait = 0
		}
	}
	b.timer = time.AfterFunc(wait, b.onTimer)
}

// onTimer is the shared body for both a natural quiet-window expiry and
// a forced max-span flush; which one occurred does not change behavior,
// only how soon it fires.
func (b *Batcher) onTimer() {
	b.mu.Lock()
	if !b.batching || len(b.buf) == 0 {
		b.batching = false
		b.mu.Unlock()
		return
	}
	batch := b.buf
	tsStart := b.tsStart
	b.buf = nil
	b.batching = false
	b.mu.Unlock()

	b.flush(batch, tsStart, time.Now())
}

// Stop cancels any pending timer and, if a batch is open, flushes it
// immediately (even though its window has not elapsed), per spec.md §5's
// shutdown sequencing: "Pipeline flushes the current batch if any... even
// if its window has not elapsed, producing a final record if it yields
// any entries."
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.stopped = true
	batching := b.batching
	batch := b.buf
	tsStart := b.tsStart
	b.buf = nil
	b.batching = false
	b.mu.Unlock()

	if batching && len(batch) > 0 {
		b.flush(batch, tsStart, time.Now())
	}
}
