// Package reveal animates alignment progress. The aligner can confirm many
// tokens in one recognizer batch; revealing them instantly makes the
// highlight jump. The [Animator] queues confirmed tokens and releases them
// one per tick on a fixed cadence so the highlight walks forward instead.
package reveal

import (
	"context"
	"sync"
	"time"
)

// defaultInterval is the reveal cadence: one token per tick.
const defaultInterval = 150 * time.Millisecond

// Snapshot is the visible highlight state pushed to the presentation layer.
type Snapshot struct {
	// Revealed is the number of tokens shown in the "read" style. The token
	// at index Revealed is the "current" token; everything after is neutral.
	Revealed int

	// Queued is the number of confirmed tokens not yet revealed.
	Queued int
}

// Option is a functional option for configuring an [Animator].
type Option func(*Animator)

// WithInterval sets the reveal cadence. Default: 150ms.
func WithInterval(d time.Duration) Option {
	return func(a *Animator) {
		a.interval = d
	}
}

// WithNowFunc replaces the clock used for progress timestamps. Tests use
// this together with [Animator.Tick] to drive the animator on simulated time.
func WithNowFunc(now func() time.Time) Option {
	return func(a *Animator) {
		a.now = now
	}
}

// Animator owns the reveal queue. The aligner enqueues deltas as tokens are
// confirmed; the tick loop pops one entry at a time, bumps the revealed
// count, and invokes the snapshot callback.
//
// All methods are safe for concurrent use.
type Animator struct {
	interval   time.Duration
	now        func() time.Time
	onSnapshot func(Snapshot)

	mu           sync.Mutex
	revealed     int
	queued       int
	lastProgress time.Time
}

// New creates an Animator. onSnapshot is invoked after every reveal step and
// may be nil when no presentation layer is attached.
func New(onSnapshot func(Snapshot), opts ...Option) *Animator {
	a := &Animator{
		interval:   defaultInterval,
		now:        time.Now,
		onSnapshot: onSnapshot,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Enqueue adds n single-token reveal steps. Called by the session event loop
// whenever the aligner's matched count advances; never applied to visible
// state directly.
func (a *Animator) Enqueue(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.queued += n
	a.mu.Unlock()
}

// Tick performs one reveal step at the given time. It reports whether a
// token was revealed; an empty queue is a no-op. Exposed so tests can drive
// the animator deterministically.
func (a *Animator) Tick(now time.Time) bool {
	a.mu.Lock()
	if a.queued == 0 {
		a.mu.Unlock()
		return false
	}
	a.queued--
	a.revealed++
	a.lastProgress = now
	snap := Snapshot{Revealed: a.revealed, Queued: a.queued}
	cb := a.onSnapshot
	a.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return true
}

// Run ticks on the configured interval until ctx is cancelled. Ticks with an
// empty queue do nothing, so the highlight simply resumes walking the next
// time the aligner enqueues progress.
func (a *Animator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(a.now())
		}
	}
}

// Snapshot returns the current visible state without advancing it.
func (a *Animator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Revealed: a.revealed, Queued: a.queued}
}

// Revealed returns how many tokens are currently shown as read.
func (a *Animator) Revealed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revealed
}

// LastProgress returns the time of the most recent reveal step. The zero
// time means nothing has been revealed yet.
func (a *Animator) LastProgress() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastProgress
}

// Reset clears all state for a new page. Any queued reveals are discarded.
func (a *Animator) Reset() {
	a.mu.Lock()
	a.revealed = 0
	a.queued = 0
	a.lastProgress = time.Time{}
	a.mu.Unlock()
}
