package align

import (
	"github.com/parlando-ai/parlando/internal/textproc"
)

const (
	defaultTailWindow          = 20
	defaultMinRecoveryMatches  = 2
	defaultMaxReferenceBridged = 1
)

// TrackerOption is a functional option for configuring a [Tracker].
type TrackerOption func(*Tracker)

// WithTailWindow sets how many of the most recent spoken tokens are searched
// during tail recovery. Default: 20.
func WithTailWindow(n int) TrackerOption {
	return func(t *Tracker) {
		t.tailWindow = n
	}
}

// WithMinRecoveryMatches sets the number of consecutive matches a recovered
// run must contain before it is accepted. Runs shorter than this are
// statistically too likely to be coincidental. Default: 2.
func WithMinRecoveryMatches(n int) TrackerOption {
	return func(t *Tracker) {
		t.minRecovery = n
	}
}

// WithMaxBridgedMisreads sets how many consecutive unmatched reference
// tokens a single spoken token may step over when it matches a later
// reference token. This is what lets a misread word ("big" for "little")
// pass without stalling the scan. 0 disables bridging. Default: 1.
func WithMaxBridgedMisreads(n int) TrackerOption {
	return func(t *Tracker) {
		t.maxBridged = n
	}
}

// WithFillerFilter replaces the default disfluency filter applied to the
// spoken token stream.
func WithFillerFilter(f *textproc.FillerFilter) TrackerOption {
	return func(t *Tracker) {
		t.fillers = f
	}
}

// Tracker is the sequential aligner. It consumes the full running transcript
// on every update, recomputes how far into the passage the reader has
// progressed, and maintains the matched-count high-water mark.
//
// A Tracker is owned by a single session event loop and is not safe for
// concurrent use.
type Tracker struct {
	passage *Passage
	matcher *Matcher
	fillers *textproc.FillerFilter

	tailWindow  int
	minRecovery int
	maxBridged  int

	matched    int // high-water mark, 0 <= matched <= passage.Len()
	lastSpoken int // filler-free spoken tokens in the latest transcript
}

// NewTracker creates a Tracker over passage using matcher for token
// comparison. The matched count starts at zero.
func NewTracker(passage *Passage, matcher *Matcher, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		passage:     passage,
		matcher:     matcher,
		fillers:     textproc.NewFillerFilter(),
		tailWindow:  defaultTailWindow,
		minRecovery: defaultMinRecoveryMatches,
		maxBridged:  defaultMaxReferenceBridged,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// MatchedCount returns the high-water mark: how many reference tokens have
// been confirmed as read. It never decreases for the lifetime of a Tracker.
func (t *Tracker) MatchedCount() int { return t.matched }

// Done reports whether the whole passage has been confirmed.
func (t *Tracker) Done() bool { return t.matched >= t.passage.Len() }

// Remaining returns how many reference tokens are still unconfirmed.
func (t *Tracker) Remaining() int { return t.passage.Len() - t.matched }

// CurrentToken returns the display token the reader is expected to say next.
// ok is false once the passage is complete.
func (t *Tracker) CurrentToken() (token string, ok bool) {
	if t.matched >= t.passage.Len() {
		return "", false
	}
	return t.passage.Display(t.matched), true
}

// Observe re-derives the reader's position from the entire running
// transcript (confirmed + pending text) and advances the high-water mark
// when the new position is further along. It returns the number of newly
// confirmed tokens, which is zero whenever the transcript adds nothing —
// including when interim text is revised downward or an identical transcript
// is fed twice.
func (t *Tracker) Observe(transcript string) int {
	spoken := t.fillers.Strip(textproc.ComparisonTokens(transcript))
	t.lastSpoken = len(spoken)

	pos := t.primaryScan(spoken)

	// The primary scan landing strictly below the mark means the transcript
	// lost its confirmed prefix, typically a recognizer restart that dropped
	// unpromoted interim words. Try to re-anchor the tail of what we heard at
	// the mark. A scan that still reaches the mark is not prefix loss;
	// re-anchoring it would count repeated phrases twice.
	if pos < t.matched && t.matched < t.passage.Len() {
		if rec := t.tailRecovery(spoken); rec > pos {
			pos = rec
		}
	}

	if pos <= t.matched {
		return 0
	}
	delta := pos - t.matched
	t.matched = pos
	return delta
}

// primaryScan walks spoken tokens from the start and reference tokens from
// zero. A spoken token must match the next unmatched reference token to
// count; non-matching spoken tokens are skipped as noise. A spoken token
// matching slightly ahead may bridge up to maxBridged misread reference
// tokens. Empty (punctuation placeholder) reference tokens auto-match.
func (t *Tracker) primaryScan(spoken []string) int {
	n := t.passage.Len()
	r := t.passage.nextReal(0)

	for _, s := range spoken {
		if r >= n {
			break
		}
		if t.matcher.Match(s, t.passage.Comparison(r)) {
			r = t.passage.nextReal(r + 1)
			continue
		}
		next := r
		for k := 0; k < t.maxBridged; k++ {
			next = t.passage.nextReal(next + 1)
			if next >= n {
				break
			}
			if t.matcher.Match(s, t.passage.Comparison(next)) {
				r = t.passage.nextReal(next + 1)
				break
			}
		}
	}
	return r
}

// tailRecovery searches the most recent tailWindow spoken tokens for a run
// of consecutive matches starting exactly at the high-water mark. The best
// run of at least minRecovery matches wins; anything shorter is rejected.
func (t *Tracker) tailRecovery(spoken []string) int {
	start := len(spoken) - t.tailWindow
	if start < 0 {
		start = 0
	}

	best := 0
	for i := start; i < len(spoken); i++ {
		q := t.passage.nextReal(t.matched)
		run := 0
		for j := i; j < len(spoken) && q < t.passage.Len(); j++ {
			if !t.matcher.Match(spoken[j], t.passage.Comparison(q)) {
				break
			}
			run++
			q = t.passage.nextReal(q + 1)
		}
		if run >= t.minRecovery && q > best {
			best = q
		}
	}
	return best
}

// Accuracy estimates reading accuracy as confirmed real tokens over spoken
// tokens in the latest transcript, clamped to 1. Before any speech it
// reports 1 — no evidence of errors yet.
func (t *Tracker) Accuracy() float64 {
	if t.lastSpoken == 0 {
		return 1
	}
	real := 0
	for i := 0; i < t.matched; i++ {
		if t.passage.Comparison(i) != "" {
			real++
		}
	}
	acc := float64(real) / float64(t.lastSpoken)
	if acc > 1 {
		acc = 1
	}
	return acc
}
