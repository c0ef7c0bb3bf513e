// Package session implements the reading-session controller: the state
// machine that owns a live read-aloud session from start to completion.
//
// The controller wires the recognition stream into the aligner, feeds
// confirmed progress to the reveal animator, watches for struggle (silence or
// stalling) and asks the feedback collaborator for help, pauses recognition
// while tutor audio plays, and submits aggregate metrics when the session
// ends.
//
// States: Idle -> Listening <-> Speaking -> Idle. All recognition events for
// one session are handled by a single event loop goroutine, so alignment
// updates are applied strictly in delivery order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parlando-ai/parlando/internal/align"
	"github.com/parlando-ai/parlando/internal/collab"
	"github.com/parlando-ai/parlando/internal/observe"
	"github.com/parlando-ai/parlando/internal/reveal"
	"github.com/parlando-ai/parlando/pkg/recognizer"
	"github.com/parlando-ai/parlando/pkg/speech"
)

// State is the controller's lifecycle state.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateListening means recognition is active and alignment is live.
	StateListening

	// StateSpeaking means tutor feedback audio is playing and recognition is
	// paused so the tutor's voice is not transcribed.
	StateSpeaking
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timing groups the controller's timer thresholds. The zero value of any
// field is replaced by its default.
type Timing struct {
	// RestartDelay is the pause before reopening a recognition stream that
	// ended on its own. Default: 300ms.
	RestartDelay time.Duration

	// CheckInterval is the struggle evaluation cadence. Default: 3s.
	CheckInterval time.Duration

	// SilenceAfter is how long without any speech counts as silence.
	// Default: 10s.
	SilenceAfter time.Duration

	// StuckAfter is how long without alignment progress, while speech
	// continues, counts as stalling. Default: 8s.
	StuckAfter time.Duration

	// FeedbackCooldown is the minimum gap between feedback requests.
	// Default: 20s.
	FeedbackCooldown time.Duration

	// MinTokensBeforeFeedback suppresses feedback until the reader has
	// confirmed at least this many tokens. Default: 3.
	MinTokensBeforeFeedback int
}

// DefaultTiming returns the production thresholds.
func DefaultTiming() Timing {
	return Timing{
		RestartDelay:            300 * time.Millisecond,
		CheckInterval:           3 * time.Second,
		SilenceAfter:            10 * time.Second,
		StuckAfter:              8 * time.Second,
		FeedbackCooldown:        20 * time.Second,
		MinTokensBeforeFeedback: 3,
	}
}

// fillDefaults replaces zero fields with the default thresholds.
func (t Timing) fillDefaults() Timing {
	d := DefaultTiming()
	if t.RestartDelay <= 0 {
		t.RestartDelay = d.RestartDelay
	}
	if t.CheckInterval <= 0 {
		t.CheckInterval = d.CheckInterval
	}
	if t.SilenceAfter <= 0 {
		t.SilenceAfter = d.SilenceAfter
	}
	if t.StuckAfter <= 0 {
		t.StuckAfter = d.StuckAfter
	}
	if t.FeedbackCooldown <= 0 {
		t.FeedbackCooldown = d.FeedbackCooldown
	}
	if t.MinTokensBeforeFeedback <= 0 {
		t.MinTokensBeforeFeedback = d.MinTokensBeforeFeedback
	}
	return t
}

// Config holds the controller's collaborators and tuning.
type Config struct {
	// Recognizer supplies recognition streams. Required.
	Recognizer recognizer.Provider

	// Feedback is asked for help when the reader struggles. Nil disables
	// feedback entirely.
	Feedback collab.FeedbackProvider

	// Completion receives aggregate metrics when the session ends. Nil
	// disables submission.
	Completion collab.CompletionSink

	// Player speaks tutor feedback. Nil routes the utterance to OnNotice
	// instead of audio.
	Player speech.Player

	// Animator owns the reveal queue. The controller runs its tick loop for
	// the duration of the session; pass it configured but not running. Nil
	// creates a default animator with no snapshot callback.
	Animator *reveal.Animator

	// Matcher compares spoken tokens against the reference. Nil uses
	// [align.NewMatcher] defaults.
	Matcher *align.Matcher

	// TrackerOptions configure the per-page tracker.
	TrackerOptions []align.TrackerOption

	// Timing holds the timer thresholds; zero fields get defaults.
	Timing Timing

	// Metrics records instrumentation. Nil records nothing.
	Metrics *observe.Metrics

	// Now replaces the clock, for tests. Nil uses time.Now.
	Now func() time.Time

	// OnNotice receives user-visible notices (fatal recognizer failures,
	// feedback text when no Player is configured). May be nil.
	OnNotice func(text string)

	// OnPageChange is invoked after the controller advances to a new page.
	// May be nil.
	OnPageChange func(pageIndex int, passage *align.Passage)
}

// Controller runs one reading session over a sequence of pages.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	cfg      Config
	pages    []string
	animator *reveal.Animator
	now      func() time.Time

	mu           sync.Mutex
	state        State
	pageIdx      int
	passage      *align.Passage
	tracker      *align.Tracker
	stream       recognizer.Stream
	confirmed    []string
	pending      string
	startedAt    time.Time
	lastSpeech   time.Time
	lastProgress time.Time
	lastFeedback time.Time
	inFlight     bool
	finished     bool
	accOverride  *float64
	doneTokens   int
	doneAccSum   float64

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// streamAction is what handleResult asks the event loop to do after the
// lock is released.
type streamAction int

const (
	actionNone streamAction = iota
	actionCloseStream
	actionFinish
)

// NewController creates a Controller over the given page texts. Pages that
// tokenize to nothing are dropped; at least one non-empty page is required.
func NewController(pages []string, cfg Config) (*Controller, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("session: recognizer provider is required")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = align.NewMatcher()
	}
	cfg.Timing = cfg.Timing.fillDefaults()

	var kept []string
	for _, p := range pages {
		if align.NewPassage(p).Len() > 0 {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New("session: no non-empty pages")
	}

	c := &Controller{
		cfg:      cfg,
		pages:    kept,
		animator: cfg.Animator,
		now:      cfg.Now,
	}
	if c.animator == nil {
		c.animator = reveal.New(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.loadPageLocked(0)
	return c, nil
}

// Start opens the first recognition stream and launches the session loops.
// The session runs until the last page completes, a fatal recognizer error
// occurs, Stop is called, or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.done != nil {
		c.mu.Unlock()
		return errors.New("session: already started")
	}
	sctx, cancel := context.WithCancel(ctx)

	stream, err := c.cfg.Recognizer.Start(sctx)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("session: start recognizer: %w", err)
	}

	now := c.now()
	c.stream = stream
	c.state = StateListening
	c.startedAt = now
	c.lastSpeech = now
	c.lastProgress = now
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.cfg.Metrics.SessionStarted(sctx)
	slog.Info("reading session started", "pages", len(c.pages))

	go c.run(sctx)
	return nil
}

// Stop ends the session and blocks until the loops have exited and the
// completion aggregate has been submitted. Safe to call more than once and
// before Start (a no-op then).
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the session has fully ended. Nil before Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the terminal error, if any, once Done is closed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MatchedCount returns the current page's confirmed-token high-water mark.
func (c *Controller) MatchedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.MatchedCount()
}

// PageIndex returns the index of the page currently being read.
func (c *Controller) PageIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageIdx
}

// PageCount returns the number of non-empty pages in the session.
func (c *Controller) PageCount() int { return len(c.pages) }

// CurrentPassage returns the passage for the page currently being read.
func (c *Controller) CurrentPassage() *align.Passage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passage
}

// run supervises the session loops and performs end-of-session teardown.
func (c *Controller) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.eventLoop(gctx) })
	g.Go(func() error {
		c.superviseStruggle(gctx)
		return nil
	})
	g.Go(func() error {
		c.animator.Run(gctx)
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	c.state = StateIdle
	stream := c.stream
	c.stream = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		c.runErr = err
	}
	finished := c.finished
	metrics := c.buildMetricsLocked(c.now())
	done := c.done
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}

	// On normal completion, reveal whatever is still queued so the highlight
	// does not end mid-walk. A stopped or failed session gets no further UI
	// updates.
	if finished {
		for c.animator.Tick(c.now()) {
		}
	}

	c.cfg.Metrics.SessionEnded(context.Background())
	c.submitCompletion(metrics)

	slog.Info("reading session ended",
		"tokens_read", metrics.TokensRead,
		"accuracy", metrics.Accuracy,
	)
	close(done)
}

// eventLoop consumes recognition events in delivery order, restarting the
// stream when it ends underneath the session.
func (c *Controller) eventLoop(ctx context.Context) error {
	for {
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()

		ended := false
		for !ended {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-stream.Events():
				if !ok || ev.Kind == recognizer.KindEnd {
					ended = true
					continue
				}
				if err := c.handleEvent(ctx, ev); err != nil {
					return err
				}
			}
		}

		if ctx.Err() != nil || c.isFinished() {
			return nil
		}

		// The stream ended on its own. Whatever interim text it was still
		// holding will never be finalized now, so promote it before the next
		// stream starts from scratch.
		c.promotePending()
		c.cfg.Metrics.RecordRestart(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.Timing.RestartDelay):
		}

		next, err := c.cfg.Recognizer.Start(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.notice("Speech recognition is unavailable. The session has ended.")
			return fmt.Errorf("session: restart recognizer: %w", err)
		}
		c.mu.Lock()
		c.stream = next
		c.mu.Unlock()
		slog.Debug("recognizer stream restarted")
	}
}

// handleEvent dispatches one recognition event. A returned error ends the
// session.
func (c *Controller) handleEvent(ctx context.Context, ev recognizer.Event) error {
	switch ev.Kind {
	case recognizer.KindResult:
		c.handleResult(ctx, ev.Entries)
		return nil
	case recognizer.KindError:
		switch ev.Reason {
		case recognizer.ErrNoSpeech, recognizer.ErrAborted:
			slog.Debug("transient recognizer error", "reason", ev.Reason)
			return nil
		default:
			c.notice("Speech recognition failed (" + ev.Reason + "). The session has ended.")
			return fmt.Errorf("session: recognizer error: %s", ev.Reason)
		}
	default:
		return nil
	}
}

// handleResult folds a result event into the transcript and re-runs
// alignment. Final entries append to the confirmed transcript; the interim
// portion is replaced wholesale on every event.
func (c *Controller) handleResult(ctx context.Context, entries []recognizer.Entry) {
	var action streamAction
	var stream recognizer.Stream

	c.mu.Lock()
	now := c.now()
	c.lastSpeech = now

	var interim []string
	for _, e := range entries {
		c.cfg.Metrics.RecordTranscriptEvent(ctx, e.Final)
		if e.Final {
			if t := strings.TrimSpace(e.Text); t != "" {
				c.confirmed = append(c.confirmed, t)
			}
		} else {
			interim = append(interim, e.Text)
		}
	}
	c.pending = strings.TrimSpace(strings.Join(interim, " "))

	begin := time.Now()
	delta := c.tracker.Observe(c.transcriptLocked())
	c.cfg.Metrics.RecordAlignment(ctx, time.Since(begin), delta)

	if delta > 0 {
		c.animator.Enqueue(delta)
		c.lastProgress = now
	}

	if c.tracker.Done() {
		action = c.completePageLocked()
		stream = c.stream
	}
	c.mu.Unlock()

	switch action {
	case actionCloseStream:
		// Force a fresh recognition stream so the old transcript cannot
		// bleed into the next page's alignment.
		if stream != nil {
			_ = stream.Close()
		}
	case actionFinish:
		c.cancel()
	}
}

// completePageLocked folds the finished page into the session totals and
// either advances to the next page or finishes the session.
func (c *Controller) completePageLocked() streamAction {
	m := c.tracker.MatchedCount()
	c.doneTokens += m
	c.doneAccSum += c.tracker.Accuracy() * float64(m)

	slog.Info("page complete", "page", c.pageIdx, "tokens", m)

	if c.pageIdx+1 < len(c.pages) {
		next := c.pageIdx + 1
		c.loadPageLocked(next)
		c.animator.Reset()
		if c.cfg.OnPageChange != nil {
			passage := c.passage
			go c.cfg.OnPageChange(next, passage)
		}
		return actionCloseStream
	}
	c.finished = true
	return actionFinish
}

// loadPageLocked swaps in a fresh passage, tracker, and transcript for the
// page at index i. Alignment state never survives a page change.
func (c *Controller) loadPageLocked(i int) {
	c.pageIdx = i
	c.passage = align.NewPassage(c.pages[i])
	c.tracker = align.NewTracker(c.passage, c.cfg.Matcher, c.cfg.TrackerOptions...)
	c.confirmed = nil
	c.pending = ""
}

// promotePending moves any unfinalized interim text into the confirmed
// transcript. Called when a stream ends: its interim words were really said
// but will never be finalized by the replacement stream.
func (c *Controller) promotePending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != "" {
		c.confirmed = append(c.confirmed, c.pending)
		c.pending = ""
	}
}

// transcriptLocked returns the full running transcript, confirmed plus
// pending. Callers must hold mu.
func (c *Controller) transcriptLocked() string {
	if c.pending == "" {
		return strings.Join(c.confirmed, " ")
	}
	return strings.TrimSpace(strings.Join(c.confirmed, " ") + " " + c.pending)
}

// superviseStruggle runs periodic struggle checks until the session ends.
func (c *Controller) superviseStruggle(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Timing.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckStruggle(ctx)
		}
	}
}

// CheckStruggle performs one struggle evaluation and, when warranted, the
// full feedback cycle: request, pause recognition, speak, resume. It is
// called periodically by the session supervisor and exposed so tests can
// drive it on a simulated clock. At most one cycle runs at a time; extra
// calls return immediately.
func (c *Controller) CheckStruggle(ctx context.Context) {
	c.mu.Lock()
	now := c.now()

	if c.state != StateListening || c.cfg.Feedback == nil || c.inFlight {
		c.mu.Unlock()
		return
	}
	if c.tracker.MatchedCount() < c.cfg.Timing.MinTokensBeforeFeedback {
		c.mu.Unlock()
		return
	}
	if !c.lastFeedback.IsZero() && now.Sub(c.lastFeedback) < c.cfg.Timing.FeedbackCooldown {
		c.mu.Unlock()
		return
	}

	var reason collab.StruggleReason
	switch {
	case now.Sub(c.lastSpeech) >= c.cfg.Timing.SilenceAfter:
		reason = collab.ReasonSilence
	case now.Sub(c.lastProgress) >= c.cfg.Timing.StuckAfter && c.lastSpeech.After(c.lastProgress):
		reason = collab.ReasonStalled
	default:
		c.mu.Unlock()
		return
	}

	req := collab.FeedbackRequest{
		ReferenceText:     c.passage.Text(),
		SpokenText:        c.transcriptLocked(),
		CurrentTokenIndex: c.tracker.MatchedCount(),
		Reason:            reason,
	}
	if c.tracker.Accuracy() < 0.7 {
		req.Flags = append(req.Flags, "low-accuracy")
	}

	c.inFlight = true
	c.lastFeedback = now
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	slog.Info("requesting feedback", "reason", reason, "token_index", req.CurrentTokenIndex)
	fb, err := c.cfg.Feedback.RequestFeedback(ctx, req)
	c.cfg.Metrics.RecordFeedback(ctx, string(reason), err)
	if err != nil {
		slog.Warn("feedback request failed", "error", err)
		return
	}
	// The session may have ended while the request was in flight. Late
	// feedback is dropped, never played into a dead session.
	if ctx.Err() != nil {
		return
	}
	if fb == nil {
		return
	}

	c.mu.Lock()
	if fb.AccuracyOverride != nil {
		c.accOverride = fb.AccuracyOverride
	}
	c.mu.Unlock()

	if fb.Utterance != "" {
		c.speakFeedback(ctx, fb.Utterance)
	}
}

// speakFeedback plays the tutor utterance with recognition paused, then
// returns the session to listening.
func (c *Controller) speakFeedback(ctx context.Context, utterance string) {
	if c.cfg.Player == nil {
		c.notice(utterance)
		return
	}

	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateSpeaking
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Pause(); err != nil {
			slog.Warn("pause recognition for feedback", "error", err)
		}
	}

	if err := c.cfg.Player.Speak(ctx, utterance); err != nil {
		slog.Warn("feedback playback failed", "error", err)
	}

	c.mu.Lock()
	if c.state == StateSpeaking {
		c.state = StateListening
	}
	// Playback time is not reading time; restart the struggle timers so the
	// reader gets a full window to act on the help.
	now := c.now()
	c.lastSpeech = now
	c.lastProgress = now
	stream = c.stream
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Resume(); err != nil {
			slog.Warn("resume recognition after feedback", "error", err)
		}
	}
}

// buildMetricsLocked assembles the completion aggregate. Callers must hold mu.
func (c *Controller) buildMetricsLocked(now time.Time) collab.SessionMetrics {
	tokens := c.doneTokens
	accSum := c.doneAccSum
	if !c.finished && c.tracker != nil {
		m := c.tracker.MatchedCount()
		tokens += m
		accSum += c.tracker.Accuracy() * float64(m)
	}

	accuracy := 1.0
	if tokens > 0 {
		accuracy = accSum / float64(tokens)
	}
	if c.accOverride != nil {
		accuracy = *c.accOverride
	}

	elapsed := 0.0
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}
	tpm := 0.0
	if elapsed > 0 {
		tpm = float64(tokens) / (elapsed / 60)
	}

	return collab.SessionMetrics{
		ElapsedSeconds:  elapsed,
		TokensRead:      tokens,
		TokensPerMinute: tpm,
		Accuracy:        accuracy,
	}
}

// submitCompletion delivers the aggregate on a fresh context; the session
// context is already cancelled by the time the session ends.
func (c *Controller) submitCompletion(m collab.SessionMetrics) {
	if c.cfg.Completion == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Completion.SubmitCompletion(ctx, m); err != nil {
		slog.Warn("submit session completion", "error", err)
	}
}

// isFinished reports whether the last page has been completed.
func (c *Controller) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// notice forwards a user-visible notice when a sink is attached.
func (c *Controller) notice(text string) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(text)
	}
}
