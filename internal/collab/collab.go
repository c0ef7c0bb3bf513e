// Package collab defines the engine's external collaborators: the content
// service that supplies reference passages, the feedback service that turns
// alignment state into a tutoring utterance, and the completion sink that
// receives aggregate session metrics.
//
// Collaborators are intentionally thin contracts. The engine must tolerate
// any of them being slow, erroring, or returning partial payloads — a
// missing response field always means "no update", never a failure.
package collab

import "context"

// StruggleReason says why the session controller decided to ask for help.
type StruggleReason string

const (
	// ReasonSilence means no speech activity for the silence threshold.
	ReasonSilence StruggleReason = "silence"

	// ReasonStalled means speech continued but alignment made no progress.
	ReasonStalled StruggleReason = "stalled"
)

// FeedbackRequest carries the alignment state the tutor needs to respond.
type FeedbackRequest struct {
	// ReferenceText is the full display text of the current page.
	ReferenceText string `json:"reference_text"`

	// SpokenText is the running transcript (confirmed + pending).
	SpokenText string `json:"spoken_text"`

	// CurrentTokenIndex is the matched-count high-water mark: the index of
	// the token the reader is expected to say next.
	CurrentTokenIndex int `json:"current_token_index"`

	// Reason is the struggle condition that triggered this request.
	Reason StruggleReason `json:"reason"`

	// Flags carries additional struggle markers (e.g. "repeated-word").
	Flags []string `json:"flags,omitempty"`
}

// Feedback is the tutor's response. Every field is optional; zero values
// mean the collaborator had no update for that aspect.
type Feedback struct {
	// Utterance is the tutoring line to speak. Empty means stay silent.
	Utterance string

	// AccuracyOverride replaces the locally computed accuracy when non-nil.
	AccuracyOverride *float64

	// IncorrectTokens lists reference token indices the collaborator judged
	// misread. Nil means no update.
	IncorrectTokens []int
}

// SessionMetrics is the aggregate submitted when a reading session ends.
type SessionMetrics struct {
	// ElapsedSeconds is the wall-clock reading time.
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	// TokensRead is the number of reference tokens confirmed.
	TokensRead int `json:"tokens_read"`

	// TokensPerMinute is the reading pace.
	TokensPerMinute float64 `json:"tokens_per_minute"`

	// Accuracy is the final reading accuracy in [0, 1].
	Accuracy float64 `json:"accuracy"`

	// Comprehension is an optional post-reading comprehension rating.
	Comprehension *float64 `json:"comprehension,omitempty"`
}

// ContentProvider fetches reference passages split into pages.
type ContentProvider interface {
	// FetchPassage returns the ordered page texts for a passage identifier.
	FetchPassage(ctx context.Context, passageID string) ([]string, error)
}

// FeedbackProvider turns alignment state into a tutoring utterance.
type FeedbackProvider interface {
	// RequestFeedback asks the tutor for help. A nil error with an empty
	// Feedback is valid: the tutor chose to stay silent.
	RequestFeedback(ctx context.Context, req FeedbackRequest) (*Feedback, error)
}

// CompletionSink accepts aggregate metrics for a finished session.
type CompletionSink interface {
	// SubmitCompletion delivers the session aggregate. The engine only
	// depends on success or failure, never on a response body.
	SubmitCompletion(ctx context.Context, m SessionMetrics) error
}
