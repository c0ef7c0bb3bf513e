// Package recognizer defines the contract for speech-recognition
// capabilities. The engine never controls recognizer internals — it only
// starts and stops streams and consumes the events they emit.
//
// A recognition stream delivers three kinds of events: results carrying zero
// or more entries individually marked final or interim, errors carrying a
// reason code, and an end-of-stream marker with no payload. Interim entries
// are unstable and fully replaced on every update; final entries are
// committed. The recognizer may end a stream at any time without an explicit
// stop — the session controller treats that as a restartable condition, not
// an error.
//
// Implementations must be safe for concurrent use.
package recognizer

import "context"

// EventKind discriminates the events a stream emits.
type EventKind int

const (
	// KindResult carries one or more recognition entries.
	KindResult EventKind = iota

	// KindError carries a reason code. See the Err* constants for the codes
	// the session controller distinguishes.
	KindError

	// KindEnd marks the end of the recognition stream. It has no payload.
	KindEnd
)

// Recognition error reason codes, mirroring the Web Speech API error names
// the browser capture layer forwards.
const (
	// ErrNoSpeech means no speech was detected before the recognizer's
	// internal timeout. Transient; ignored.
	ErrNoSpeech = "no-speech"

	// ErrAborted means the stream was torn down deliberately. Transient.
	ErrAborted = "aborted"

	// ErrAudioCapture means the microphone could not be read. Fatal.
	ErrAudioCapture = "audio-capture"

	// ErrNotAllowed means microphone permission was denied. Fatal.
	ErrNotAllowed = "not-allowed"

	// ErrNetwork means the recognition service is unreachable. Fatal.
	ErrNetwork = "network"
)

// Entry is a single recognition alternative within a result event.
type Entry struct {
	// Text is the recognized speech content.
	Text string

	// Final indicates a committed result. Non-final entries are interim
	// guesses that the recognizer may still revise or discard.
	Final bool
}

// Event is one recognizer emission, delivered in recognition order.
type Event struct {
	Kind EventKind

	// Entries holds the recognition entries for KindResult events.
	Entries []Entry

	// Reason holds the error code for KindError events.
	Reason string
}

// Stream is an open recognition stream.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so may leak goroutines inside the implementation. All methods must be safe
// for concurrent use.
type Stream interface {
	// Events returns a read-only channel of recognition events in delivery
	// order. The channel is closed after the KindEnd event (or after Close).
	Events() <-chan Event

	// Pause suspends recognition without ending the stream. Used while
	// tutor feedback audio plays so the tutor's own voice is not captured.
	Pause() error

	// Resume re-enables recognition after a Pause.
	Resume() error

	// Close terminates the stream and releases resources. Safe to call more
	// than once; subsequent calls return nil.
	Close() error
}

// Provider is the abstraction over any recognition capability.
type Provider interface {
	// Start opens a new recognition stream. The returned Stream is emitting
	// events immediately. Returns an error if the capability cannot start
	// (e.g., the capture transport is gone or ctx is already cancelled).
	Start(ctx context.Context) (Stream, error)
}
