// Package speech defines the contract for speech playback capabilities.
// Voice-selection heuristics are the capability's own concern; the engine
// only needs to speak an utterance and learn when playback finished, because
// recognition is paused for exactly that window.
//
// Implementations must be safe for concurrent use.
package speech

import "context"

// Player plays synthesized speech.
type Player interface {
	// Speak synthesizes and plays utterance, returning once playback has
	// completed or failed. Respecting ctx cancellation is required; a
	// cancelled Speak must stop playback promptly.
	Speak(ctx context.Context, utterance string) error
}
