// Package align implements the real-time read-aloud alignment engine: a
// fuzzy word matcher tuned for recognizer noise and a sequential tracker
// that maps a live, partially-unstable transcript onto a fixed reference
// passage.
//
// The tracker's position is a high-water mark: it only ever moves forward,
// so revisions of interim recognizer text and mid-passage recognizer
// restarts can never make the highlight walk backwards.
package align

import (
	"strings"

	"github.com/parlando-ai/parlando/internal/textproc"
)

// Passage is an immutable reference text prepared for alignment. It keeps
// two parallel token sequences: display tokens with original casing and
// punctuation for rendering, and normalized comparison tokens for matching.
// Comparison tokens may be empty (pure punctuation); those auto-match during
// alignment so they never block progress.
type Passage struct {
	display    []string
	comparison []string
}

// NewPassage tokenizes text into a Passage. An empty or whitespace-only text
// yields a zero-length passage.
func NewPassage(text string) *Passage {
	toks := textproc.Tokenize(text)
	return &Passage{display: toks.Display, comparison: toks.Comparison}
}

// Len returns the number of tokens in the passage.
func (p *Passage) Len() int { return len(p.display) }

// Display returns the display token at index i.
func (p *Passage) Display(i int) string { return p.display[i] }

// Comparison returns the normalized comparison token at index i.
// It may be empty for pure-punctuation tokens.
func (p *Passage) Comparison(i int) string { return p.comparison[i] }

// DisplayTokens returns a copy of the display token sequence.
func (p *Passage) DisplayTokens() []string {
	out := make([]string, len(p.display))
	copy(out, p.display)
	return out
}

// Text returns the display tokens rejoined with single spaces. Used when the
// full reference text is sent to the feedback collaborator.
func (p *Passage) Text() string { return strings.Join(p.display, " ") }

// nextReal returns the first index >= i whose comparison token is non-empty,
// or Len() when none remains. Empty comparison tokens are auto-matching
// placeholders and are stepped over wherever the tracker advances.
func (p *Passage) nextReal(i int) int {
	for i < len(p.comparison) && p.comparison[i] == "" {
		i++
	}
	return i
}
