// Package resilience provides playback failover for tutor feedback audio.
//
// Feedback must degrade gracefully: when the primary synthesis path fails,
// the utterance is retried on a secondary (typically lower-quality) path;
// when that also fails the session simply resumes listening in silence. A
// failed cycle never breaks the session and never suppresses future
// attempts — the next feedback request starts again from the primary.
package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/parlando-ai/parlando/pkg/speech"
)

// ErrAllPlayersFailed is returned when every player in the chain failed.
var ErrAllPlayersFailed = errors.New("resilience: all players failed")

// playerEntry pairs a player with its log label.
type playerEntry struct {
	name   string
	player speech.Player
}

// PlayerChain is a speech.Player that tries an ordered list of players until
// one succeeds. It is read-only after construction and safe for concurrent
// use.
type PlayerChain struct {
	entries []playerEntry
}

var _ speech.Player = (*PlayerChain)(nil)

// NewPlayerChain creates a chain with primary as the preferred player.
func NewPlayerChain(primaryName string, primary speech.Player) *PlayerChain {
	return &PlayerChain{
		entries: []playerEntry{{name: primaryName, player: primary}},
	}
}

// AddFallback appends a fallback player. Fallbacks are tried in the order
// they are added, after the primary.
func (c *PlayerChain) AddFallback(name string, p speech.Player) {
	c.entries = append(c.entries, playerEntry{name: name, player: p})
}

// Speak plays utterance on the first player that succeeds. A cancelled
// context aborts immediately without trying further players. When every
// player fails, the last error is returned wrapped in [ErrAllPlayersFailed].
func (c *PlayerChain) Speak(ctx context.Context, utterance string) error {
	var lastErr error
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.player.Speak(ctx, utterance)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("speech playback failed, trying next player",
			"player", e.name,
			"error", err,
		)
	}
	return errors.Join(ErrAllPlayersFailed, lastErr)
}
