// Package mock provides speech.Player implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/parlando-ai/parlando/pkg/speech"
)

// Player records spoken utterances and optionally fails every call.
type Player struct {
	mu     sync.Mutex
	spoken []string

	// Err, when non-nil, is returned from every Speak call.
	Err error
}

var _ speech.Player = (*Player)(nil)

// Speak implements speech.Player.
func (p *Player) Speak(ctx context.Context, utterance string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.spoken = append(p.spoken, utterance)
	return nil
}

// Spoken returns the utterances played so far.
func (p *Player) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.spoken))
	copy(out, p.spoken)
	return out
}
