package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parlando-ai/parlando/internal/resilience"
	"github.com/parlando-ai/parlando/pkg/speech/mock"
)

func TestPlayerChain_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &mock.Player{}
	secondary := &mock.Player{}
	chain := resilience.NewPlayerChain("primary", primary)
	chain.AddFallback("secondary", secondary)

	if err := chain.Speak(context.Background(), "well done"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := primary.Spoken(); len(got) != 1 || got[0] != "well done" {
		t.Errorf("primary spoke %v, want [well done]", got)
	}
	if got := secondary.Spoken(); len(got) != 0 {
		t.Errorf("secondary spoke %v, want nothing", got)
	}
}

func TestPlayerChain_FallsBackOnFailure(t *testing.T) {
	t.Parallel()

	primary := &mock.Player{Err: errors.New("synth unavailable")}
	secondary := &mock.Player{}
	chain := resilience.NewPlayerChain("primary", primary)
	chain.AddFallback("secondary", secondary)

	if err := chain.Speak(context.Background(), "keep going"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := secondary.Spoken(); len(got) != 1 || got[0] != "keep going" {
		t.Errorf("secondary spoke %v, want [keep going]", got)
	}
}

func TestPlayerChain_AllFail(t *testing.T) {
	t.Parallel()

	chain := resilience.NewPlayerChain("primary", &mock.Player{Err: errors.New("a")})
	chain.AddFallback("secondary", &mock.Player{Err: errors.New("b")})

	err := chain.Speak(context.Background(), "anything")
	if !errors.Is(err, resilience.ErrAllPlayersFailed) {
		t.Errorf("Speak error = %v, want ErrAllPlayersFailed", err)
	}
}

func TestPlayerChain_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	secondary := &mock.Player{}
	chain := resilience.NewPlayerChain("primary", &mock.Player{Err: errors.New("a")})
	chain.AddFallback("secondary", secondary)

	if err := chain.Speak(ctx, "anything"); !errors.Is(err, context.Canceled) {
		t.Errorf("Speak error = %v, want context.Canceled", err)
	}
	if len(secondary.Spoken()) != 0 {
		t.Error("secondary was tried despite cancelled context")
	}
}
