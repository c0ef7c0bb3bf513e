// Package llmfeedback implements [collab.FeedbackProvider] directly against
// a language model via github.com/mozilla-ai/any-llm-go, for deployments
// that run without the REST tutoring backend. The model receives the
// reference text, the transcript so far, and the stuck position, and
// answers with a single short tutoring line.
package llmfeedback

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/parlando-ai/parlando/internal/collab"
)

// systemPrompt is the reading-tutor persona. The model must answer with one
// short spoken line — it is synthesized and played mid-session, so anything
// longer than a sentence or two interrupts the reading flow.
const systemPrompt = `You are Ms. Story, a warm and patient reading tutor for children.
A student is reading a passage aloud and has gotten stuck. You will see the
passage, what the student has said so far, and the word they are stuck on.
Reply with ONE short, encouraging spoken sentence that helps them continue.
Do not quote the whole passage. Do not use emoji or stage directions.`

const (
	defaultMaxTokens   = 80
	defaultTemperature = 0.7
)

// Provider implements [collab.FeedbackProvider] over an LLM backend.
// It is read-only after construction and safe for concurrent use.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ collab.FeedbackProvider = (*Provider)(nil)

// New creates a Provider for the given backend name and model.
//
// providerName is one of "openai", "anthropic", or "ollama". Without an API
// key option the backend falls back to its environment variable (e.g.
// OPENAI_API_KEY).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("llmfeedback: model must not be empty")
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("llmfeedback: unsupported provider %q; supported: openai, anthropic, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("llmfeedback: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// RequestFeedback implements [collab.FeedbackProvider]. Only the utterance
// field of the response is ever populated; accuracy assessment stays with
// the alignment engine.
func (p *Provider) RequestFeedback(ctx context.Context, req collab.FeedbackRequest) (*collab.Feedback, error) {
	temp := defaultTemperature
	maxTokens := defaultMaxTokens

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: buildPrompt(req)},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llmfeedback: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmfeedback: empty choices in response")
	}

	return &collab.Feedback{
		Utterance: strings.TrimSpace(resp.Choices[0].Message.ContentString()),
	}, nil
}

// buildPrompt renders the alignment state for the model.
func buildPrompt(req collab.FeedbackRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Passage:\n%s\n\n", req.ReferenceText)
	fmt.Fprintf(&b, "Student has said:\n%s\n\n", req.SpokenText)
	fmt.Fprintf(&b, "Stuck at word number %d.\n", req.CurrentTokenIndex+1)
	switch req.Reason {
	case collab.ReasonSilence:
		b.WriteString("The student has gone quiet.")
	case collab.ReasonStalled:
		b.WriteString("The student keeps talking but is not progressing.")
	}
	if len(req.Flags) > 0 {
		fmt.Fprintf(&b, " Additional notes: %s.", strings.Join(req.Flags, ", "))
	}
	return b.String()
}
