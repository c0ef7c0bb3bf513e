// Package app wires the Parlando subsystems into a running HTTP server: the
// tutoring backend client, the feedback source, health and metrics
// endpoints, and the per-connection reading session assembly.
//
// For testing, inject collaborator doubles via functional options
// (WithContentProvider, WithFeedbackProvider, ...). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlando-ai/parlando/internal/align"
	"github.com/parlando-ai/parlando/internal/collab"
	"github.com/parlando-ai/parlando/internal/collab/llmfeedback"
	"github.com/parlando-ai/parlando/internal/config"
	"github.com/parlando-ai/parlando/internal/health"
	"github.com/parlando-ai/parlando/internal/observe"
	"github.com/parlando-ai/parlando/internal/resilience"
	"github.com/parlando-ai/parlando/internal/reveal"
	"github.com/parlando-ai/parlando/internal/session"
	"github.com/parlando-ai/parlando/pkg/recognizer/wsbridge"
)

// shutdownGrace is how long Run waits for in-flight requests on shutdown.
const shutdownGrace = 10 * time.Second

// probeTimeout caps one backend readiness probe.
const probeTimeout = 5 * time.Second

// App owns the HTTP surface and the collaborators shared by all sessions.
type App struct {
	cfg *config.Config

	content    collab.ContentProvider
	feedback   collab.FeedbackProvider
	completion collab.CompletionSink
	metrics    *observe.Metrics
	probe      *http.Client

	mux *http.ServeMux
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithContentProvider injects a passage source instead of the backend client.
func WithContentProvider(p collab.ContentProvider) Option {
	return func(a *App) { a.content = p }
}

// WithFeedbackProvider injects a feedback source instead of the configured
// one.
func WithFeedbackProvider(p collab.FeedbackProvider) Option {
	return func(a *App) { a.feedback = p }
}

// WithCompletionSink injects a completion sink instead of the backend client.
func WithCompletionSink(s collab.CompletionSink) Option {
	return func(a *App) { a.completion = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires an App from the config. Collaborators not injected via options
// are created from cfg: the backend HTTP client for content, feedback, and
// completion, or the LLM feedback provider when feedback.mode is "llm".
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	var backend *collab.Client
	needBackend := a.content == nil || a.completion == nil ||
		(a.feedback == nil && cfg.Feedback.Mode != config.FeedbackLLM && cfg.Feedback.Mode != config.FeedbackOff)
	if needBackend {
		var copts []collab.ClientOption
		if d := cfg.Backend.Timeout.Std(); d > 0 {
			copts = append(copts, collab.WithTimeout(d))
		}
		c, err := collab.NewClient(cfg.Backend.BaseURL, copts...)
		if err != nil {
			return nil, fmt.Errorf("app: backend client: %w", err)
		}
		backend = c
	}

	if a.content == nil {
		a.content = backend
	}
	if a.completion == nil {
		a.completion = backend
	}
	if a.feedback == nil {
		switch cfg.Feedback.Mode {
		case config.FeedbackOff:
			// leave nil; the controller skips struggle checks
		case config.FeedbackLLM:
			llm := cfg.Feedback.LLM
			p, err := llmfeedback.New(llm.Provider, llm.Model, llmOptions(llm)...)
			if err != nil {
				return nil, fmt.Errorf("app: llm feedback: %w", err)
			}
			a.feedback = p
		default:
			a.feedback = backend
		}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.probe = &http.Client{Timeout: probeTimeout}

	a.mux = http.NewServeMux()
	a.routes()
	return a, nil
}

// routes registers all HTTP endpoints.
func (a *App) routes() {
	health.New(health.Checker{
		Name:  "backend",
		Check: a.checkBackend,
	}).Register(a.mux)

	a.mux.Handle("GET /metrics", promhttp.Handler())
	a.mux.HandleFunc("GET /ws/session", a.handleSession)
}

// Handler returns the root HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler { return a.mux }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// checkBackend probes the tutoring backend. Any HTTP answer counts as up;
// only transport failures mark it unready.
func (a *App) checkBackend(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Backend.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := a.probe.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// handleSession upgrades the connection to a WebSocket and runs one full
// reading session over it. The connection is the session: when the browser
// leaves, the session stops and its aggregate is submitted.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	passageID := r.URL.Query().Get("passage")
	if passageID == "" {
		http.Error(w, "missing passage query parameter", http.StatusBadRequest)
		return
	}

	pages, err := a.content.FetchPassage(r.Context(), passageID)
	if err != nil {
		slog.Error("fetch passage", "passage", passageID, "error", err)
		http.Error(w, "passage unavailable", http.StatusBadGateway)
		return
	}

	bridge, err := wsbridge.Accept(w, r)
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}
	defer bridge.Close()

	var animOpts []reveal.Option
	if d := a.cfg.Reveal.Interval.Std(); d > 0 {
		animOpts = append(animOpts, reveal.WithInterval(d))
	}
	animator := reveal.New(bridge.PushSnapshot, animOpts...)

	player := resilience.NewPlayerChain("browser", bridge)

	ctrl, err := session.NewController(pages, session.Config{
		Recognizer:     bridge,
		Feedback:       a.feedback,
		Completion:     a.completion,
		Player:         player,
		Animator:       animator,
		Matcher:        align.NewMatcher(a.cfg.Alignment.MatcherOptions()...),
		TrackerOptions: a.cfg.Alignment.TrackerOptions(),
		Timing:         a.cfg.Session.Timing(),
		Metrics:        a.metrics,
		OnNotice:       bridge.PushNotice,
		OnPageChange: func(idx int, p *align.Passage) {
			bridge.PushPage(idx, p.DisplayTokens())
		},
	})
	if err != nil {
		slog.Error("assemble session", "passage", passageID, "error", err)
		bridge.PushNotice("This passage cannot be read right now.")
		return
	}

	// The browser needs the first page before recognition starts.
	bridge.PushPage(ctrl.PageIndex(), ctrl.CurrentPassage().DisplayTokens())

	ctx := r.Context()
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("start session", "passage", passageID, "error", err)
		bridge.PushNotice("Could not start the reading session.")
		return
	}
	slog.Info("session connected", "passage", passageID, "pages", len(pages))

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- bridge.Run(ctx) }()

	select {
	case <-ctrl.Done():
		bridge.PushNotice("Great reading! The session is complete.")
	case err := <-bridgeErr:
		if err != nil {
			slog.Debug("bridge closed", "error", err)
		}
	}
	ctrl.Stop()
	slog.Info("session disconnected", "passage", passageID)
}

// llmOptions converts the LLM config block into provider options.
func llmOptions(cfg config.LLMConfig) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	return opts
}
