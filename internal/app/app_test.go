package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parlando-ai/parlando/internal/app"
	"github.com/parlando-ai/parlando/internal/collab"
	"github.com/parlando-ai/parlando/internal/config"
)

// staticContent serves fixed pages for any passage ID.
type staticContent struct {
	pages []string
}

func (s *staticContent) FetchPassage(ctx context.Context, passageID string) ([]string, error) {
	return s.pages, nil
}

// captureSink records the submitted session aggregate.
type captureSink struct {
	mu sync.Mutex
	m  *collab.SessionMetrics
}

func (s *captureSink) SubmitCompletion(ctx context.Context, m collab.SessionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = &m
	return nil
}

func (s *captureSink) metrics() *collab.SessionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":0"},
		Backend: config.BackendConfig{BaseURL: "http://localhost:9"},
		Reveal:  config.RevealConfig{Interval: config.Duration(20 * time.Millisecond)},
	}
}

func TestApp_HealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithContentProvider(&staticContent{}), app.WithCompletionSink(&captureSink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ReadyzReportsBackendDown(t *testing.T) {
	t.Parallel()

	// The backend URL points at a closed port; the probe must fail and the
	// readiness endpoint must say so.
	a, err := app.New(testConfig(), app.WithContentProvider(&staticContent{}), app.WithCompletionSink(&captureSink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503 with the backend unreachable", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "fail" || body.Checks["backend"] == "ok" {
		t.Errorf("body = %+v, want failing backend check", body)
	}
}

func TestApp_SessionRejectsMissingPassage(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithContentProvider(&staticContent{}), app.WithCompletionSink(&captureSink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/session")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestApp_FullSession drives a complete reading session through the
// websocket endpoint, acting as the browser.
func TestApp_FullSession(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	a, err := app.New(testConfig(),
		app.WithContentProvider(&staticContent{pages: []string{"The little fox ran fast"}}),
		app.WithCompletionSink(sink),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?passage=fox-1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	var (
		sawPage     bool
		sawSnapshot bool
		sawComplete bool
		sentPassage bool
	)
	for !sawComplete {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read (page=%v snapshot=%v): %v", sawPage, sawSnapshot, err)
		}
		var msg struct {
			Type     string   `json:"type"`
			Text     string   `json:"text"`
			Revealed int      `json:"revealed"`
			Tokens   []string `json:"tokens"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		switch msg.Type {
		case "page":
			sawPage = true
			if len(msg.Tokens) != 5 {
				t.Errorf("page tokens = %v, want 5 tokens", msg.Tokens)
			}
		case "listen-start":
			if sentPassage {
				break
			}
			sentPassage = true
			payload := `{"type":"result","entries":[{"text":"the little fox ran fast","final":true}]}`
			if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
				t.Fatalf("write result: %v", err)
			}
		case "snapshot":
			sawSnapshot = true
		case "notice":
			if strings.Contains(msg.Text, "complete") {
				sawComplete = true
			}
		}
	}

	if !sawPage {
		t.Error("never received the initial page message")
	}
	if !sawSnapshot {
		t.Error("never received a highlight snapshot")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.metrics() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	m := sink.metrics()
	if m == nil {
		t.Fatal("completion was not submitted")
	}
	if m.TokensRead != 5 {
		t.Errorf("TokensRead = %d, want 5", m.TokensRead)
	}
}
