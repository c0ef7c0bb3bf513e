package collab_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/parlando-ai/parlando/internal/collab"
)

func TestClient_FetchPassage_Pages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/passages/ch-1" {
			t.Errorf("path = %q, want /api/passages/ch-1", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pages": []string{"Page one.", "Page two."},
		})
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	pages, err := c.FetchPassage(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("FetchPassage: %v", err)
	}
	want := []string{"Page one.", "Page two."}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("pages = %v, want %v", pages, want)
	}
}

func TestClient_FetchPassage_BlobSplit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "First paragraph.\n\nSecond paragraph.\n\n\n",
		})
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	pages, err := c.FetchPassage(context.Background(), "any")
	if err != nil {
		t.Fatalf("FetchPassage: %v", err)
	}
	want := []string{"First paragraph.", "Second paragraph."}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("pages = %v, want %v", pages, want)
	}
}

func TestClient_RequestFeedback_PartialPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req collab.FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Reason != collab.ReasonStalled {
			t.Errorf("reason = %q, want stalled", req.Reason)
		}
		// Only the utterance comes back; the other fields are absent.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"feedback_utterance": "Try sounding it out.",
		})
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	fb, err := c.RequestFeedback(context.Background(), collab.FeedbackRequest{
		ReferenceText:     "The little fox",
		SpokenText:        "the li",
		CurrentTokenIndex: 1,
		Reason:            collab.ReasonStalled,
	})
	if err != nil {
		t.Fatalf("RequestFeedback: %v", err)
	}
	if fb.Utterance != "Try sounding it out." {
		t.Errorf("Utterance = %q", fb.Utterance)
	}
	if fb.AccuracyOverride != nil {
		t.Errorf("AccuracyOverride = %v, want nil (no update)", *fb.AccuracyOverride)
	}
	if fb.IncorrectTokens != nil {
		t.Errorf("IncorrectTokens = %v, want nil (no update)", fb.IncorrectTokens)
	}
}

func TestClient_RequestFeedback_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	fb, err := c.RequestFeedback(context.Background(), collab.FeedbackRequest{})
	if err != nil {
		t.Fatalf("RequestFeedback: %v", err)
	}
	if fb.Utterance != "" || fb.AccuracyOverride != nil || fb.IncorrectTokens != nil {
		t.Errorf("feedback = %+v, want all no-update defaults", fb)
	}
}

func TestClient_SubmitCompletion(t *testing.T) {
	t.Parallel()

	var got collab.SessionMetrics
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	m := collab.SessionMetrics{
		ElapsedSeconds:  95.5,
		TokensRead:      120,
		TokensPerMinute: 75.4,
		Accuracy:        0.92,
	}
	if err := c.SubmitCompletion(context.Background(), m); err != nil {
		t.Fatalf("SubmitCompletion: %v", err)
	}
	if got.TokensRead != 120 || got.Accuracy != 0.92 {
		t.Errorf("server received %+v, want %+v", got, m)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := collab.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.FetchPassage(context.Background(), "x"); err == nil {
		t.Error("FetchPassage on 500 = nil error, want error")
	}
	if err := c.SubmitCompletion(context.Background(), collab.SessionMetrics{}); err == nil {
		t.Error("SubmitCompletion on 500 = nil error, want error")
	}
}

func TestSplitPages(t *testing.T) {
	t.Parallel()

	got := collab.SplitPages("a\r\n\r\nb\n\n\nc")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitPages = %v, want %v", got, want)
	}
}
