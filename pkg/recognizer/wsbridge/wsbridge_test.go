package wsbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parlando-ai/parlando/internal/reveal"
	"github.com/parlando-ai/parlando/pkg/recognizer"
	"github.com/parlando-ai/parlando/pkg/recognizer/wsbridge"
)

// wireMessage is the loose envelope the fake browser reads and writes.
type wireMessage struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Revealed int              `json:"revealed"`
	Queued   int              `json:"queued"`
	Page     int              `json:"page"`
	Tokens   []string         `json:"tokens,omitempty"`
	Entries  []map[string]any `json:"entries,omitempty"`
}

// newBridgePair starts a server, connects a fake browser to it, and returns
// both ends.
func newBridgePair(t *testing.T) (*wsbridge.Bridge, *websocket.Conn) {
	t.Helper()

	bridges := make(chan *wsbridge.Bridge, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := wsbridge.Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		bridges <- b
		_ = b.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	select {
	case b := <-bridges:
		t.Cleanup(func() { _ = b.Close() })
		return b, conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bridge")
		return nil, nil
	}
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("browser read: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("browser unmarshal: %v", err)
	}
	return msg
}

func writeWire(t *testing.T, conn *websocket.Conn, msg wireMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("browser marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("browser write: %v", err)
	}
}

func TestBridge_RecognitionRoundTrip(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)

	stream, err := bridge.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if msg := readWire(t, browser); msg.Type != "listen-start" {
		t.Fatalf("browser got %q, want listen-start", msg.Type)
	}

	writeWire(t, browser, wireMessage{
		Type: "result",
		Entries: []map[string]any{
			{"text": "the little fox", "final": false},
		},
	})

	select {
	case ev := <-stream.Events():
		if ev.Kind != recognizer.KindResult {
			t.Fatalf("event kind = %v, want result", ev.Kind)
		}
		if len(ev.Entries) != 1 || ev.Entries[0].Text != "the little fox" || ev.Entries[0].Final {
			t.Errorf("entries = %+v", ev.Entries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result event")
	}

	writeWire(t, browser, wireMessage{Type: "error", Reason: recognizer.ErrNoSpeech})
	select {
	case ev := <-stream.Events():
		if ev.Kind != recognizer.KindError || ev.Reason != recognizer.ErrNoSpeech {
			t.Errorf("event = %+v, want no-speech error", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error event")
	}

	// A browser-side end delivers KindEnd and closes the channel.
	writeWire(t, browser, wireMessage{Type: "end"})
	sawEnd := false
	deadline := time.After(5 * time.Second)
	for !sawEnd {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatal("channel closed before KindEnd")
			}
			if ev.Kind == recognizer.KindEnd {
				sawEnd = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for end event")
		}
	}
	if _, ok := <-stream.Events(); ok {
		t.Error("events channel still open after end")
	}

	// The bridge is free for a new stream now.
	if _, err := bridge.Start(context.Background()); err != nil {
		t.Errorf("Start after end: %v", err)
	}
}

func TestBridge_PauseResumeStop(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)

	stream, err := bridge.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	readWire(t, browser) // listen-start

	if err := stream.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if msg := readWire(t, browser); msg.Type != "pause" {
		t.Errorf("browser got %q, want pause", msg.Type)
	}
	if err := stream.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if msg := readWire(t, browser); msg.Type != "resume" {
		t.Errorf("browser got %q, want resume", msg.Type)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if msg := readWire(t, browser); msg.Type != "listen-stop" {
		t.Errorf("browser got %q, want listen-stop", msg.Type)
	}
	if _, ok := <-stream.Events(); ok {
		t.Error("events channel open after Close")
	}
}

func TestBridge_SpeakWaitsForConfirmation(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)

	spoken := make(chan error, 1)
	go func() {
		spoken <- bridge.Speak(context.Background(), "Nice reading!")
	}()

	msg := readWire(t, browser)
	if msg.Type != "speak" || msg.Text != "Nice reading!" {
		t.Fatalf("browser got %+v, want speak message", msg)
	}

	select {
	case <-spoken:
		t.Fatal("Speak returned before the browser confirmed")
	case <-time.After(50 * time.Millisecond):
	}

	writeWire(t, browser, wireMessage{Type: "speak-done"})
	select {
	case err := <-spoken:
		if err != nil {
			t.Errorf("Speak: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Speak to return")
	}
}

func TestBridge_SpeakCancelled(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)

	ctx, cancel := context.WithCancel(context.Background())
	spoken := make(chan error, 1)
	go func() {
		spoken <- bridge.Speak(ctx, "hello")
	}()
	readWire(t, browser) // speak

	cancel()
	select {
	case err := <-spoken:
		if err == nil {
			t.Error("Speak after cancel = nil error, want context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancelled Speak")
	}
}

func TestBridge_Pushes(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)

	bridge.PushSnapshot(reveal.Snapshot{Revealed: 4, Queued: 2})
	if msg := readWire(t, browser); msg.Type != "snapshot" || msg.Revealed != 4 || msg.Queued != 2 {
		t.Errorf("snapshot message = %+v", msg)
	}

	bridge.PushPage(1, []string{"Once", "upon"})
	msg := readWire(t, browser)
	if msg.Type != "page" || msg.Page != 1 || len(msg.Tokens) != 2 {
		t.Errorf("page message = %+v", msg)
	}

	bridge.PushNotice("Microphone lost.")
	if msg := readWire(t, browser); msg.Type != "notice" || msg.Text != "Microphone lost." {
		t.Errorf("notice message = %+v", msg)
	}
}

func TestBridge_ClosedConnection(t *testing.T) {
	t.Parallel()

	bridge, browser := newBridgePair(t)
	_ = browser.Close(websocket.StatusNormalClosure, "user left")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := bridge.Start(context.Background())
		if errors.Is(err, wsbridge.ErrClosed) {
			return // bridge noticed the disconnect
		}
		if s != nil {
			_ = s.Close()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("bridge still accepts streams after the client disconnected")
}
