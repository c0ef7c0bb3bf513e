// Package wsbridge adapts a browser tab into engine capabilities over a
// WebSocket. The browser owns the microphone and the speech synthesis voice;
// the server owns everything else. One [Bridge] wraps one connection and
// implements [recognizer.Provider] for the capture direction and
// [speech.Player] for the playback direction, while pushing highlight
// snapshots and page changes the other way.
//
// Wire format is JSON text messages. Browser to server:
//
//	{"type":"result","entries":[{"text":"the little","final":false}]}
//	{"type":"error","reason":"no-speech"}
//	{"type":"end"}
//	{"type":"speak-done"}
//
// Server to browser:
//
//	{"type":"listen-start"} {"type":"listen-stop"}
//	{"type":"pause"} {"type":"resume"}
//	{"type":"speak","text":"..."}
//	{"type":"snapshot","revealed":4,"queued":1}
//	{"type":"page","page":2,"tokens":["Once","upon",...]}
//	{"type":"notice","text":"..."}
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/parlando-ai/parlando/internal/reveal"
	"github.com/parlando-ai/parlando/pkg/recognizer"
	"github.com/parlando-ai/parlando/pkg/speech"
)

// ErrClosed is returned from operations on a bridge whose connection is gone.
var ErrClosed = errors.New("wsbridge: connection closed")

// entryPayload mirrors one SpeechRecognition alternative.
type entryPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// clientMessage is the browser-to-server envelope.
type clientMessage struct {
	Type    string         `json:"type"`
	Entries []entryPayload `json:"entries,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// serverMessage is the server-to-browser envelope.
type serverMessage struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Revealed int      `json:"revealed"`
	Queued   int      `json:"queued"`
	Page     int      `json:"page"`
	Tokens   []string `json:"tokens,omitempty"`
}

// Bridge is the server end of one browser connection.
//
// All methods are safe for concurrent use. [Bridge.Run] must be running for
// any inbound traffic (recognition events, speak confirmations) to be
// delivered.
type Bridge struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	current   *stream
	speakDone chan struct{}

	done chan struct{}
	once sync.Once
}

var (
	_ recognizer.Provider = (*Bridge)(nil)
	_ speech.Player       = (*Bridge)(nil)
)

// Accept upgrades an HTTP request to a WebSocket and wraps it in a Bridge.
func Accept(w http.ResponseWriter, r *http.Request) (*Bridge, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: accept: %w", err)
	}
	return New(conn), nil
}

// New wraps an established connection. Most callers use [Accept] instead.
func New(conn *websocket.Conn) *Bridge {
	return &Bridge{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Run reads inbound messages until the connection or ctx ends. It always
// returns after tearing the bridge down; the returned error is nil on a
// normal client disconnect.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.teardown()

	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("wsbridge: read: %w", err)
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("discarding malformed bridge message", "error", err)
			continue
		}
		b.dispatch(msg)
	}
}

// dispatch routes one inbound message.
func (b *Bridge) dispatch(msg clientMessage) {
	switch msg.Type {
	case "result":
		entries := make([]recognizer.Entry, 0, len(msg.Entries))
		for _, e := range msg.Entries {
			entries = append(entries, recognizer.Entry{Text: e.Text, Final: e.Final})
		}
		b.deliver(recognizer.Event{Kind: recognizer.KindResult, Entries: entries})
	case "error":
		b.deliver(recognizer.Event{Kind: recognizer.KindError, Reason: msg.Reason})
	case "end":
		b.mu.Lock()
		s := b.current
		b.current = nil
		b.mu.Unlock()
		if s != nil {
			s.end()
		}
	case "speak-done":
		b.mu.Lock()
		ch := b.speakDone
		b.speakDone = nil
		b.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	default:
		slog.Debug("unknown bridge message type", "type", msg.Type)
	}
}

// deliver hands an event to the active stream, if any.
func (b *Bridge) deliver(ev recognizer.Event) {
	b.mu.Lock()
	s := b.current
	b.mu.Unlock()
	if s != nil {
		s.emit(ev)
	}
}

// Start implements [recognizer.Provider]: it tells the browser to begin a
// recognition session and returns the stream its events arrive on. Only one
// stream may be active at a time.
func (b *Bridge) Start(ctx context.Context) (recognizer.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}

	b.mu.Lock()
	if b.current != nil {
		b.mu.Unlock()
		return nil, errors.New("wsbridge: a recognition stream is already active")
	}
	s := &stream{
		b:      b,
		events: make(chan recognizer.Event, 64),
	}
	b.current = s
	b.mu.Unlock()

	if err := b.send(ctx, serverMessage{Type: "listen-start"}); err != nil {
		b.mu.Lock()
		b.current = nil
		b.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Speak implements [speech.Player]: it sends the utterance to the browser's
// synthesis voice and blocks until the browser confirms playback finished.
func (b *Bridge) Speak(ctx context.Context, utterance string) error {
	done := make(chan struct{})

	b.mu.Lock()
	if b.speakDone != nil {
		b.mu.Unlock()
		return errors.New("wsbridge: an utterance is already playing")
	}
	b.speakDone = done
	b.mu.Unlock()

	clear := func() {
		b.mu.Lock()
		if b.speakDone == done {
			b.speakDone = nil
		}
		b.mu.Unlock()
	}

	if err := b.send(ctx, serverMessage{Type: "speak", Text: utterance}); err != nil {
		clear()
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		clear()
		return ctx.Err()
	case <-b.done:
		clear()
		return ErrClosed
	}
}

// PushSnapshot sends the current highlight state to the browser.
func (b *Bridge) PushSnapshot(snap reveal.Snapshot) {
	_ = b.send(context.Background(), serverMessage{
		Type:     "snapshot",
		Revealed: snap.Revealed,
		Queued:   snap.Queued,
	})
}

// PushPage sends a page change with its display tokens.
func (b *Bridge) PushPage(index int, tokens []string) {
	_ = b.send(context.Background(), serverMessage{
		Type:   "page",
		Page:   index,
		Tokens: tokens,
	})
}

// PushNotice sends a user-visible notice line.
func (b *Bridge) PushNotice(text string) {
	_ = b.send(context.Background(), serverMessage{Type: "notice", Text: text})
}

// Close closes the underlying connection. Run unblocks shortly after.
func (b *Bridge) Close() error {
	b.teardown()
	return b.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// teardown marks the bridge dead and releases anything blocked on it.
func (b *Bridge) teardown() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		s := b.current
		b.current = nil
		b.mu.Unlock()
		if s != nil {
			s.end()
		}
	})
}

// send writes one JSON message. Writes are serialized; the connection allows
// only a single concurrent writer.
func (b *Bridge) send(ctx context.Context, msg serverMessage) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsbridge: marshal: %w", err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsbridge: write: %w", err)
	}
	return nil
}

// stream is one browser recognition session. It implements
// [recognizer.Stream]; events are fed by the bridge's read loop.
type stream struct {
	b      *Bridge
	events chan recognizer.Event

	mu     sync.Mutex
	closed bool
}

var _ recognizer.Stream = (*stream)(nil)

// Events implements recognizer.Stream.
func (s *stream) Events() <-chan recognizer.Event { return s.events }

// Pause implements recognizer.Stream.
func (s *stream) Pause() error {
	return s.b.send(context.Background(), serverMessage{Type: "pause"})
}

// Resume implements recognizer.Stream.
func (s *stream) Resume() error {
	return s.b.send(context.Background(), serverMessage{Type: "resume"})
}

// Close implements recognizer.Stream. It detaches the stream from the bridge
// and tells the browser to stop recognition.
func (s *stream) Close() error {
	s.b.mu.Lock()
	if s.b.current == s {
		s.b.current = nil
	}
	s.b.mu.Unlock()

	s.mu.Lock()
	wasClosed := s.closed
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	if !wasClosed {
		_ = s.b.send(context.Background(), serverMessage{Type: "listen-stop"})
	}
	return nil
}

// emit delivers an event unless the stream is closed or its buffer is full.
// A reader that stopped consuming must not block the bridge's read loop.
func (s *stream) emit(ev recognizer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("dropping recognition event, consumer is not keeping up")
	}
}

// end emits the end-of-stream marker and closes the event channel.
func (s *stream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- recognizer.Event{Kind: recognizer.KindEnd}:
	default:
	}
	s.closed = true
	close(s.events)
}
