package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ClientOption is a functional option for configuring a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests point this at an
// httptest server transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithTimeout sets the per-request timeout. Default: 15s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.hc.Timeout = d
	}
}

// Client talks to the tutoring backend over HTTP. It implements
// [ContentProvider], [FeedbackProvider], and [CompletionSink].
//
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client
}

var (
	_ ContentProvider  = (*Client)(nil)
	_ FeedbackProvider = (*Client)(nil)
	_ CompletionSink   = (*Client)(nil)
)

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("collab: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// passageResponse is the content endpoint's body. Either Pages or Text is
// set; a bare text blob is paragraph-split client-side.
type passageResponse struct {
	Pages []string `json:"pages"`
	Text  string   `json:"text"`
}

// FetchPassage implements [ContentProvider].
func (c *Client) FetchPassage(ctx context.Context, passageID string) ([]string, error) {
	u := c.baseURL + "/api/passages/" + url.PathEscape(passageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("collab: build passage request: %w", err)
	}

	var body passageResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("collab: fetch passage %q: %w", passageID, err)
	}

	if len(body.Pages) > 0 {
		return body.Pages, nil
	}
	return SplitPages(body.Text), nil
}

// feedbackResponse mirrors the feedback endpoint body. Pointer fields keep
// "absent" distinguishable from zero values.
type feedbackResponse struct {
	Utterance       *string  `json:"feedback_utterance"`
	Accuracy        *float64 `json:"accuracy_override"`
	IncorrectTokens []int    `json:"incorrect_tokens"`
}

// RequestFeedback implements [FeedbackProvider]. Missing response fields are
// treated as "no update".
func (c *Client) RequestFeedback(ctx context.Context, fr FeedbackRequest) (*Feedback, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+"/api/reading-feedback", fr)
	if err != nil {
		return nil, err
	}

	var body feedbackResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("collab: request feedback: %w", err)
	}

	fb := &Feedback{
		AccuracyOverride: body.Accuracy,
		IncorrectTokens:  body.IncorrectTokens,
	}
	if body.Utterance != nil {
		fb.Utterance = *body.Utterance
	}
	return fb, nil
}

// SubmitCompletion implements [CompletionSink].
func (c *Client) SubmitCompletion(ctx context.Context, m SessionMetrics) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+"/api/reading-sessions/complete", m)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("collab: submit completion: %w", err)
	}
	return nil
}

// jsonRequest builds a request with a JSON-encoded body.
func (c *Client) jsonRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, fmt.Errorf("collab: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return nil, fmt.Errorf("collab: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SplitPages paragraph-splits a text blob into page strings. Blank lines
// separate pages; leading and trailing whitespace is trimmed and empty
// pages are dropped.
func SplitPages(text string) []string {
	var pages []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			pages = append(pages, para)
		}
	}
	return pages
}
