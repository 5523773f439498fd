package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingTransport counts outbound requests and response body closes.
type recordingTransport struct {
	calls  atomic.Int32
	closes atomic.Int32

	mu     sync.Mutex
	bodies [][]byte
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		t.mu.Lock()
		t.bodies = append(t.bodies, body)
		t.mu.Unlock()
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &countingBody{ReadCloser: resp.Body, closes: &t.closes}
	return resp, nil
}

func (t *recordingTransport) lastBody() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.bodies) == 0 {
		return nil
	}
	return t.bodies[len(t.bodies)-1]
}

type countingBody struct {
	io.ReadCloser
	closes *atomic.Int32
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	return b.ReadCloser.Close()
}

// fakeServer starts a mock OpenAI API and returns its URL and the recording transport.
func fakeServer(t *testing.T, handler http.HandlerFunc) (string, *recordingTransport) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts.URL, &recordingTransport{}
}

func testOptions(url string, rt *recordingTransport) Options {
	return Options{
		Model:      "gpt-4o",
		APIKey:     "test-key",
		Endpoint:   url,
		HTTPClient: &http.Client{Transport: rt},
	}
}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *recordingTransport) {
	t.Helper()
	url, rt := fakeServer(t, handler)
	c, err := NewOpenAIClient(testOptions(url, rt))
	require.NoError(t, err)
	return c, rt
}

func completionHandler(t *testing.T, text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-123",
			"object":  "chat.completion",
			"created": 1677652288,
			"model":   "gpt-4o",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": text,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     9,
				"completion_tokens": 12,
				"total_tokens":      21,
			},
		})
	}
}

func chunk(content, finishReason string) string {
	finish := "null"
	if finishReason != "" {
		finish = fmt.Sprintf("%q", finishReason)
	}
	return fmt.Sprintf(`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`, content, finish)
}

const roleChunk = `{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`

func writeEvent(w http.ResponseWriter, data string) {
	w.Write([]byte("data: " + data + "\n\n"))
	w.(http.Flusher).Flush()
}

// streamHandler emits the given deltas, marking the last one finished, then [DONE].
func streamHandler(deltas ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, roleChunk)
		for i, d := range deltas {
			finish := ""
			if i == len(deltas)-1 {
				finish = "stop"
			}
			writeEvent(w, chunk(d, finish))
		}
		writeEvent(w, "[DONE]")
	}
}
