package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"chat-relay/internal/metrics"

	"github.com/tidwall/gjson"
)

// TrackingRoundTripper wraps http.RoundTripper to account for provider
// response bodies in the open connections gauge.
type TrackingRoundTripper struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *TrackingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	metrics.OpenConnections.Inc()
	resp.Body = &trackedBody{ReadCloser: resp.Body}
	return resp, nil
}

type trackedBody struct {
	io.ReadCloser
	once sync.Once
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(metrics.OpenConnections.Dec)
	return err
}

// newHTTPClient returns a copy of base (or a fresh client) whose transport is
// tracked. No client-level Timeout is set; deadlines come from the call context
// so long streams are not cut off.
func newHTTPClient(base *http.Client) *http.Client {
	var hc http.Client
	if base != nil {
		hc = *base
	}
	if _, tracked := hc.Transport.(*TrackingRoundTripper); !tracked {
		hc.Transport = &TrackingRoundTripper{Base: hc.Transport}
	}
	return &hc
}

// StreamGuardRoundTripper turns failures hidden inside an event stream into
// read errors. An `error` event fails the read with the same text openai-go
// reports, and a stream that ends before a finish reason or [DONE] fails with
// io.ErrUnexpectedEOF. LangChainGo skips both cases on its own.
type StreamGuardRoundTripper struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *StreamGuardRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/event-stream" {
		resp.Body = &guardedStream{ReadCloser: resp.Body}
	}
	return resp, nil
}

type guardedStream struct {
	io.ReadCloser
	line     []byte // partial line carried over between reads
	finished bool
	err      error
}

func (s *guardedStream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	n, err := s.ReadCloser.Read(p)
	start := 0
	for i := 0; i < n; i++ {
		if p[i] != '\n' {
			continue
		}
		s.line = append(s.line, p[start:i]...)
		if evErr := s.inspect(s.line); evErr != nil {
			// Lines before the error event still reach the parser
			s.err = evErr
			return start, s.err
		}
		s.line = s.line[:0]
		start = i + 1
	}
	s.line = append(s.line, p[start:n]...)

	if err == io.EOF {
		if evErr := s.inspect(s.line); evErr != nil {
			s.err = evErr
			return n, s.err
		}
		if !s.finished {
			s.err = io.ErrUnexpectedEOF
			return n, s.err
		}
	}
	return n, err
}

// inspect checks one SSE line for an error event or a completion signal.
func (s *guardedStream) inspect(line []byte) error {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil
	}
	data = bytes.TrimSpace(data)
	if string(data) == "[DONE]" {
		s.finished = true
		return nil
	}
	if !gjson.ValidBytes(data) {
		return nil
	}

	event := gjson.ParseBytes(data)
	if errObj := event.Get("error"); errObj.IsObject() {
		return fmt.Errorf("%s%s", streamErrorPrefix, errObj.Raw)
	}
	if event.Get("choices.0.finish_reason").String() != "" {
		s.finished = true
	}
	return nil
}
