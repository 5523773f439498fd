// Package server exposes an llm.Client over HTTP: a blocking JSON endpoint and
// a server-sent events endpoint for streamed completions.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"chat-relay/internal/llm"
	"chat-relay/internal/metrics"
	"chat-relay/internal/types"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StatusClientClosedRequest is reported when the caller went away mid-call.
const StatusClientClosedRequest = 499

// Options configures the preamble path and request limits.
type Options struct {
	Preamble    string
	Sampling    *llm.SamplingOptions
	MaxBodySize int64
}

// Server serves chat completions backed by an llm.Client.
type Server struct {
	llm  llm.Client
	opts Options
}

// New creates a Server.
func New(client llm.Client, opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	return &Server{llm: client, opts: opts}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/stream", s.handleStream)

	// Liveness probe (Kubernetes: startup/liveness)
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// chatRequest is decoded from the request body.
// withPreamble applies the configured preamble and sampling.
type chatRequest struct {
	prompt       string
	withPreamble bool
}

func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (chatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return chatRequest{}, types.NewValidationError("body", len(body), "could not be read")
	}
	if !gjson.ValidBytes(body) {
		return chatRequest{}, types.NewValidationError("body", "", "must be a JSON object")
	}

	req := chatRequest{
		prompt:       gjson.GetBytes(body, "prompt").String(),
		withPreamble: gjson.GetBytes(body, "preamble").Bool(),
	}
	if q := r.URL.Query().Get("preamble"); q != "" {
		req.withPreamble, _ = strconv.ParseBool(q)
	}
	if req.prompt == "" {
		return chatRequest{}, types.NewValidationError("prompt", "", "is required")
	}
	return req, nil
}

func (s *Server) llmRequest(req chatRequest) llm.Request {
	out := llm.Request{Prompt: req.prompt}
	if req.withPreamble {
		out.Preamble = s.opts.Preamble
		out.Sampling = s.opts.Sampling
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRequest(w, r)
	if err != nil {
		s.writeError(w, "chat", err)
		return
	}

	res, err := s.llm.CompleteRequest(r.Context(), s.llmRequest(req))
	if err != nil {
		s.writeError(w, "chat", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Warn("write response failed", "error", err)
	}
	metrics.HTTPRequests.WithLabelValues("chat", "200").Inc()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRequest(w, r)
	if err != nil {
		s.writeError(w, "stream", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	for update, err := range s.llm.StreamRequest(r.Context(), s.llmRequest(req)) {
		if err != nil {
			if !started {
				// Nothing sent yet, a plain status is more useful than an event
				s.writeError(w, "stream", err)
				return
			}
			slog.Warn("stream ended with error", "kind", types.Kind(err), "error", err)
			writeEvent(w, "error", errorPayload(err))
			flusher.Flush()
			metrics.HTTPRequests.WithLabelValues("stream", "error_"+types.Kind(err)).Inc()
			return
		}

		start()
		writeEvent(w, "", updatePayload(update))
		flusher.Flush()
	}

	start()
	writeEvent(w, "done", "{}")
	flusher.Flush()
	metrics.HTTPRequests.WithLabelValues("stream", "200").Inc()
}

func writeEvent(w io.Writer, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func updatePayload(u llm.Update) string {
	payload, _ := sjson.Set("", "delta", u.Delta)
	if u.Done {
		payload, _ = sjson.Set(payload, "finish_reason", u.FinishReason)
	}
	if u.Usage != nil {
		payload, _ = sjson.Set(payload, "usage", u.Usage)
	}
	return payload
}

func errorPayload(err error) string {
	payload, _ := sjson.Set("", "error.kind", types.Kind(err))
	payload, _ = sjson.Set(payload, "error.message", err.Error())
	var provErr *types.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode != 0 {
		payload, _ = sjson.Set(payload, "error.status", provErr.StatusCode)
	}
	return payload
}

func (s *Server) writeError(w http.ResponseWriter, route string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "route", route, "kind", types.Kind(err), "error", err)
	} else {
		slog.Debug("request rejected", "route", route, "kind", types.Kind(err), "error", err)
	}
	metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, errorPayload(err))
}

// StatusFor maps an error kind to the HTTP status the host responds with.
func StatusFor(err error) int {
	switch types.Kind(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindCancelled:
		return StatusClientClosedRequest
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindNetwork:
		return http.StatusBadGateway
	case types.KindProvider:
		var provErr *types.ProviderError
		if errors.As(err, &provErr) && provErr.StatusCode >= 400 && provErr.StatusCode < 600 {
			return provErr.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
