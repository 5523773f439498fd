package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chat-relay/internal/llm"
	"chat-relay/internal/metrics"
	"chat-relay/internal/types"

	"golang.org/x/sync/semaphore"
)

// Call modes used as metric labels
const (
	modeBlocking  = "blocking"
	modeStreaming = "streaming"
)

// Options configures a backend. It is copied at construction and never
// mutated afterwards.
type Options struct {
	Model    string
	APIKey   string
	Endpoint string // Empty uses the SDK default
	// Timeout bounds each call, 0 disables. Exceeding it yields a timeout NetworkError.
	Timeout time.Duration
	// MaxConcurrency bounds in-flight calls, 0 means unlimited.
	MaxConcurrency int64
	// HTTPClient is used as the base transport, nil uses http.DefaultTransport.
	HTTPClient *http.Client
}

func (o Options) resolve() (Options, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return o, types.NewConfigurationError("api_key", "is required")
	}
	if strings.TrimSpace(o.Model) == "" {
		o.Model = llm.DefaultModel
	}
	if o.Timeout < 0 {
		return o, types.NewConfigurationError("timeout", "must not be negative")
	}
	if o.MaxConcurrency < 0 {
		return o, types.NewConfigurationError("max_concurrency", "must not be negative")
	}
	return o, nil
}

// limiter holds the per-client concurrency bound and call deadline shared by
// the backends.
type limiter struct {
	timeout time.Duration
	sem     *semaphore.Weighted
}

func newLimiter(o Options) limiter {
	l := limiter{timeout: o.Timeout}
	if o.MaxConcurrency > 0 {
		l.sem = semaphore.NewWeighted(o.MaxConcurrency)
	}
	return l
}

// acquire blocks until a call slot is free or ctx is done.
func (l limiter) acquire(ctx context.Context) (func(), error) {
	if l.sem == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, classifyError(ctx, err)
	}
	return func() { l.sem.Release(1) }, nil
}

func (l limiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(ctx, l.timeout)
	}
	return context.WithCancel(ctx)
}

// observe records one finished call.
func observe(backend, mode string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = types.Kind(err)
	}
	metrics.CompletionRequests.WithLabelValues(backend, mode, outcome).Inc()
	metrics.CompletionDuration.WithLabelValues(backend, mode).Observe(time.Since(start).Seconds())
}
