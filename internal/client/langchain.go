package client

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"chat-relay/internal/llm"
	"chat-relay/internal/metrics"
	"chat-relay/internal/types"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const backendLangChain = "langchain"

// LangChainClient implements llm.Client on top of LangChainGo's OpenAI model.
// It serves OpenAI-compatible endpoints that the official SDK does not.
type LangChainClient struct {
	model   llms.Model
	name    string
	limiter limiter
}

var _ llm.Client = (*LangChainClient)(nil)

// NewLangChainClient creates a LangChainGo-backed client.
func NewLangChainClient(opts Options) (*LangChainClient, error) {
	opts, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	hc := newHTTPClient(opts.HTTPClient)
	hc.Transport = &StreamGuardRoundTripper{Base: hc.Transport}

	lcOpts := []lcopenai.Option{
		lcopenai.WithModel(opts.Model),
		lcopenai.WithToken(opts.APIKey),
		lcopenai.WithHTTPClient(hc),
	}
	if opts.Endpoint != "" {
		lcOpts = append(lcOpts, lcopenai.WithBaseURL(opts.Endpoint))
	}

	model, err := lcopenai.New(lcOpts...)
	if err != nil {
		return nil, types.NewConfigurationError("llm", fmt.Sprintf("create langchain llm: %v", err))
	}

	return &LangChainClient{
		model:   model,
		name:    opts.Model,
		limiter: newLimiter(opts),
	}, nil
}

// Model returns the model name
func (c *LangChainClient) Model() string {
	return c.name
}

// Name returns the backend name
func (c *LangChainClient) Name() string {
	return "langchain-" + c.name
}

// Ping sends a minimal request to verify connection
func (c *LangChainClient) Ping(ctx context.Context) error {
	slog.Info("checking llm connection...", "backend", backendLangChain, "model", c.name)
	_, err := c.CompleteRequest(ctx, llm.Request{
		Prompt:   "hello",
		Sampling: &llm.SamplingOptions{MaxTokens: llm.Int64(1)},
	})
	if err != nil {
		return fmt.Errorf("llm ping failed: %w", err)
	}
	slog.Info("llm connection verified")
	return nil
}

// Complete sends prompt as a single user turn with default sampling.
func (c *LangChainClient) Complete(ctx context.Context, prompt string) (*llm.Result, error) {
	return c.CompleteRequest(ctx, llm.Request{Prompt: prompt})
}

// CompleteAsync runs Complete on its own goroutine.
func (c *LangChainClient) CompleteAsync(ctx context.Context, prompt string) <-chan llm.Outcome {
	return llm.GoComplete(ctx, func(ctx context.Context) (*llm.Result, error) {
		return c.Complete(ctx, prompt)
	})
}

// CompleteRequest sends a chat completion request and waits for the answer.
func (c *LangChainClient) CompleteRequest(ctx context.Context, req llm.Request) (res *llm.Result, err error) {
	if err := req.Sampling.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { observe(backendLangChain, modeBlocking, start, err) }()

	release, err := c.limiter.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	callCtx, cancel := c.limiter.withTimeout(ctx)
	defer cancel()

	resp, err := c.model.GenerateContent(callCtx, messages(req), callOptions(req.Sampling)...)
	if err != nil {
		err = classifyError(callCtx, err)
		slog.Debug("langchain completion failed", "model", c.name, "kind", types.Kind(err), "error", err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &types.ProviderError{Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	return &llm.Result{
		Text:         choice.Content,
		FinishReason: choice.StopReason,
		Model:        c.name,
		Usage:        usageFromInfo(choice.GenerationInfo),
	}, nil
}

// Stream sends prompt as a single user turn and yields deltas as they arrive.
func (c *LangChainClient) Stream(ctx context.Context, prompt string) iter.Seq2[llm.Update, error] {
	return c.StreamRequest(ctx, llm.Request{Prompt: prompt})
}

// StreamAsync delivers Stream on a channel.
func (c *LangChainClient) StreamAsync(ctx context.Context, prompt string) <-chan llm.StreamEvent {
	return llm.GoStream(ctx, c.Stream(ctx, prompt))
}

// StreamWithPreamble sends preamble as a system message ahead of prompt.
func (c *LangChainClient) StreamWithPreamble(ctx context.Context, prompt, preamble string, opts *llm.SamplingOptions) iter.Seq2[llm.Update, error] {
	return c.StreamRequest(ctx, llm.Request{Prompt: prompt, Preamble: preamble, Sampling: opts})
}

// StreamRequest bridges LangChainGo's streaming callback into a sequence.
// The callback blocks until the consumer takes each delta, so nothing is
// buffered; when the consumer stops, the call context is cancelled and the
// generating goroutine is awaited before returning.
func (c *LangChainClient) StreamRequest(ctx context.Context, req llm.Request) iter.Seq2[llm.Update, error] {
	if err := req.Sampling.Validate(); err != nil {
		return llm.Once(llm.Fail(err))
	}

	return llm.Once(func(yield func(llm.Update, error) bool) {
		var err error
		start := time.Now()
		defer func() { observe(backendLangChain, modeStreaming, start, err) }()

		release, err := c.limiter.acquire(ctx)
		if err != nil {
			yield(llm.Update{}, err)
			return
		}
		defer release()

		timeoutCtx, cancelTimeout := c.limiter.withTimeout(ctx)
		defer cancelTimeout()
		callCtx, stop := context.WithCancel(timeoutCtx)
		defer stop()

		type generated struct {
			resp *llms.ContentResponse
			err  error
		}
		deltas := make(chan string)
		done := make(chan generated, 1)

		opts := append(callOptions(req.Sampling), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case deltas <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		go func() {
			resp, err := c.model.GenerateContent(callCtx, messages(req), opts...)
			done <- generated{resp: resp, err: err}
		}()

		for {
			select {
			case delta := <-deltas:
				metrics.StreamUpdates.WithLabelValues(backendLangChain).Inc()
				if !yield(llm.Update{Delta: delta}, nil) {
					stop()
					<-done
					return
				}
			case g := <-done:
				err = g.err
				if err == nil {
					err = timeoutCtx.Err()
				}
				if err != nil {
					err = classifyError(timeoutCtx, err)
					slog.Debug("langchain stream failed", "model", c.name, "kind", types.Kind(err), "error", err)
					yield(llm.Update{}, err)
					return
				}
				if final, ok := finalUpdate(g.resp); ok {
					yield(final, nil)
				}
				return
			}
		}
	})
}

func messages(req llm.Request) []llms.MessageContent {
	var msgs []llms.MessageContent
	if req.Preamble != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.Preamble))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}

func callOptions(s *llm.SamplingOptions) []llms.CallOption {
	var opts []llms.CallOption
	if s == nil {
		return opts
	}
	if s.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(int(*s.MaxTokens)))
	}
	if s.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*s.Temperature))
	}
	if s.TopP != nil {
		opts = append(opts, llms.WithTopP(*s.TopP))
	}
	return opts
}

// finalUpdate reports the finish reason and usage once generation ends.
func finalUpdate(resp *llms.ContentResponse) (llm.Update, bool) {
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Update{}, false
	}
	choice := resp.Choices[0]
	usage := usageFromInfo(choice.GenerationInfo)
	if choice.StopReason == "" && usage == nil {
		return llm.Update{}, false
	}
	return llm.Update{Done: true, FinishReason: choice.StopReason, Usage: usage}, true
}

func usageFromInfo(info map[string]any) *llm.Usage {
	total := toInt64(info["TotalTokens"])
	if total == 0 {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     toInt64(info["PromptTokens"]),
		CompletionTokens: toInt64(info["CompletionTokens"]),
		TotalTokens:      total,
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
