package client

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"chat-relay/internal/llm"
	"chat-relay/internal/metrics"
	"chat-relay/internal/types"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const backendOpenAI = "openai"

// OpenAIClient implements llm.Client using the official OpenAI client
type OpenAIClient struct {
	client  openai.Client
	model   string
	limiter limiter
}

var _ llm.Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client bound to one API key and model.
// An empty API key is a ConfigurationError; nothing is sent over the network.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	opts, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(newHTTPClient(opts.HTTPClient)),
		// Errors surface to the caller unchanged, the SDK must not retry
		option.WithMaxRetries(0),
	}
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Endpoint))
	}

	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		model:   opts.Model,
		limiter: newLimiter(opts),
	}, nil
}

// Model returns the model name
func (c *OpenAIClient) Model() string {
	return c.model
}

// Name returns the backend name
func (c *OpenAIClient) Name() string {
	return "openai-" + c.model
}

// Ping sends a minimal request to verify connection
func (c *OpenAIClient) Ping(ctx context.Context) error {
	slog.Info("checking llm connection...", "backend", backendOpenAI, "model", c.model)
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
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (*llm.Result, error) {
	return c.CompleteRequest(ctx, llm.Request{Prompt: prompt})
}

// CompleteAsync runs Complete on its own goroutine.
func (c *OpenAIClient) CompleteAsync(ctx context.Context, prompt string) <-chan llm.Outcome {
	return llm.GoComplete(ctx, func(ctx context.Context) (*llm.Result, error) {
		return c.Complete(ctx, prompt)
	})
}

// CompleteRequest sends a chat completion request and waits for the answer.
func (c *OpenAIClient) CompleteRequest(ctx context.Context, req llm.Request) (res *llm.Result, err error) {
	if err := req.Sampling.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { observe(backendOpenAI, modeBlocking, start, err) }()

	release, err := c.limiter.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	callCtx, cancel := c.limiter.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(callCtx, c.params(req))
	if err != nil {
		err = classifyError(callCtx, err)
		slog.Debug("openai completion failed", "model", c.model, "kind", types.Kind(err), "error", err)
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &types.ProviderError{Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	res = &llm.Result{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		res.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return res, nil
}

// Stream sends prompt as a single user turn and yields deltas as they arrive.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string) iter.Seq2[llm.Update, error] {
	return c.StreamRequest(ctx, llm.Request{Prompt: prompt})
}

// StreamAsync delivers Stream on a channel.
func (c *OpenAIClient) StreamAsync(ctx context.Context, prompt string) <-chan llm.StreamEvent {
	return llm.GoStream(ctx, c.Stream(ctx, prompt))
}

// StreamWithPreamble sends preamble as a system message ahead of prompt.
func (c *OpenAIClient) StreamWithPreamble(ctx context.Context, prompt, preamble string, opts *llm.SamplingOptions) iter.Seq2[llm.Update, error] {
	return c.StreamRequest(ctx, llm.Request{Prompt: prompt, Preamble: preamble, Sampling: opts})
}

// StreamRequest returns a single-use sequence of deltas. The request is sent
// when ranging starts and the response body is closed when ranging ends,
// whichever way it ends.
func (c *OpenAIClient) StreamRequest(ctx context.Context, req llm.Request) iter.Seq2[llm.Update, error] {
	if err := req.Sampling.Validate(); err != nil {
		return llm.Once(llm.Fail(err))
	}
	params := c.params(req)

	return llm.Once(func(yield func(llm.Update, error) bool) {
		var err error
		start := time.Now()
		defer func() { observe(backendOpenAI, modeStreaming, start, err) }()

		release, err := c.limiter.acquire(ctx)
		if err != nil {
			yield(llm.Update{}, err)
			return
		}
		defer release()

		callCtx, cancel := c.limiter.withTimeout(ctx)
		defer cancel()

		stream := c.client.Chat.Completions.NewStreaming(callCtx, params)
		defer stream.Close()

		finished := false
		for stream.Next() {
			update, ok := chunkUpdate(stream.Current())
			if !ok {
				continue
			}
			finished = finished || update.Done
			metrics.StreamUpdates.WithLabelValues(backendOpenAI).Inc()
			if !yield(update, nil) {
				return
			}
		}

		err = stream.Err()
		if err == nil {
			// The body can end cleanly after cancellation, that is still not a success
			err = callCtx.Err()
		}
		if err == nil && !finished {
			// Body ended without a finish reason, the answer is truncated
			err = &types.NetworkError{Kind: types.Transport, Err: io.ErrUnexpectedEOF}
		}
		if err != nil {
			err = classifyError(callCtx, err)
			slog.Debug("openai stream failed", "model", c.model, "kind", types.Kind(err), "error", err)
			yield(llm.Update{}, err)
		}
	})
}

func (c *OpenAIClient) params(req llm.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Preamble != "" {
		messages = append(messages, openai.SystemMessage(req.Preamble))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if s := req.Sampling; s != nil {
		if s.MaxTokens != nil {
			params.MaxCompletionTokens = openai.Int(*s.MaxTokens)
		}
		if s.Temperature != nil {
			params.Temperature = openai.Float(*s.Temperature)
		}
		if s.TopP != nil {
			params.TopP = openai.Float(*s.TopP)
		}
	}
	return params
}

// chunkUpdate converts one stream chunk. Chunks carrying neither text, a
// finish reason nor usage (such as the leading role-only chunk) are skipped.
func chunkUpdate(chunk openai.ChatCompletionChunk) (llm.Update, bool) {
	var update llm.Update
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		update.Delta = choice.Delta.Content
		if choice.FinishReason != "" {
			update.Done = true
			update.FinishReason = choice.FinishReason
		}
	}
	if chunk.Usage.TotalTokens > 0 {
		update.Usage = &llm.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if update.Delta == "" && !update.Done && update.Usage == nil {
		return update, false
	}
	return update, true
}
