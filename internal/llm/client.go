// Package llm defines the provider-agnostic chat completion contract.
package llm

import (
	"context"
	"iter"
)

// Client sends chat completions to an LLM provider.
//
// Implementations are safe for concurrent use and keep no conversation state
// between calls. Stream sequences are lazy: the request is sent when the
// caller starts ranging, and the connection is released on every exit path.
type Client interface {
	// Model returns the model id requests are sent to.
	Model() string
	// Complete sends prompt as a single user turn and waits for the answer.
	Complete(ctx context.Context, prompt string) (*Result, error)
	// CompleteAsync is Complete with the result delivered on a channel.
	CompleteAsync(ctx context.Context, prompt string) <-chan Outcome
	// CompleteRequest is Complete with a preamble and sampling options.
	CompleteRequest(ctx context.Context, req Request) (*Result, error)
	// Stream sends prompt and yields deltas as they arrive.
	Stream(ctx context.Context, prompt string) iter.Seq2[Update, error]
	// StreamAsync is Stream delivered on a channel.
	StreamAsync(ctx context.Context, prompt string) <-chan StreamEvent
	// StreamWithPreamble sends a system preamble before prompt.
	StreamWithPreamble(ctx context.Context, prompt, preamble string, opts *SamplingOptions) iter.Seq2[Update, error]
	// StreamRequest is the general form of Stream.
	StreamRequest(ctx context.Context, req Request) iter.Seq2[Update, error]
}
