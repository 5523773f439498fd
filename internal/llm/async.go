package llm

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// ErrStreamConsumed is yielded when a stream sequence is ranged a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// Once makes seq single-use. Ranging it again yields ErrStreamConsumed
// without touching the network.
func Once(seq iter.Seq2[Update, error]) iter.Seq2[Update, error] {
	var used atomic.Bool
	return func(yield func(Update, error) bool) {
		if used.Swap(true) {
			yield(Update{}, ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// Fail returns a sequence that yields err and ends.
func Fail(err error) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		yield(Update{}, err)
	}
}

// GoComplete runs fn on its own goroutine and delivers the outcome on the
// returned channel, which receives exactly one value and is then closed.
func GoComplete(ctx context.Context, fn func(context.Context) (*Result, error)) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := fn(ctx)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// GoStream drains seq on its own goroutine. The channel is closed after the
// last event. If ctx is cancelled while the consumer is not receiving, the
// goroutine stops ranging, which releases the underlying connection.
func GoStream(ctx context.Context, seq iter.Seq2[Update, error]) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for u, err := range seq {
			select {
			case ch <- StreamEvent{Update: u, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
