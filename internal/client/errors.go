package client

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"chat-relay/internal/types"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
)

// streamErrorPrefix is how openai-go's ssestream reports an error event.
const streamErrorPrefix = "received error while streaming: "

// statusCodePattern matches the status reported in langchaingo client errors.
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyError maps an error from a provider call into the types taxonomy.
// ctx is the context the call ran under; its state decides between
// cancellation and timeout before the error itself is inspected.
func classifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if types.Kind(err) != types.KindUnknown {
		return err
	}

	switch ctx.Err() {
	case context.Canceled:
		return &types.CancelledError{Err: err}
	case context.DeadlineExceeded:
		return &types.NetworkError{Kind: types.Timeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &types.CancelledError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.NetworkError{Kind: types.Timeout, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &types.ProviderError{
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	if provErr, ok := parseStreamError(err); ok {
		return provErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &types.NetworkError{Kind: types.Timeout, Err: err}
		}
		return &types.NetworkError{Kind: types.Transport, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return &types.NetworkError{Kind: types.Transport, Err: err}
	}

	provErr := &types.ProviderError{Message: err.Error(), Err: err}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		provErr.StatusCode, _ = strconv.Atoi(m[1])
	}
	return provErr
}

// parseStreamError decodes the error object a provider sends inside an open
// event stream.
func parseStreamError(err error) (*types.ProviderError, bool) {
	_, payload, found := strings.Cut(err.Error(), streamErrorPrefix)
	if !found {
		return nil, false
	}
	res := gjson.Parse(payload)
	provErr := &types.ProviderError{Message: payload, Err: err}
	if res.IsObject() {
		if msg := res.Get("message").String(); msg != "" {
			provErr.Message = msg
		}
		provErr.Code = res.Get("code").String()
		provErr.Type = res.Get("type").String()
	}
	return provErr, true
}
