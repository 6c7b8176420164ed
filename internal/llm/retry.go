package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
)

// Retrying wraps a Provider and retries transient failures with exponential
// backoff.
type Retrying struct {
	inner      Provider
	maxRetries int
	newBackOff func() backoff.BackOff
}

type RetryOption func(*Retrying)

// WithBackOff overrides the backoff schedule.
func WithBackOff(fn func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.newBackOff = fn }
}

func NewRetrying(inner Provider, maxRetries int, opts ...RetryOption) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	r := &Retrying{
		inner:      inner,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) ChatStream(ctx context.Context, input []responses.ResponseInputItemUnionParam, tools []responses.ToolUnionParam, onToken func(string)) (*responses.Response, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (*responses.Response, error) {
		attempt++
		resp, err := r.inner.ChatStream(ctx, input, tools, onToken)
		if err == nil {
			return resp, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		slog.Warn("llm: transient failure", "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
}

// Retryable reports whether err is worth another attempt: rate limits,
// server errors, timeouts and transport failures. Cancellation never is.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusConflict,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
