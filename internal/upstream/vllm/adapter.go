// Package vllm adapts self-hosted vLLM instances, round-robinning across
// multiple endpoints for the same logical upstream.
package vllm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/blockrun/blockrunproxy/internal/upstream"
)

// Adapter sends chat requests to one of several vLLM endpoints,
// round-robin.
type Adapter struct {
	id        string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
}

// New creates an Adapter with one initial endpoint; add more with WithEndpoints.
func New(id, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		endpoints: []string{endpoint},
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithEndpoints adds additional endpoints for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) { a.endpoints = append(a.endpoints, endpoints...) }
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) buildPayload(model string, req upstream.ChatRequest) map[string]any {
	messages := make([]map[string]any, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = upstream.MessagePayload(m)
	}
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   req.Stream,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	return payload
}

// Send performs a non-streaming call against the next endpoint in rotation.
func (a *Adapter) Send(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (upstream.Response, error) {
	payload := a.buildPayload(model, req)
	headers := map[string]string{"X-Payment": paymentHeader}
	body, err := upstream.DoRequest(ctx, a.client, a.nextEndpoint()+"/v1/chat/completions", payload, headers)
	if err != nil {
		return upstream.Response{}, err
	}
	return upstream.Response{Body: body, StatusCode: http.StatusOK, Headers: map[string]string{"Content-Type": "application/json"}}, nil
}

// SendStream performs a streaming call against the next endpoint in rotation.
func (a *Adapter) SendStream(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (io.ReadCloser, error) {
	payload := a.buildPayload(model, req)
	headers := map[string]string{"X-Payment": paymentHeader}
	return upstream.DoStreamRequest(ctx, a.client, a.nextEndpoint()+"/v1/chat/completions", payload, headers)
}

func (a *Adapter) ClassifyError(err error) *upstream.ClassifiedError {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			ce := &upstream.ClassifiedError{Err: err, Class: upstream.ErrRateLimited}
			if se.RetryAfterSecs > 0 {
				ce.RetryAfter = se.RetryAfterSecs
			}
			return ce
		case se.StatusCode >= 500:
			return &upstream.ClassifiedError{Err: err, Class: upstream.ErrTransient}
		}
	}
	return &upstream.ClassifiedError{Err: err, Class: upstream.ErrFatal}
}
