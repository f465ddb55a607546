// Package openai adapts the OpenAI-compatible chat-completions wire format
// for the upstream dispatcher.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blockrun/blockrunproxy/internal/upstream"
)

// Adapter sends chat requests in OpenAI's wire format.
type Adapter struct {
	id      string
	baseURL string
	client  *http.Client
}

// New returns an Adapter targeting baseURL (e.g. "https://api.openai.com").
func New(id, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{id: id, baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
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

func (a *Adapter) ID() string { return a.id }

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

// Send performs a non-streaming chat-completions call.
func (a *Adapter) Send(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (upstream.Response, error) {
	payload := a.buildPayload(model, req)
	headers := map[string]string{"X-Payment": paymentHeader}

	body, err := upstream.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, headers)
	if err != nil {
		return upstream.Response{}, err
	}
	return upstream.Response{Body: body, StatusCode: http.StatusOK, Headers: map[string]string{"Content-Type": "application/json"}}, nil
}

// SendStream performs a streaming chat-completions call, returning the raw
// SSE body for the dispatcher to forward chunk-by-chunk.
func (a *Adapter) SendStream(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (io.ReadCloser, error) {
	payload := a.buildPayload(model, req)
	headers := map[string]string{"X-Payment": paymentHeader}
	return upstream.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, headers)
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
		case strings.Contains(se.Body, "context_length_exceeded"):
			return &upstream.ClassifiedError{Err: err, Class: upstream.ErrContextOverflow}
		}
	}
	return &upstream.ClassifiedError{Err: err, Class: upstream.ErrFatal}
}
