// Package anthropic adapts the Claude messages wire format for the
// upstream dispatcher.
package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blockrun/blockrunproxy/internal/upstream"
)

const anthropicVersion = "2023-06-01"

// Adapter sends chat requests in Anthropic's Messages API wire format.
type Adapter struct {
	id      string
	baseURL string
	client  *http.Client
}

// New returns an Adapter targeting baseURL (e.g. "https://api.anthropic.com").
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

// HealthEndpoint returns the messages endpoint, used by internal/health's
// prober: a GET against it returns 405 rather than a connection error,
// which is enough to prove the upstream is reachable.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/messages"
}

func (a *Adapter) buildPayload(model string, req upstream.ChatRequest) map[string]any {
	messages := make([]map[string]any, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = upstream.MessagePayload(m)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	payload := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     req.Stream,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	return payload
}

func (a *Adapter) headers(paymentHeader string) map[string]string {
	return map[string]string{
		"X-Payment":         paymentHeader,
		"anthropic-version": anthropicVersion,
	}
}

// Send performs a non-streaming Messages API call.
func (a *Adapter) Send(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (upstream.Response, error) {
	payload := a.buildPayload(model, req)
	body, err := upstream.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.headers(paymentHeader))
	if err != nil {
		return upstream.Response{}, err
	}
	return upstream.Response{Body: body, StatusCode: http.StatusOK, Headers: map[string]string{"Content-Type": "application/json"}}, nil
}

// SendStream performs a streaming Messages API call.
func (a *Adapter) SendStream(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (io.ReadCloser, error) {
	payload := a.buildPayload(model, req)
	return upstream.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.headers(paymentHeader))
}

func (a *Adapter) ClassifyError(err error) *upstream.ClassifiedError {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429 || se.StatusCode == 529:
			ce := &upstream.ClassifiedError{Err: err, Class: upstream.ErrRateLimited}
			if se.RetryAfterSecs > 0 {
				ce.RetryAfter = se.RetryAfterSecs
			}
			return ce
		case se.StatusCode >= 500:
			return &upstream.ClassifiedError{Err: err, Class: upstream.ErrTransient}
		case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
			return &upstream.ClassifiedError{Err: err, Class: upstream.ErrContextOverflow}
		}
	}
	return &upstream.ClassifiedError{Err: err, Class: upstream.ErrFatal}
}
