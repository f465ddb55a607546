// Package upstream translates a normalized chat request into each
// upstream provider's wire format, attaches the wallet's payment
// attestation, performs the HTTP (or streaming) call, and classifies
// failures for the dispatcher's fallback loop.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StatusError wraps a non-2xx upstream HTTP response.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses an RFC 7231 Retry-After header value, which is
// either a delta-seconds integer or an HTTP-date, and stores the resulting
// delay (in seconds) on RetryAfterSecs. A header that parses as neither
// form leaves RetryAfterSecs unset.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs > 0 {
			e.RetryAfterSecs = secs
		}
		return
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(d.Seconds())
		}
	}
}

// ErrorClass buckets a failure for the dispatcher's fallback and retry logic.
type ErrorClass int

const (
	ErrFatal ErrorClass = iota
	ErrRateLimited
	ErrTransient
	ErrContextOverflow
)

func (c ErrorClass) String() string {
	switch c {
	case ErrRateLimited:
		return "rate_limited"
	case ErrTransient:
		return "transient"
	case ErrContextOverflow:
		return "context_overflow"
	default:
		return "fatal"
	}
}

// ClassifiedError pairs an underlying error with its dispatcher-relevant class.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int // seconds, 0 if not specified
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// ChatRequest is upstream's normalized input: a message list in the shared
// wire shape every adapter translates from, plus generation options. The
// model is not part of it; adapters receive it as a separate argument.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// Message is a single chat turn in the OpenAI-style shape every adapter's
// wire format is a variation of. ToolCallID and ToolCalls are only set on,
// respectively, "tool" and "assistant" turns that participate in a
// function-calling exchange.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a single assistant-issued function invocation, carried
// through to the provider payload alongside the message that made it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON text of the arguments
}

// MessagePayload renders a Message into the OpenAI-compatible wire shape
// every adapter's buildPayload assembles its "messages" array from: a
// role/content pair plus, when present, the tool-calling fields a
// function-result or function-invoking turn carries.
func MessagePayload(m Message) map[string]any {
	out := map[string]any{"role": m.Role, "content": m.Content}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]map[string]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			}
		}
		out["tool_calls"] = calls
	}
	return out
}

// Response is the raw bytes of a non-streaming upstream reply, passed
// through to the client largely as-is.
type Response struct {
	Body       []byte
	StatusCode int
	Headers    map[string]string
}

// Adapter is implemented by each upstream provider's package for
// non-streaming chat completions.
type Adapter interface {
	ID() string
	Send(ctx context.Context, model string, req ChatRequest, paymentHeader string) (Response, error)
	ClassifyError(err error) *ClassifiedError
}

// StreamAdapter is implemented by adapters that also support forwarding a
// Server-Sent-Events response chunk-by-chunk rather than buffering it
// whole. The dispatcher type-asserts for this when req.Stream is true.
type StreamAdapter interface {
	Adapter
	SendStream(ctx context.Context, model string, req ChatRequest, paymentHeader string) (io.ReadCloser, error)
}
