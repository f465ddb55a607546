package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blockrun/blockrunproxy/internal/circuitbreaker"
	"github.com/blockrun/blockrunproxy/internal/classifier"
	"github.com/blockrun/blockrunproxy/internal/compression"
	"github.com/blockrun/blockrunproxy/internal/dedup"
	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/selector"
	"github.com/blockrun/blockrunproxy/internal/tier"
	"github.com/blockrun/blockrunproxy/internal/upstream"
)

type fakeSigner struct{}

func (fakeSigner) Sign(costUSD float64) (string, error) { return "attestation", nil }

// stubAdapter implements both upstream.Adapter and upstream.StreamAdapter
// with test-supplied behavior.
type stubAdapter struct {
	id       string
	sendFn   func(req upstream.ChatRequest) (upstream.Response, error)
	streamFn func(req upstream.ChatRequest) (io.ReadCloser, error)
}

func (a *stubAdapter) ID() string { return a.id }

func (a *stubAdapter) Send(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (upstream.Response, error) {
	if a.sendFn == nil {
		return upstream.Response{}, errors.New("stubAdapter: Send not configured")
	}
	return a.sendFn(req)
}

func (a *stubAdapter) SendStream(ctx context.Context, model string, req upstream.ChatRequest, paymentHeader string) (io.ReadCloser, error) {
	if a.streamFn == nil {
		return nil, errors.New("stubAdapter: SendStream not configured")
	}
	return a.streamFn(req)
}

func (a *stubAdapter) ClassifyError(err error) *upstream.ClassifiedError {
	return &upstream.ClassifiedError{Err: err, Class: upstream.ErrTransient}
}

func newCatalog() *selector.Catalog {
	c := selector.NewCatalog()
	cfg := selector.TierConfig{
		Primary:  "primary/model-a",
		Fallback: []selector.ModelID{"primary/model-b"},
	}
	for _, t := range []tier.Tier{tier.Simple, tier.Medium, tier.Complex, tier.Reasoning} {
		c.Default[t] = cfg
		c.Eco[t] = cfg
		c.Premium[t] = cfg
	}
	c.Baseline = "primary/model-a"
	return c
}

func newTestDispatcher(adapters map[string]upstream.Adapter) *Dispatcher {
	cfg := DefaultConfig()
	cfg.MaxRequestSizeKB = 512
	sc := scorer.NewScorer(scorer.DefaultScoringConfig())
	cl := classifier.New(tier.DefaultOverrides())
	sel := selector.New(newCatalog(), nil)
	comp := compression.New(compression.DefaultConfig())
	dc := dedup.New(dedup.DefaultConfig())
	breakers := circuitbreaker.NewRegistry()
	return New(cfg, sc, cl, sel, comp, dc, fakeSigner{}, adapters, breakers, nil)
}

func chatBody(model string, content string) []byte {
	return []byte(`{"model":"` + model + `","messages":[{"role":"user","content":"` + content + `"}]}`)
}

func TestServeChatCompletionsExplicitModelSuccess(t *testing.T) {
	adapter := &stubAdapter{
		sendFn: func(req upstream.ChatRequest) (upstream.Response, error) {
			return upstream.Response{StatusCode: http.StatusOK, Body: []byte(`{"choices":[]}`), Headers: map[string]string{"Content-Type": "application/json"}}, nil
		},
	}
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": adapter})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("primary/model-a", "hello there")))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "choices") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServeChatCompletionsFallsBackOnFailure(t *testing.T) {
	calls := 0
	adapter := &stubAdapter{
		sendFn: func(req upstream.ChatRequest) (upstream.Response, error) {
			calls++
			if calls == 1 {
				return upstream.Response{}, errors.New("boom")
			}
			return upstream.Response{StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
		},
	}
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": adapter})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("auto", "write a short poem")))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if calls < 2 {
		t.Fatalf("expected at least 2 attempts across the fallback chain, got %d", calls)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected eventual success, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServeChatCompletionsRejectsOversizedBody(t *testing.T) {
	d := newTestDispatcher(map[string]upstream.Adapter{})
	d.cfg.MaxRequestSizeKB = 0

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("auto", "hi")))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServeChatCompletionsRejectsInvalidMessages(t *testing.T) {
	d := newTestDispatcher(map[string]upstream.Adapter{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"model":"auto","messages":[]}`)))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServeChatCompletionsDedupsIdenticalRequests(t *testing.T) {
	calls := 0
	adapter := &stubAdapter{
		sendFn: func(req upstream.ChatRequest) (upstream.Response, error) {
			calls++
			return upstream.Response{StatusCode: http.StatusOK, Body: []byte(`{"n":` + string(rune('0'+calls)) + `}`)}, nil
		},
	}
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": adapter})

	body := chatBody("primary/model-a", "same request every time")

	req1 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	d.ServeChatCompletions(rec1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	d.ServeChatCompletions(rec2, req2)

	if calls != 1 {
		t.Errorf("expected exactly 1 upstream call across both requests, got %d", calls)
	}
	if rec2.Header().Get("X-Dedup-Hit") != "true" {
		t.Errorf("expected second response to be marked as a dedup hit")
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Errorf("expected identical bodies, got %q vs %q", rec1.Body.String(), rec2.Body.String())
	}
}

func TestServeChatCompletionsStreams(t *testing.T) {
	adapter := &stubAdapter{
		streamFn: func(req upstream.ChatRequest) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("data: {\"chunk\":1}\n\ndata: [DONE]\n\n")), nil
		},
	}
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": adapter})

	body := []byte(`{"model":"primary/model-a","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Errorf("expected streamed SSE body to reach the client, got %q", rec.Body.String())
	}
}

func TestServeChatCompletionsRejectsUnknownExplicitModel(t *testing.T) {
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": &stubAdapter{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody("primary/does-not-exist", "hello there")))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown explicit model, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "model") {
		t.Errorf("expected error message to name the model, got %s", rec.Body.String())
	}
}

func TestServeChatCompletionsCarriesToolCallsToUpstream(t *testing.T) {
	var gotMessages []upstream.Message
	adapter := &stubAdapter{
		sendFn: func(req upstream.ChatRequest) (upstream.Response, error) {
			gotMessages = req.Messages
			return upstream.Response{StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
		},
	}
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": adapter})

	body := []byte(`{"model":"primary/model-a","messages":[` +
		`{"role":"user","content":"what's the weather in Boston?"},` +
		`{"role":"assistant","content":null,"tool_calls":[{"id":"call_123","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Boston\"}"}}]},` +
		`{"role":"tool","tool_call_id":"call_123","content":"{\"tempF\":72}"}` +
		`]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var assistantMsg *upstream.Message
	var toolMsg *upstream.Message
	for i := range gotMessages {
		switch gotMessages[i].Role {
		case "assistant":
			assistantMsg = &gotMessages[i]
		case "tool":
			toolMsg = &gotMessages[i]
		}
	}
	if assistantMsg == nil || len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("expected the assistant message to carry exactly one tool call, got %+v", gotMessages)
	}
	if assistantMsg.ToolCalls[0].Name != "get_weather" {
		t.Errorf("expected functionName get_weather, got %q", assistantMsg.ToolCalls[0].Name)
	}
	if !strings.Contains(assistantMsg.ToolCalls[0].Arguments, "Boston") {
		t.Errorf("expected tool call arguments to still contain the value, got %q", assistantMsg.ToolCalls[0].Arguments)
	}
	if toolMsg == nil || toolMsg.ToolCallID != "call_123" {
		t.Fatalf("expected the tool message to carry tool_call_id, got %+v", gotMessages)
	}
}

func TestServeChatCompletionsRejectsOversizedAfterCompression(t *testing.T) {
	d := newTestDispatcher(map[string]upstream.Adapter{"primary": &stubAdapter{}})

	var messages []chatMessage
	messages = append(messages, chatMessage{Role: "system", Content: "be helpful"})
	for i := 0; i < 120; i++ {
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: fmt.Sprintf("padding content entry number %d to inflate the request body past the compression threshold", i),
		})
	}
	reqBody := chatCompletionRequest{Model: "primary/model-a", Messages: messages}
	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	// Measure what the dispatcher's own compressor actually produces for
	// this fixture, rather than assuming a byte count, and pick a limit
	// that sits strictly between the raw body size and the post-compression
	// size — i.e. one the request would clear on the initial body-size gate
	// but not on the post-compression re-check.
	normalized := toNormalizedMessages(messages)
	result := d.compressor.Run(normalized)
	compressedLen := compressedSize(result.Messages)
	if compressedLen <= len(body) {
		t.Fatalf("fixture does not grow under normalization/compression (raw=%d compressed=%d); adjust fixture", len(body), compressedLen)
	}
	d.cfg.MaxRequestSizeKB = (compressedLen - 1) / 1024
	if d.cfg.MaxRequestSizeKB*1024 <= len(body) {
		t.Fatalf("chosen limit %d does not clear the raw body size %d; adjust fixture", d.cfg.MaxRequestSizeKB*1024, len(body))
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeChatCompletions(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 from the post-compression size re-check, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestParseModelDirective(t *testing.T) {
	cases := []struct {
		model        string
		wantAuto     bool
		wantExplicit selector.ModelID
	}{
		{"auto", true, ""},
		{"", true, ""},
		{"free", true, ""},
		{"eco", true, ""},
		{"premium", true, ""},
		{"openai/gpt-4o", false, "openai/gpt-4o"},
	}
	for _, tc := range cases {
		_, autoRoute, explicit := parseModelDirective(tc.model)
		if autoRoute != tc.wantAuto {
			t.Errorf("model %q: autoRoute = %v, want %v", tc.model, autoRoute, tc.wantAuto)
		}
		if explicit != tc.wantExplicit {
			t.Errorf("model %q: explicit = %q, want %q", tc.model, explicit, tc.wantExplicit)
		}
	}
}
