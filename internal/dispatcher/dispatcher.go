package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blockrun/blockrunproxy/internal/circuitbreaker"
	"github.com/blockrun/blockrunproxy/internal/classifier"
	"github.com/blockrun/blockrunproxy/internal/compression"
	"github.com/blockrun/blockrunproxy/internal/dedup"
	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/selector"
	"github.com/blockrun/blockrunproxy/internal/tier"
	"github.com/blockrun/blockrunproxy/internal/upstream"
)

// Signer is the subset of wallet.Signer the dispatcher depends on.
type Signer interface {
	Sign(costUSD float64) (string, error)
}

// HealthRecorder is the subset of *health.Tracker the dispatcher uses to
// feed attempt outcomes back into the availability signal the selector
// reads on the next request.
type HealthRecorder interface {
	RecordSuccess(providerID string, latencyMs float64)
	RecordError(providerID string, errMsg string)
}

// Dispatcher implements the per-request pipeline described in spec §4.F:
// validation, optional compression, dedup-cache lookup, routing, a
// per-model fallback loop guarded by per-model circuit breakers, and
// streaming or buffered response delivery.
type Dispatcher struct {
	cfg Config

	scorer     *scorer.Scorer
	classifier *classifier.Classifier
	selector   *selector.Selector
	compressor *compression.Pipeline
	dedupCache *dedup.Cache
	signer     Signer
	adapters   map[string]upstream.Adapter
	breakers   *circuitbreaker.Registry
	health     HealthRecorder
}

// New wires a Dispatcher from its collaborators. adapters is keyed by
// provider id (the segment before "/" in a ModelID, e.g. "openai").
func New(
	cfg Config,
	sc *scorer.Scorer,
	cl *classifier.Classifier,
	sel *selector.Selector,
	comp *compression.Pipeline,
	dc *dedup.Cache,
	signer Signer,
	adapters map[string]upstream.Adapter,
	breakers *circuitbreaker.Registry,
	healthRecorder HealthRecorder,
) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		scorer:     sc,
		classifier: cl,
		selector:   sel,
		compressor: comp,
		dedupCache: dc,
		signer:     signer,
		adapters:   adapters,
		breakers:   breakers,
		health:     healthRecorder,
	}
}

// ServeChatCompletions handles POST /v1/chat/completions end to end.
func (d *Dispatcher) ServeChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r)
	if !ok {
		return
	}

	var req chatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(w, fmt.Errorf("malformed JSON body: %w", err))
		return
	}
	if err := req.validate(); err != nil {
		writeInvalidRequest(w, err)
		return
	}

	key := dedup.Key(body)

	if cached, ok := d.dedupCache.GetCached(key); ok {
		writeCached(w, cached)
		return
	}
	if waiter, ok := d.dedupCache.GetInflight(key); ok {
		resp, err := waiter.Wait()
		if err != nil {
			writeOriginFailed(w)
			return
		}
		writeCached(w, resp)
		return
	}
	d.dedupCache.MarkInflight(key)

	profile, autoRoute, explicit := parseModelDirective(req.Model)

	messages := toNormalizedMessages(req.Messages)
	upstreamMessages := messages
	if d.cfg.AutoCompressRequests && len(body) > d.cfg.CompressionThresholdKB*1024 && d.compressor.ShouldCompress(messages) {
		result := d.compressor.Run(messages)
		upstreamMessages = result.Messages
		if limit := d.cfg.MaxRequestSizeKB * 1024; limit > 0 && compressedSize(upstreamMessages) > limit {
			d.dedupCache.RemoveInflight(key)
			writeRequestTooLarge(w)
			return
		}
	}

	var chain []selector.ModelID
	var costEstimate float64
	if autoRoute {
		estInput := req.estimatedInputTokens()
		sc := d.scorer.Score(req.latestUserTurn(), req.systemPrompt(), estInput)
		decision := d.classifier.Classify(sc, estInput)
		agentic := d.scorer.IsAgentic(sc)
		rd, err := d.selector.Select(decision.Tier, profile, agentic, decision.Confidence, estInput, req.maxOutputTokens())
		if err != nil {
			d.dedupCache.RemoveInflight(key)
			writeInvalidRequest(w, err)
			return
		}
		chain = rd.Chain
		costEstimate = rd.CostEstimate
	} else {
		if !d.selector.KnownModel(explicit) {
			d.dedupCache.RemoveInflight(key)
			writeInvalidRequest(w, fmt.Errorf("unknown model %q", explicit))
			return
		}
		chain = []selector.ModelID{explicit}
	}

	upReq := upstream.ChatRequest{
		Messages:  toUpstreamMessages(upstreamMessages),
		MaxTokens: req.maxOutputTokens(),
		Stream:    req.Stream,
	}
	if req.Temperature != nil {
		upReq.Temperature = req.Temperature
	}

	status, headers, respBody, attemptErr := d.attemptChain(r.Context(), w, chain, upReq, req.Stream, costEstimate)
	if attemptErr != nil && d.cfg.EmergencyFreeModel != "" && !containsModel(chain, selector.ModelID(d.cfg.EmergencyFreeModel)) {
		status, headers, respBody, attemptErr = d.attemptChain(r.Context(), w, []selector.ModelID{selector.ModelID(d.cfg.EmergencyFreeModel)}, upReq, req.Stream, 0)
	}

	if attemptErr != nil {
		d.dedupCache.RemoveInflight(key)
		if !req.Stream {
			writeUpstreamExhausted(w, attemptErr.Error())
		}
		return
	}

	if !req.Stream {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write(respBody)
	}

	d.dedupCache.Complete(key, dedup.CachedResponse{Status: status, Headers: headers, Body: respBody})
}

func (d *Dispatcher) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := int64(d.cfg.MaxRequestSizeKB)*1024 + 1
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		writeInvalidRequest(w, fmt.Errorf("reading request body: %w", err))
		return nil, false
	}
	if int64(len(body)) >= limit {
		writeRequestTooLarge(w)
		return nil, false
	}
	return body, true
}

// attemptChain tries each model in chain in order, up to
// MaxFallbackAttempts total attempts across the whole chain. It returns the
// first successful response, streaming it directly to w when stream is
// true. A streamed reply's bytes are also captured in memory and returned
// as the body, so the caller can hand them to the dedup cache, whose
// Complete skips bodies above its size cap.
func (d *Dispatcher) attemptChain(ctx context.Context, w http.ResponseWriter, chain []selector.ModelID, req upstream.ChatRequest, stream bool, costEstimate float64) (int, map[string]string, []byte, error) {
	var lastErr error
	attempts := 0

	for _, model := range chain {
		if attempts >= d.cfg.MaxFallbackAttempts {
			break
		}
		provider := model.Provider()
		breaker := d.breakers.Get(string(model))
		if !breaker.Allow() {
			continue
		}
		attempts++

		adapter, ok := d.adapters[provider]
		if !ok {
			lastErr = fmt.Errorf("no upstream adapter registered for provider %q", provider)
			breaker.RecordFailure()
			continue
		}

		attestation, err := d.signer.Sign(costEstimate)
		if err != nil {
			lastErr = fmt.Errorf("signing payment attestation: %w", err)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		start := time.Now()

		if stream {
			streamAdapter, ok := adapter.(upstream.StreamAdapter)
			if !ok {
				cancel()
				lastErr = fmt.Errorf("adapter %s does not support streaming", adapter.ID())
				continue
			}
			body, err := streamAdapter.SendStream(attemptCtx, string(model), req, attestation)
			if err != nil {
				cancel()
				d.recordFailure(breaker, provider, err)
				lastErr = err
				continue
			}
			var captured bytes.Buffer
			_, werr := streamToClient(w, io.TeeReader(body, &captured))
			body.Close()
			cancel()
			if werr != nil {
				lastErr = werr
				d.recordFailure(breaker, provider, werr)
				continue
			}
			breaker.RecordSuccess()
			d.recordSuccess(provider, start)
			return http.StatusOK, map[string]string{"Content-Type": "text/event-stream"}, captured.Bytes(), nil
		}

		resp, err := adapter.Send(attemptCtx, string(model), req, attestation)
		cancel()
		if err != nil {
			d.recordFailure(breaker, provider, err)
			lastErr = err
			continue
		}
		breaker.RecordSuccess()
		d.recordSuccess(provider, start)
		return resp.StatusCode, resp.Headers, resp.Body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no upstream model available")
	}
	return 0, nil, nil, lastErr
}

func (d *Dispatcher) recordFailure(breaker *circuitbreaker.Breaker, provider string, err error) {
	breaker.RecordFailure()
	if d.health != nil {
		d.health.RecordError(provider, err.Error())
	}
}

func (d *Dispatcher) recordSuccess(provider string, start time.Time) {
	if d.health != nil {
		d.health.RecordSuccess(provider, float64(time.Since(start).Milliseconds()))
	}
}

// streamToClient copies body to w as Server-Sent-Events frames, flushing
// after every chunk so the client sees tokens as they arrive.
func streamToClient(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 4096)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func writeCached(w http.ResponseWriter, resp dedup.CachedResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Dedup-Hit", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func containsModel(chain []selector.ModelID, m selector.ModelID) bool {
	for _, c := range chain {
		if c == m {
			return true
		}
	}
	return false
}

func toNormalizedMessages(msgs []chatMessage) []compression.NormalizedMessage {
	out := make([]compression.NormalizedMessage, len(msgs))
	for i, m := range msgs {
		var calls []compression.ToolCall
		for _, wc := range m.toolCalls() {
			calls = append(calls, compression.ToolCall{
				ID:        wc.ID,
				Function:  wc.Function.Name,
				Arguments: wc.Function.Arguments,
			})
		}
		out[i] = compression.NormalizedMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			ToolCalls:  calls,
		}
	}
	return out
}

func toUpstreamMessages(msgs []compression.NormalizedMessage) []upstream.Message {
	out := make([]upstream.Message, len(msgs))
	for i, m := range msgs {
		var calls []upstream.ToolCall
		for _, tc := range m.ToolCalls {
			calls = append(calls, upstream.ToolCall{ID: tc.ID, Name: tc.Function, Arguments: tc.Arguments})
		}
		out[i] = upstream.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  calls,
		}
	}
	return out
}

// compressedSize returns the length of the JSON encoding of the (possibly
// compressed) normalized messages, which the post-compression check in
// ServeChatCompletions compares against MaxRequestSizeKB. It measures only
// the message list in NormalizedMessage's JSON shape, not the client's
// original request body.
func compressedSize(msgs []compression.NormalizedMessage) int {
	encoded, err := json.Marshal(msgs)
	if err != nil {
		return 0
	}
	return len(encoded)
}

// parseModelDirective interprets the request's "model" field per the
// routing-profile selection rule: auto/free/eco/premium pick a profile and
// trigger classification; anything else is an explicit provider-qualified
// model id that bypasses the scorer and classifier entirely.
func parseModelDirective(model string) (profile tier.RoutingProfile, autoRoute bool, explicit selector.ModelID) {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if normalized == "" {
		return tier.Auto, true, ""
	}
	p, ok := tier.ParseRoutingProfile(normalized)
	if !ok {
		return tier.Auto, false, selector.ModelID(model)
	}
	if p == tier.Free {
		// The catalog has no separate FREE tier set; FREE and ECO both
		// draw from the cost-favoring ECO set.
		p = tier.Eco
	}
	return p, true, ""
}
