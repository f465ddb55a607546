package compression

import (
	"strings"
	"testing"
)

func TestShouldCompressBelowThreshold(t *testing.T) {
	p := New(DefaultConfig())
	msgs := []NormalizedMessage{{Role: "user", Content: "hi"}}
	if p.ShouldCompress(msgs) {
		t.Error("expected short content to skip compression")
	}
}

func TestDedupRemovesRepeatedAssistantMessages(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg)
	msgs := []NormalizedMessage{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "same answer"},
		{Role: "assistant", Content: "same answer"},
	}
	out, removed := p.dedup(msgs)
	if removed != 1 {
		t.Errorf("expected 1 message removed, got %d", removed)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 messages remaining, got %d", len(out))
	}
}

func TestDedupPreservesMessagesReferencedByLaterToolCall(t *testing.T) {
	p := New(DefaultConfig())
	msgs := []NormalizedMessage{
		{Role: "assistant", Content: "calling tool", ToolCalls: []ToolCall{{ID: "call1", Function: "lookup"}}},
		{Role: "assistant", Content: "calling tool", ToolCalls: []ToolCall{{ID: "call1", Function: "lookup"}}},
		{Role: "tool", Content: "result", ToolCallID: "call1"},
	}
	out, removed := p.dedup(msgs)
	if removed != 0 {
		t.Errorf("expected no removal when an assistant message's tool call is referenced later, got %d removed", removed)
	}
	if len(out) != 3 {
		t.Errorf("expected all 3 messages preserved, got %d", len(out))
	}
}

func TestWhitespaceNormalization(t *testing.T) {
	p := New(DefaultConfig())
	msgs := []NormalizedMessage{{Role: "user", Content: "line1\r\n\r\n\r\nline2   \n        deeply indented"}}
	out, saved := p.whitespaceNormalize(msgs)
	if saved <= 0 {
		t.Error("expected whitespace normalization to report saved characters")
	}
	if strings.Contains(out[0].Content, "\r") {
		t.Error("expected CRLF to be normalized away")
	}
	if strings.Contains(out[0].Content, "\n\n\n") {
		t.Error("expected consecutive newlines to be capped at 2")
	}
}

func TestJSONCompaction(t *testing.T) {
	p := New(DefaultConfig())
	msgs := []NormalizedMessage{{Role: "tool", Content: `{
  "status": "ok",
  "count": 3
}`}}
	out := p.jsonCompact(msgs)
	if strings.Contains(out[0].Content, "\n") {
		t.Errorf("expected minified JSON with no newlines, got %q", out[0].Content)
	}
}

func TestJSONCompactionLeavesInvalidJSONUnchanged(t *testing.T) {
	p := New(DefaultConfig())
	original := "{not valid json"
	msgs := []NormalizedMessage{{Role: "tool", Content: original}}
	out := p.jsonCompact(msgs)
	if out[0].Content != original {
		t.Errorf("expected invalid JSON content untouched, got %q", out[0].Content)
	}
}

func TestStaticDictionarySubstitution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableStaticDictionary = true
	p := New(cfg)
	msgs := []NormalizedMessage{{Role: "assistant", Content: "I'll help you with that right away."}}
	out, codes := p.staticDictionarySubstitute(msgs)
	if len(codes) != 1 {
		t.Fatalf("expected exactly one code used, got %v", codes)
	}
	if !strings.Contains(out[0].Content, codes[0]) {
		t.Errorf("expected substituted code %s in content, got %q", codes[0], out[0].Content)
	}
}

func TestPathShorteningKeepsFrequentPrefixes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnablePathShortening = true
	p := New(cfg)
	content := strings.Repeat("see /usr/local/bin/tool and /usr/local/bin/other and /usr/local/bin/third. ", 1)
	msgs := []NormalizedMessage{{Role: "assistant", Content: content}}
	out, codes := p.pathShorten(msgs)
	if len(codes) == 0 {
		t.Fatalf("expected at least one path prefix code, got none")
	}
	found := false
	for code := range codes {
		if strings.Contains(out[0].Content, code) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a path code substituted into content, got %q", out[0].Content)
	}
}

func TestToolObservationCompressionSummarizesLongContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableToolObservation = true
	cfg.ToolObservationThreshold = 50
	p := New(cfg)
	long := strings.Repeat("line of output\n", 40) + `error: something failed` + "\n" + `"status":"error"`
	msgs := []NormalizedMessage{{Role: "tool", Content: long}}
	out, cut := p.toolObservationCompress(msgs)
	if cut != 1 {
		t.Errorf("expected 1 message summarized, got %d", cut)
	}
	if len(out[0].Content) >= len(long) {
		t.Errorf("expected summarized content to be shorter than the original")
	}
}

func TestToolObservationDedupesRepeatedBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableToolObservation = true
	cfg.ToolObservationThreshold = 10
	p := New(cfg)
	block := strings.Repeat("identical output block content here ", 5)
	msgs := []NormalizedMessage{
		{Role: "tool", Content: block},
		{Role: "tool", Content: block},
	}
	out, _ := p.toolObservationCompress(msgs)
	if !strings.Contains(out[1].Content, "same content") {
		t.Errorf("expected second identical block to be replaced with a back-reference, got %q", out[1].Content)
	}
}

func TestRunProducesHeaderWhenCodesUsed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableStaticDictionary = true
	p := New(cfg)
	msgs := []NormalizedMessage{
		{Role: "user", Content: "Please help, I'll help you with that right away."},
	}
	res := p.Run(msgs)
	if res.Header == "" {
		t.Error("expected a non-empty header when dictionary codes were used")
	}
	if !strings.HasPrefix(res.Messages[0].Content, "[Dict:") {
		t.Errorf("expected header prepended to first user message, got %q", res.Messages[0].Content)
	}
}

func TestRunNoHeaderWhenNoCodesUsed(t *testing.T) {
	p := New(DefaultConfig())
	msgs := []NormalizedMessage{{Role: "user", Content: "plain content with nothing to substitute"}}
	res := p.Run(msgs)
	if res.Header != "" {
		t.Errorf("expected no header when no layers produced codes, got %q", res.Header)
	}
}
