package compression

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Pipeline runs the configured compression layers over a message list.
type Pipeline struct {
	cfg Config

	pathRe *regexp.Regexp
}

// New returns a Pipeline configured with cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		pathRe: regexp.MustCompile(`(?:/[\w.\-]+){3,}`),
	}
}

// ShouldCompress reports whether the combined content size clears the
// configured threshold; below it, compression is skipped entirely.
func (p *Pipeline) ShouldCompress(messages []NormalizedMessage) bool {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total >= p.cfg.CompressionThresholdBytes
}

// Run executes every enabled layer in order and returns the transformed
// messages plus a self-describing header to prepend to the first user
// message.
func (p *Pipeline) Run(messages []NormalizedMessage) Result {
	res := Result{
		PathCodesUsed:    make(map[string]string),
		DynamicCodesUsed: make(map[string]string),
	}
	for _, m := range messages {
		res.OriginalBytes += len(m.Content)
	}

	msgs := append([]NormalizedMessage(nil), messages...)

	if p.cfg.EnableDedup {
		msgs, res.DedupRemoved = p.dedup(msgs)
	}
	if p.cfg.EnableWhitespace {
		msgs, res.WhitespaceCharsSaved = p.whitespaceNormalize(msgs)
	}
	var staticCodes []string
	if p.cfg.EnableStaticDictionary {
		msgs, staticCodes = p.staticDictionarySubstitute(msgs)
		res.StaticDictCodesUsed = staticCodes
	}
	if p.cfg.EnablePathShortening {
		msgs, res.PathCodesUsed = p.pathShorten(msgs)
	}
	if p.cfg.EnableJSONCompaction {
		msgs = p.jsonCompact(msgs)
	}
	if p.cfg.EnableToolObservation {
		msgs, res.ToolObservationsCut = p.toolObservationCompress(msgs)
	}
	if p.cfg.EnableDynamicCodebook {
		msgs, res.DynamicCodesUsed = p.dynamicCodebook(msgs)
	}

	res.Messages = msgs
	for _, m := range msgs {
		res.CompressedBytes += len(m.Content)
	}
	res.Header = p.buildHeader(staticCodes, res.PathCodesUsed, res.DynamicCodesUsed)

	if res.Header != "" {
		injectHeader(res.Messages, res.Header)
	}

	return res
}

func injectHeader(messages []NormalizedMessage, header string) {
	for i := range messages {
		if messages[i].Role == "user" {
			messages[i].Content = header + "\n" + messages[i].Content
			return
		}
	}
}

func (p *Pipeline) buildHeader(staticCodes []string, paths, dyn map[string]string) string {
	var lines []string
	if len(staticCodes) > 0 {
		var parts []string
		for _, code := range staticCodes {
			for _, e := range staticDictionary {
				if e.Code == code {
					parts = append(parts, fmt.Sprintf("%s=%s", e.Code, e.Phrase))
				}
			}
		}
		lines = append(lines, "[Dict: "+strings.Join(parts, ", ")+"]")
	}
	if len(paths) > 0 {
		keys := sortedKeys(paths)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, paths[k]))
		}
		lines = append(lines, "[Paths: "+strings.Join(parts, ", ")+"]")
	}
	if len(dyn) > 0 {
		keys := sortedKeys(dyn)
		var parts []string
		n := 0
		for _, k := range keys {
			if n >= 20 {
				break
			}
			phrase := dyn[k]
			if len(phrase) > 40 {
				phrase = phrase[:40]
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, phrase))
			n++
		}
		lines = append(lines, "[DynDict: "+strings.Join(parts, ", ")+"]")
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Layer 1: Dedup ---

func (p *Pipeline) dedup(messages []NormalizedMessage) ([]NormalizedMessage, int) {
	referencedToolCallIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID != "" {
			referencedToolCallIDs[m.ToolCallID] = true
		}
	}

	seen := make(map[string]bool)
	out := make([]NormalizedMessage, 0, len(messages))
	removed := 0

	for _, m := range messages {
		if m.Role != "assistant" {
			out = append(out, m)
			continue
		}
		referencesLiveToolCall := false
		for _, tc := range m.ToolCalls {
			if referencedToolCallIDs[tc.ID] {
				referencesLiveToolCall = true
				break
			}
		}
		if referencesLiveToolCall {
			out = append(out, m)
			continue
		}

		h := hashMessage(m)
		if seen[h] {
			removed++
			continue
		}
		seen[h] = true
		out = append(out, m)
	}
	return out, removed
}

func hashMessage(m NormalizedMessage) string {
	var toolCallSummary strings.Builder
	for _, tc := range m.ToolCalls {
		toolCallSummary.WriteString(tc.ID)
		toolCallSummary.WriteString(":")
		toolCallSummary.WriteString(tc.Function)
		toolCallSummary.WriteString(";")
	}
	raw := m.Role + "|" + m.Content + "|" + m.ToolCallID + "|" + m.Name + "|" + toolCallSummary.String()
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// --- Layer 2: Whitespace normalization ---

var (
	crlfRe       = regexp.MustCompile(`\r\n|\r`)
	multiNlRe    = regexp.MustCompile(`\n{3,}`)
	trailSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	interiorRe   = regexp.MustCompile(`[^\S\n]{2,}`)
	deepIndentRe = regexp.MustCompile(`(?m)^( {8,})`)
)

func (p *Pipeline) whitespaceNormalize(messages []NormalizedMessage) ([]NormalizedMessage, int) {
	saved := 0
	out := make([]NormalizedMessage, len(messages))
	for i, m := range messages {
		before := len(m.Content)
		c := crlfRe.ReplaceAllString(m.Content, "\n")
		c = multiNlRe.ReplaceAllString(c, "\n\n")
		c = trailSpaceRe.ReplaceAllString(c, "\n")
		lines := strings.Split(c, "\n")
		for j, line := range lines {
			if !strings.Contains(line, "\t") {
				line = interiorRe.ReplaceAllString(line, " ")
			}
			lines[j] = line
		}
		c = strings.Join(lines, "\n")
		c = deepIndentRe.ReplaceAllStringFunc(c, func(indent string) string {
			levels := len(indent) / 4
			if levels < 1 {
				levels = 1
			}
			return strings.Repeat("  ", levels)
		})
		c = strings.ReplaceAll(c, "\t", "  ")
		c = strings.TrimSpace(c)

		m.Content = c
		out[i] = m
		saved += before - len(c)
	}
	return out, saved
}

// --- Layer 3: Static dictionary ---

func (p *Pipeline) staticDictionarySubstitute(messages []NormalizedMessage) ([]NormalizedMessage, []string) {
	used := make(map[string]bool)
	out := make([]NormalizedMessage, len(messages))
	for i, m := range messages {
		c := m.Content
		for _, e := range staticDictionary {
			if strings.Contains(c, e.Phrase) {
				c = strings.ReplaceAll(c, e.Phrase, e.Code)
				used[e.Code] = true
			}
		}
		m.Content = c
		out[i] = m
	}
	codes := make([]string, 0, len(used))
	for _, e := range staticDictionary {
		if used[e.Code] {
			codes = append(codes, e.Code)
		}
	}
	return out, codes
}

// --- Layer 4: Path-prefix shortening ---

func (p *Pipeline) pathShorten(messages []NormalizedMessage) ([]NormalizedMessage, map[string]string) {
	prefixCounts := make(map[string]int)
	for _, m := range messages {
		for _, path := range p.pathRe.FindAllString(m.Content, -1) {
			parts := strings.Split(strings.Trim(path, "/"), "/")
			for depth := 2; depth <= len(parts) && depth <= 4; depth++ {
				prefix := "/" + strings.Join(parts[:depth], "/")
				prefixCounts[prefix]++
			}
		}
	}

	type candidate struct {
		prefix string
		count  int
	}
	var candidates []candidate
	for prefix, count := range prefixCounts {
		if count >= 3 {
			candidates = append(candidates, candidate{prefix, count})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].prefix < candidates[j].prefix
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	codes := make(map[string]string, len(candidates))
	for i, c := range candidates {
		codes[fmt.Sprintf("$P%d", i+1)] = c.prefix + "/"
	}

	out := make([]NormalizedMessage, len(messages))
	for i, m := range messages {
		c := m.Content
		// Replace longest prefixes first so a shorter prefix never shadows a longer one.
		keys := sortedKeys(codes)
		sort.Slice(keys, func(a, b int) bool { return len(codes[keys[a]]) > len(codes[keys[b]]) })
		for _, code := range keys {
			prefix := strings.TrimSuffix(codes[code], "/")
			c = strings.ReplaceAll(c, prefix+"/", code+"/")
		}
		m.Content = c
		out[i] = m
	}
	return out, codes
}

// --- Layer 5: JSON compaction ---

func (p *Pipeline) jsonCompact(messages []NormalizedMessage) []NormalizedMessage {
	out := make([]NormalizedMessage, len(messages))
	for i, m := range messages {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			calls := make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tc.Arguments = compactJSON(tc.Arguments)
				calls[j] = tc
			}
			m.ToolCalls = calls
		}
		if m.Role == "tool" {
			trimmed := strings.TrimSpace(m.Content)
			if looksLikeJSON(trimmed) {
				m.Content = compactJSON(trimmed)
			}
		}
		out[i] = m
	}
	return out
}

func looksLikeJSON(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func compactJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}

// --- Layer 6: Tool-observation compression (approximate) ---

var (
	errorLineRe  = regexp.MustCompile(`(?i)error|exception|failed|invalid`)
	statusLineRe = regexp.MustCompile(`(?i)success|complete|found`)
	kvRe         = regexp.MustCompile(`"(id|name|status|error|message|count|total|url|path)"\s*:\s*"?([^",}]+)"?`)
)

func (p *Pipeline) toolObservationCompress(messages []NormalizedMessage) ([]NormalizedMessage, int) {
	out := make([]NormalizedMessage, len(messages))
	seenBlocks := make(map[string]int) // first 200 bytes -> message index
	cut := 0

	for i, m := range messages {
		if m.Role != "tool" || len(m.Content) <= p.cfg.ToolObservationThreshold {
			out[i] = m
			continue
		}

		prefix := m.Content
		if len(prefix) > 200 {
			prefix = prefix[:200]
		}
		if earlier, ok := seenBlocks[prefix]; ok {
			m.Content = fmt.Sprintf("[See message #%d — same content]", earlier)
			out[i] = m
			cut++
			continue
		}
		seenBlocks[prefix] = i

		m.Content = summarizeObservation(m.Content)
		out[i] = m
		cut++
	}
	return out, cut
}

func summarizeObservation(content string) string {
	lines := strings.Split(content, "\n")

	var errLines, statusLines []string
	for _, l := range lines {
		if len(errLines) < 3 && errorLineRe.MatchString(l) {
			errLines = append(errLines, strings.TrimSpace(l))
		}
		if len(statusLines) < 3 && statusLineRe.MatchString(l) {
			statusLines = append(statusLines, strings.TrimSpace(l))
		}
	}

	var kvPairs []string
	for _, m := range kvRe.FindAllStringSubmatch(content, -1) {
		if len(kvPairs) >= 5 {
			break
		}
		kvPairs = append(kvPairs, fmt.Sprintf("%s=%s", m[1], m[2]))
	}

	var b strings.Builder
	if len(errLines) > 0 {
		b.WriteString(strings.Join(errLines, "; "))
	}
	if len(statusLines) > 0 {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(strings.Join(statusLines, "; "))
	}
	if len(kvPairs) > 0 {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(strings.Join(kvPairs, ", "))
	}
	if b.Len() == 0 {
		first := lines[0]
		last := lines[len(lines)-1]
		b.WriteString(fmt.Sprintf("%s [...%d lines...] %s", first, len(lines), last))
	}

	summary := b.String()
	if len(summary) > 300 {
		summary = summary[:300]
	}
	return summary
}

// --- Layer 7: Dynamic codebook ---

var sentenceSplitRe = regexp.MustCompile(`[\n.]+`)

func (p *Pipeline) dynamicCodebook(messages []NormalizedMessage) ([]NormalizedMessage, map[string]string) {
	counts := make(map[string]int)
	for _, m := range messages {
		for _, phrase := range sentenceSplitRe.Split(m.Content, -1) {
			phrase = strings.TrimSpace(phrase)
			if len(phrase) < 20 || len(phrase) > 200 {
				continue
			}
			counts[phrase]++
		}
	}

	type candidate struct {
		phrase string
		score  int
	}
	var candidates []candidate
	for phrase, count := range counts {
		if count < 3 {
			continue
		}
		score := (len(phrase) - 4) * count
		savings := (len(phrase) - 4) * (count - 1) // rough char savings if all-but-first replaced
		if savings <= 50 {
			continue
		}
		candidates = append(candidates, candidate{phrase, score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > 100 {
		candidates = candidates[:100]
	}

	codes := make(map[string]string, len(candidates))
	codeForPhrase := make(map[string]string, len(candidates))
	for i, c := range candidates {
		code := fmt.Sprintf("$D%02d", i+1)
		codes[code] = c.phrase
		codeForPhrase[c.phrase] = code
	}

	// Replace longest phrases first so shorter phrases never shadow a
	// longer one that contains them.
	ordered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c.phrase)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	out := make([]NormalizedMessage, len(messages))
	for i, m := range messages {
		c := m.Content
		for _, phrase := range ordered {
			c = strings.ReplaceAll(c, phrase, codeForPhrase[phrase])
		}
		m.Content = c
		out[i] = m
	}
	return out, codes
}
