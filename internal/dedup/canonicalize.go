package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
)

var timestampMarkerRe = regexp.MustCompile(`^\[\w{3}\s+\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}\s+\w+\]\s*`)

// Canonicalize parses body as JSON, strips a leading timestamp marker from
// every string field named "content", recursively sorts object keys, and
// re-serializes. On parse failure the raw bytes are returned unchanged, so
// a non-JSON body still gets a stable (if less deduplication-friendly) key.
func Canonicalize(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	v = stripTimestamps(v)
	v = sortKeys(v)
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

func stripTimestamps(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "content" {
				if s, ok := val.(string); ok {
					t[k] = timestampMarkerRe.ReplaceAllString(s, "")
					continue
				}
			}
			t[k] = stripTimestamps(val)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = stripTimestamps(item)
		}
		return t
	default:
		return v
	}
}

// sortKeys recursively normalizes maps into an order-stable representation.
// encoding/json already sorts map[string]any keys alphabetically when
// marshaling, so this walk exists to make that behavior explicit and to
// recurse into nested arrays/objects uniformly.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		normalized := make(map[string]any, len(t))
		for _, k := range keys {
			normalized[k] = sortKeys(t[k])
		}
		return normalized
	case []any:
		for i, item := range t {
			t[i] = sortKeys(item)
		}
		return t
	default:
		return v
	}
}

// Key returns the first 16 hex characters of the SHA-256 digest of the
// canonicalized body.
func Key(body []byte) string {
	canonical := Canonicalize(body)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16]
}
