// Package compression implements the seven-layer reversible context
// compression pipeline: deduplication, whitespace normalization, static and
// dynamic dictionary substitution, path-prefix shortening, JSON compaction,
// and (opt-in) tool-observation summarization.
package compression

// ToolCall is the subset of an OpenAI-style tool call needed by the
// pipeline: enough to hash it for dedup and to compact its arguments.
type ToolCall struct {
	ID        string
	Name      string
	Function  string // function name, distinct from the call's own Name field in some wire shapes
	Arguments string // raw JSON text of the arguments
}

// NormalizedMessage is the pipeline's working representation of a single
// chat message, independent of any specific upstream wire format.
type NormalizedMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string // set on "tool" messages, referencing the call it answers
	Name       string
	ToolCalls  []ToolCall // set on "assistant" messages that invoke tools
}
