package compression

// Config enables the pipeline's layers individually. The default-safe set
// only turns on the three layers that are unconditionally lossless: dedup,
// whitespace normalization, and JSON compaction.
type Config struct {
	EnableDedup              bool
	EnableWhitespace         bool
	EnableStaticDictionary   bool
	EnablePathShortening     bool
	EnableJSONCompaction     bool
	EnableToolObservation    bool // approximate; default-off
	EnableDynamicCodebook    bool

	// ToolObservationThreshold is the content length (bytes) above which a
	// tool message becomes a candidate for layer 6 summarization.
	ToolObservationThreshold int

	// CompressionThresholdBytes is the shouldCompress cutoff: total content
	// under this size skips the pipeline entirely.
	CompressionThresholdBytes int
}

// DefaultConfig returns the default-safe layer set.
func DefaultConfig() Config {
	return Config{
		EnableDedup:               true,
		EnableWhitespace:          true,
		EnableStaticDictionary:    false,
		EnablePathShortening:      false,
		EnableJSONCompaction:      true,
		EnableToolObservation:     false,
		EnableDynamicCodebook:     false,
		ToolObservationThreshold:  500,
		CompressionThresholdBytes: 5 * 1024,
	}
}

// Result reports what each layer did, for observability and metrics.
type Result struct {
	Messages []NormalizedMessage
	Header   string

	DedupRemoved          int
	WhitespaceCharsSaved  int
	StaticDictCodesUsed   []string
	PathCodesUsed         map[string]string
	DynamicCodesUsed      map[string]string
	ToolObservationsCut   int

	OriginalBytes   int
	CompressedBytes int
}

// SavingsRatio returns the fraction of bytes removed, 0 when nothing shrank.
func (r Result) SavingsRatio() float64 {
	if r.OriginalBytes == 0 || r.CompressedBytes >= r.OriginalBytes {
		return 0
	}
	return float64(r.OriginalBytes-r.CompressedBytes) / float64(r.OriginalBytes)
}
