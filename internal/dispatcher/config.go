// Package dispatcher implements the per-request pipeline: body validation,
// optional compression, dedup-cache lookup, routing, a per-model fallback
// loop with circuit breaking, and streaming or buffered response delivery.
package dispatcher

import "time"

// Config parameterizes a Dispatcher.
type Config struct {
	MaxRequestSizeKB       int
	CompressionThresholdKB int
	AutoCompressRequests   bool
	MaxFallbackAttempts    int
	AttemptTimeout         time.Duration
	EmergencyFreeModel     string // tried once after every chain model fails
}

// DefaultConfig returns spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestSizeKB:       512,
		CompressionThresholdKB: 5,
		AutoCompressRequests:   true,
		MaxFallbackAttempts:    3,
		AttemptTimeout:         30 * time.Second,
	}
}
