package store

import "context"

// TierConfigRecord is the persisted form of one (profile, tier) -> model
// mapping. Fallback is stored as an ordered list of model ids.
type TierConfigRecord struct {
	Profile  string   `json:"profile"`  // "default", "eco", "premium", "agentic"
	Tier     string   `json:"tier"`     // "simple", "medium", "complex", "reasoning"
	Primary  string   `json:"primary"`
	Fallback []string `json:"fallback"`
}

// ModelPricingRecord is the persisted pricing and context-window entry for
// a single model id.
type ModelPricingRecord struct {
	ModelID         string  `json:"model_id"`
	InputPricePerM  float64 `json:"input_price_per_m"`
	OutputPricePerM float64 `json:"output_price_per_m"`
	ContextWindow   int     `json:"context_window"` // 0 = unknown
}

// CatalogConfig is the full persisted routing table: every tier/profile
// mapping, every model's pricing, and the baseline model used as the
// savings denominator.
type CatalogConfig struct {
	TierConfigs []TierConfigRecord   `json:"tier_configs"`
	Pricing     []ModelPricingRecord `json:"pricing"`
	Baseline    string               `json:"baseline"`
}

// ScoringConfigRecord is the persisted scorer/classifier tuning: the
// dimension weights, tier boundaries, and classifier overrides, each
// stored as JSON text so the schema doesn't need to change when a new
// dimension or override knob is added.
type ScoringConfigRecord struct {
	WeightsJSON    string `json:"weights_json"`
	BoundariesJSON string `json:"boundaries_json"`
	OverridesJSON  string `json:"overrides_json"`
}

// Store defines blockrunproxy's persistence interface: the operator-tunable
// routing table and scoring configuration, read by app.NewServer at startup
// (app.Server's SIGHUP Reload does not re-read it). Request/response bodies are
// never persisted here — the dedup cache's in-memory TTL window is the only
// place a body lives after the response is sent.
type Store interface {
	LoadCatalogConfig(ctx context.Context) (CatalogConfig, error)
	SaveCatalogConfig(ctx context.Context, cfg CatalogConfig) error

	LoadScoringConfig(ctx context.Context) (ScoringConfigRecord, error)
	SaveScoringConfig(ctx context.Context, cfg ScoringConfigRecord) error

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
