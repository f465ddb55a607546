package app

import (
	"encoding/json"
	"fmt"

	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/selector"
	"github.com/blockrun/blockrunproxy/internal/store"
	"github.com/blockrun/blockrunproxy/internal/tier"
)

// defaultCatalog seeds a Catalog with a conservative, cheapest-capable-first
// routing table. It is used on first boot (empty persisted CatalogConfig)
// and as the base that a persisted CatalogConfig's entries override.
func defaultCatalog() *selector.Catalog {
	c := selector.NewCatalog()

	c.Default[tier.Simple] = selector.TierConfig{
		Primary:  "openai/gpt-4o-mini",
		Fallback: []selector.ModelID{"anthropic/claude-3-5-haiku", "vllm/llama-3.1-8b-instruct"},
	}
	c.Default[tier.Medium] = selector.TierConfig{
		Primary:  "anthropic/claude-3-5-haiku",
		Fallback: []selector.ModelID{"openai/gpt-4o-mini", "openai/gpt-4o"},
	}
	c.Default[tier.Complex] = selector.TierConfig{
		Primary:  "openai/gpt-4o",
		Fallback: []selector.ModelID{"anthropic/claude-3-5-sonnet"},
	}
	c.Default[tier.Reasoning] = selector.TierConfig{
		Primary:  "anthropic/claude-3-5-sonnet",
		Fallback: []selector.ModelID{"openai/gpt-4o"},
	}

	c.Eco[tier.Simple] = selector.TierConfig{Primary: "vllm/llama-3.1-8b-instruct", Fallback: []selector.ModelID{"openai/gpt-4o-mini"}}
	c.Eco[tier.Medium] = selector.TierConfig{Primary: "openai/gpt-4o-mini", Fallback: []selector.ModelID{"anthropic/claude-3-5-haiku"}}
	c.Eco[tier.Complex] = selector.TierConfig{Primary: "anthropic/claude-3-5-haiku", Fallback: []selector.ModelID{"openai/gpt-4o-mini"}}
	c.Eco[tier.Reasoning] = selector.TierConfig{Primary: "openai/gpt-4o", Fallback: []selector.ModelID{"anthropic/claude-3-5-haiku"}}

	c.Premium[tier.Simple] = selector.TierConfig{Primary: "openai/gpt-4o", Fallback: []selector.ModelID{"anthropic/claude-3-5-sonnet"}}
	c.Premium[tier.Medium] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: []selector.ModelID{"openai/gpt-4o"}}
	c.Premium[tier.Complex] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: []selector.ModelID{"openai/gpt-4o"}}
	c.Premium[tier.Reasoning] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: nil}

	c.Agentic[tier.Simple] = selector.TierConfig{Primary: "anthropic/claude-3-5-haiku", Fallback: []selector.ModelID{"openai/gpt-4o-mini"}}
	c.Agentic[tier.Medium] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: []selector.ModelID{"openai/gpt-4o"}}
	c.Agentic[tier.Complex] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: []selector.ModelID{"openai/gpt-4o"}}
	c.Agentic[tier.Reasoning] = selector.TierConfig{Primary: "anthropic/claude-3-5-sonnet", Fallback: nil}

	c.Pricing["openai/gpt-4o-mini"] = selector.ModelPricing{InputPricePerM: 0.15, OutputPricePerM: 0.60}
	c.Pricing["openai/gpt-4o"] = selector.ModelPricing{InputPricePerM: 2.50, OutputPricePerM: 10.00}
	c.Pricing["anthropic/claude-3-5-haiku"] = selector.ModelPricing{InputPricePerM: 0.80, OutputPricePerM: 4.00}
	c.Pricing["anthropic/claude-3-5-sonnet"] = selector.ModelPricing{InputPricePerM: 3.00, OutputPricePerM: 15.00}
	c.Pricing["vllm/llama-3.1-8b-instruct"] = selector.ModelPricing{InputPricePerM: 0.05, OutputPricePerM: 0.05}

	c.ContextWindow["openai/gpt-4o-mini"] = 128000
	c.ContextWindow["openai/gpt-4o"] = 128000
	c.ContextWindow["anthropic/claude-3-5-haiku"] = 200000
	c.ContextWindow["anthropic/claude-3-5-sonnet"] = 200000
	c.ContextWindow["vllm/llama-3.1-8b-instruct"] = 131072

	c.Baseline = "anthropic/claude-3-5-sonnet"

	return c
}

// applyCatalogConfig overlays a persisted CatalogConfig onto a base Catalog.
// An empty CatalogConfig (no tier configs, no pricing, no baseline) leaves
// base untouched, so a fresh database defers entirely to defaultCatalog.
func applyCatalogConfig(base *selector.Catalog, rec store.CatalogConfig) error {
	for _, tc := range rec.TierConfigs {
		t, ok := tier.ParseTier(tc.Tier)
		if !ok {
			return fmt.Errorf("app: unknown tier %q in persisted catalog config", tc.Tier)
		}
		set, err := tierSetByProfile(base, tc.Profile)
		if err != nil {
			return err
		}
		fallback := make([]selector.ModelID, 0, len(tc.Fallback))
		for _, f := range tc.Fallback {
			fallback = append(fallback, selector.ModelID(f))
		}
		set[t] = selector.TierConfig{Primary: selector.ModelID(tc.Primary), Fallback: fallback}
	}

	for _, p := range rec.Pricing {
		base.Pricing[selector.ModelID(p.ModelID)] = selector.ModelPricing{
			InputPricePerM:  p.InputPricePerM,
			OutputPricePerM: p.OutputPricePerM,
		}
		if p.ContextWindow > 0 {
			base.ContextWindow[selector.ModelID(p.ModelID)] = p.ContextWindow
		}
	}

	if rec.Baseline != "" {
		base.Baseline = selector.ModelID(rec.Baseline)
	}

	return nil
}

func tierSetByProfile(c *selector.Catalog, profile string) (selector.TierSet, error) {
	switch profile {
	case "default":
		return c.Default, nil
	case "eco":
		return c.Eco, nil
	case "premium":
		return c.Premium, nil
	case "agentic":
		return c.Agentic, nil
	default:
		return nil, fmt.Errorf("app: unknown routing profile %q in persisted catalog config", profile)
	}
}

// catalogToConfig is the inverse of applyCatalogConfig: it converts the
// in-memory catalog into the store's persisted form. Nothing in the module
// calls it.
func catalogToConfig(c *selector.Catalog) store.CatalogConfig {
	var rec store.CatalogConfig
	rec.Baseline = string(c.Baseline)

	appendSet := func(profile string, set selector.TierSet) {
		for t, tc := range set {
			fallback := make([]string, 0, len(tc.Fallback))
			for _, f := range tc.Fallback {
				fallback = append(fallback, string(f))
			}
			rec.TierConfigs = append(rec.TierConfigs, store.TierConfigRecord{
				Profile:  profile,
				Tier:     t.String(),
				Primary:  string(tc.Primary),
				Fallback: fallback,
			})
		}
	}
	appendSet("default", c.Default)
	appendSet("eco", c.Eco)
	appendSet("premium", c.Premium)
	appendSet("agentic", c.Agentic)

	for id, p := range c.Pricing {
		rec.Pricing = append(rec.Pricing, store.ModelPricingRecord{
			ModelID:         string(id),
			InputPricePerM:  p.InputPricePerM,
			OutputPricePerM: p.OutputPricePerM,
			ContextWindow:   c.ContextWindow[id],
		})
	}

	return rec
}

// scoringConfigFromRecord decodes a persisted ScoringConfigRecord into the
// scorer/classifier's live config types, falling back to defaults for any
// field left as an empty JSON blob (fresh database).
func scoringConfigFromRecord(rec store.ScoringConfigRecord) (scorer.ScoringConfig, tier.Overrides, error) {
	cfg := scorer.DefaultScoringConfig()
	overrides := tier.DefaultOverrides()

	if rec.WeightsJSON != "" {
		if err := json.Unmarshal([]byte(rec.WeightsJSON), &cfg.Weights); err != nil {
			return cfg, overrides, fmt.Errorf("app: decode persisted scoring weights: %w", err)
		}
	}
	if rec.BoundariesJSON != "" {
		if err := json.Unmarshal([]byte(rec.BoundariesJSON), &cfg.Boundaries); err != nil {
			return cfg, overrides, fmt.Errorf("app: decode persisted tier boundaries: %w", err)
		}
	}
	if rec.OverridesJSON != "" {
		if err := json.Unmarshal([]byte(rec.OverridesJSON), &overrides); err != nil {
			return cfg, overrides, fmt.Errorf("app: decode persisted classifier overrides: %w", err)
		}
	}

	return cfg, overrides, nil
}

// scoringConfigToRecord is the inverse of scoringConfigFromRecord.
func scoringConfigToRecord(cfg scorer.ScoringConfig, overrides tier.Overrides) (store.ScoringConfigRecord, error) {
	weights, err := json.Marshal(cfg.Weights)
	if err != nil {
		return store.ScoringConfigRecord{}, err
	}
	boundaries, err := json.Marshal(cfg.Boundaries)
	if err != nil {
		return store.ScoringConfigRecord{}, err
	}
	overridesJSON, err := json.Marshal(overrides)
	if err != nil {
		return store.ScoringConfigRecord{}, err
	}
	return store.ScoringConfigRecord{
		WeightsJSON:    string(weights),
		BoundariesJSON: string(boundaries),
		OverridesJSON:  string(overridesJSON),
	}, nil
}
