package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestCatalogConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := CatalogConfig{
		TierConfigs: []TierConfigRecord{
			{Profile: "default", Tier: "simple", Primary: "openai/gpt-4o-mini", Fallback: []string{"anthropic/claude-haiku"}},
			{Profile: "default", Tier: "complex", Primary: "anthropic/claude-sonnet", Fallback: []string{"openai/gpt-4o"}},
			{Profile: "eco", Tier: "simple", Primary: "vllm/llama-3-8b", Fallback: []string{}},
		},
		Pricing: []ModelPricingRecord{
			{ModelID: "openai/gpt-4o-mini", InputPricePerM: 0.15, OutputPricePerM: 0.6, ContextWindow: 128000},
			{ModelID: "anthropic/claude-sonnet", InputPricePerM: 3.0, OutputPricePerM: 15.0, ContextWindow: 200000},
		},
		Baseline: "anthropic/claude-opus",
	}

	if err := s.SaveCatalogConfig(ctx, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.LoadCatalogConfig(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Baseline != cfg.Baseline {
		t.Errorf("baseline = %q, want %q", got.Baseline, cfg.Baseline)
	}
	if len(got.TierConfigs) != len(cfg.TierConfigs) {
		t.Fatalf("got %d tier configs, want %d", len(got.TierConfigs), len(cfg.TierConfigs))
	}
	if len(got.Pricing) != len(cfg.Pricing) {
		t.Fatalf("got %d pricing rows, want %d", len(got.Pricing), len(cfg.Pricing))
	}

	var complexRec *TierConfigRecord
	for i := range got.TierConfigs {
		if got.TierConfigs[i].Profile == "default" && got.TierConfigs[i].Tier == "complex" {
			complexRec = &got.TierConfigs[i]
		}
	}
	if complexRec == nil {
		t.Fatal("expected a default/complex tier config")
	}
	if complexRec.Primary != "anthropic/claude-sonnet" {
		t.Errorf("primary = %q, want anthropic/claude-sonnet", complexRec.Primary)
	}
	if len(complexRec.Fallback) != 1 || complexRec.Fallback[0] != "openai/gpt-4o" {
		t.Errorf("unexpected fallback list: %v", complexRec.Fallback)
	}
}

func TestSaveCatalogConfigReplacesPriorContents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := CatalogConfig{
		TierConfigs: []TierConfigRecord{{Profile: "default", Tier: "simple", Primary: "a/model-1", Fallback: nil}},
		Baseline:    "a/model-1",
	}
	if err := s.SaveCatalogConfig(ctx, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second := CatalogConfig{
		TierConfigs: []TierConfigRecord{{Profile: "default", Tier: "complex", Primary: "b/model-2", Fallback: nil}},
		Baseline:    "b/model-2",
	}
	if err := s.SaveCatalogConfig(ctx, second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := s.LoadCatalogConfig(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got.TierConfigs) != 1 {
		t.Fatalf("expected the second save to fully replace the first, got %d rows", len(got.TierConfigs))
	}
	if got.TierConfigs[0].Primary != "b/model-2" {
		t.Errorf("primary = %q, want b/model-2", got.TierConfigs[0].Primary)
	}
}

func TestScoringConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadScoringConfig(ctx)
	if err != nil {
		t.Fatalf("load on empty store failed: %v", err)
	}
	if empty.WeightsJSON != "{}" {
		t.Errorf("expected default empty weights JSON, got %q", empty.WeightsJSON)
	}

	rec := ScoringConfigRecord{
		WeightsJSON:    `{"codeFence":1.5,"reasoningMarker":2.0}`,
		BoundariesJSON: `{"simpleMedium":2.0,"mediumComplex":5.0,"complexReasoning":9.0}`,
		OverridesJSON:  `{"maxTokensForceComplex":12000}`,
	}
	if err := s.SaveScoringConfig(ctx, rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.LoadScoringConfig(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	// Saving again upserts rather than duplicating the single row.
	rec.WeightsJSON = `{"codeFence":2.0}`
	if err := s.SaveScoringConfig(ctx, rec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	got, _ = s.LoadScoringConfig(ctx)
	if got.WeightsJSON != rec.WeightsJSON {
		t.Errorf("expected upsert to overwrite weights_json, got %q", got.WeightsJSON)
	}
}
