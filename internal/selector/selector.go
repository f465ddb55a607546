// Package selector maps a (tier, profile, agentic) triple onto a concrete
// model and an ordered fallback chain, and computes the cost/savings
// estimate attached to every routing decision. It is the direct descendant
// of models.Registry's weight-minus-cost scoring idea, generalized to work
// off an operator-configured tier table instead of a single best-model pick.
package selector

import (
	"fmt"

	"github.com/blockrun/blockrunproxy/internal/tier"
)

// ModelID is an opaque "provider/model-name" identifier.
type ModelID string

// Provider extracts the provider segment of a ModelID ("openai/gpt-4o" -> "openai").
func (m ModelID) Provider() string {
	for i := 0; i < len(m); i++ {
		if m[i] == '/' {
			return string(m[:i])
		}
	}
	return string(m)
}

// ModelPricing is $/M-token pricing for a model.
type ModelPricing struct {
	InputPricePerM  float64
	OutputPricePerM float64
}

// TierConfig names the primary model for a tier plus an ordered fallback list.
type TierConfig struct {
	Primary  ModelID
	Fallback []ModelID
}

// Chain returns the full ordered attempt list: primary followed by fallbacks.
func (c TierConfig) Chain() []ModelID {
	chain := make([]ModelID, 0, 1+len(c.Fallback))
	chain = append(chain, c.Primary)
	chain = append(chain, c.Fallback...)
	return chain
}

// TierSet maps each tier to its TierConfig for one routing profile.
type TierSet map[tier.Tier]TierConfig

// Catalog holds the per-profile tier tables, the model pricing table, the
// optional context-window oracle, and the baseline (premium reference)
// model used as the savings denominator.
type Catalog struct {
	Default  TierSet
	Eco      TierSet
	Premium  TierSet
	Agentic  TierSet // optional; zero value means "not configured"

	Pricing       map[ModelID]ModelPricing
	ContextWindow map[ModelID]int // known context window in tokens; absent = unknown

	Baseline ModelID
}

// NewCatalog returns an empty Catalog ready to be populated by the store.
func NewCatalog() *Catalog {
	return &Catalog{
		Default:       make(TierSet),
		Eco:           make(TierSet),
		Premium:       make(TierSet),
		Agentic:       make(TierSet),
		Pricing:       make(map[ModelID]ModelPricing),
		ContextWindow: make(map[ModelID]int),
	}
}

func (c *Catalog) pricing(m ModelID) ModelPricing {
	return c.Pricing[m] // zero value is {0,0} when absent, matching the spec's "missing pricing defaults to 0" rule
}

// RoutingDecision is the selector's output for a single request.
type RoutingDecision struct {
	Model        ModelID
	Tier         tier.Tier
	Confidence   float64
	Method       string // "rules" or "llm-fallback"
	Reasoning    string
	CostEstimate float64
	BaselineCost float64
	Savings      float64

	// Chain is the full ordered list of models the dispatcher should try,
	// health-reordered and context-filtered, with Model as its head.
	Chain []ModelID
}

// HealthChecker reports whether a provider is currently accepting traffic.
// Satisfied by *health.Tracker.
type HealthChecker interface {
	IsAvailable(providerID string) bool
}

// Selector resolves routing decisions against a Catalog.
type Selector struct {
	catalog *Catalog
	health  HealthChecker
}

// New returns a Selector. health may be nil, in which case no health-based
// reordering is applied (every model is treated as available).
func New(catalog *Catalog, healthChecker HealthChecker) *Selector {
	return &Selector{catalog: catalog, health: healthChecker}
}

// Select implements spec §4.C: profile-set selection, fallback chain
// construction, context-window filtering, health-aware reordering, and
// cost/savings computation.
func (s *Selector) Select(t tier.Tier, profile tier.RoutingProfile, agentic bool, confidence float64, estimatedInputTokens, maxOutputTokens int) (RoutingDecision, error) {
	set := s.tierSetFor(profile, agentic)
	cfg, ok := set[t]
	if !ok {
		return RoutingDecision{}, fmt.Errorf("selector: no tier config for tier %s in the selected profile set", t.String())
	}

	chain := cfg.Chain()
	estimatedTotal := estimatedInputTokens + maxOutputTokens

	filtered := s.filterByContextWindow(chain, estimatedTotal)
	if len(filtered) == 0 {
		// Better an API error from an overflowing model than no attempt at all.
		filtered = chain
	}

	ordered := s.reorderByHealth(filtered)

	head := ordered[0]
	cost := s.estimateCost(head, estimatedInputTokens, maxOutputTokens)
	baselineCost := s.estimateCost(s.catalog.Baseline, estimatedInputTokens, maxOutputTokens)

	savings := 0.0
	if profile != tier.Premium && baselineCost > 0 {
		diff := baselineCost - cost
		if diff > 0 {
			savings = diff / baselineCost
		}
	}

	reasoning := fmt.Sprintf("tier=%s profile=%s agentic=%v chain=%v", t.String(), profile.String(), agentic, ordered)

	return RoutingDecision{
		Model:        head,
		Tier:         t,
		Confidence:   confidence,
		Method:       "rules",
		Reasoning:    reasoning,
		CostEstimate: cost,
		BaselineCost: baselineCost,
		Savings:      savings,
		Chain:        ordered,
	}, nil
}

// KnownModel reports whether m appears anywhere in the catalog: in its
// pricing table, its context-window table, as the baseline, or in any
// profile's tier chains. Used to reject an explicit, provider-qualified
// model id the catalog has no knowledge of before it reaches the fallback
// loop.
func (s *Selector) KnownModel(m ModelID) bool {
	if m == "" {
		return false
	}
	if _, ok := s.catalog.Pricing[m]; ok {
		return true
	}
	if _, ok := s.catalog.ContextWindow[m]; ok {
		return true
	}
	if m == s.catalog.Baseline {
		return true
	}
	for _, set := range []TierSet{s.catalog.Default, s.catalog.Eco, s.catalog.Premium, s.catalog.Agentic} {
		for _, cfg := range set {
			for _, candidate := range cfg.Chain() {
				if candidate == m {
					return true
				}
			}
		}
	}
	return false
}

func (s *Selector) tierSetFor(profile tier.RoutingProfile, agentic bool) TierSet {
	if agentic && len(s.catalog.Agentic) > 0 {
		return s.catalog.Agentic
	}
	switch profile {
	case tier.Eco:
		return s.catalog.Eco
	case tier.Premium:
		return s.catalog.Premium
	default:
		return s.catalog.Default
	}
}

// filterByContextWindow drops models whose known window is below
// estimatedTotal * 1.1. Models with no known window pass the filter, since
// absence of the oracle's opinion is not evidence of overflow.
func (s *Selector) filterByContextWindow(chain []ModelID, estimatedTotal int) []ModelID {
	threshold := float64(estimatedTotal) * 1.1
	out := make([]ModelID, 0, len(chain))
	for _, m := range chain {
		if window, ok := s.catalog.ContextWindow[m]; ok && float64(window) < threshold {
			continue
		}
		out = append(out, m)
	}
	return out
}

// reorderByHealth moves models whose provider is currently down to the end
// of the chain, preserving relative order otherwise. It never removes a
// model, only reorders.
func (s *Selector) reorderByHealth(chain []ModelID) []ModelID {
	if s.health == nil {
		return chain
	}
	available := make([]ModelID, 0, len(chain))
	unavailable := make([]ModelID, 0, len(chain))
	for _, m := range chain {
		if s.health.IsAvailable(m.Provider()) {
			available = append(available, m)
		} else {
			unavailable = append(unavailable, m)
		}
	}
	return append(available, unavailable...)
}

func (s *Selector) estimateCost(model ModelID, inputTokens, outputTokens int) float64 {
	if model == "" {
		return 0
	}
	p := s.catalog.pricing(model)
	return float64(inputTokens)*p.InputPricePerM/1e6 + float64(outputTokens)*p.OutputPricePerM/1e6
}
