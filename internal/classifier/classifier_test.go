package classifier

import (
	"testing"

	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/tier"
)

func TestClassifyForcedComplexOnLongPrompt(t *testing.T) {
	c := New(tier.DefaultOverrides())
	simple := tier.Simple
	d := c.Classify(scorer.Score{Tier: &simple, Confidence: 0.9}, 20000)

	if d.Tier != tier.Complex {
		t.Errorf("expected forced COMPLEX, got %s", d.Tier.String())
	}
	if d.Confidence != 0.95 {
		t.Errorf("expected 0.95 confidence, got %f", d.Confidence)
	}
}

func TestClassifyUsesScorerTier(t *testing.T) {
	c := New(tier.DefaultOverrides())
	reasoning := tier.Reasoning
	d := c.Classify(scorer.Score{Tier: &reasoning, Confidence: 0.8}, 500)

	if d.Tier != tier.Reasoning {
		t.Errorf("expected REASONING, got %s", d.Tier.String())
	}
	if d.Confidence != 0.8 {
		t.Errorf("expected scorer confidence passthrough, got %f", d.Confidence)
	}
}

func TestClassifyAmbiguousDefault(t *testing.T) {
	overrides := tier.DefaultOverrides()
	overrides.AmbiguousDefaultTier = tier.Medium
	c := New(overrides)

	d := c.Classify(scorer.Score{Tier: nil}, 100)

	if d.Tier != tier.Medium {
		t.Errorf("expected ambiguous default MEDIUM, got %s", d.Tier.String())
	}
	if d.Confidence != 0.5 {
		t.Errorf("expected 0.5 confidence for ambiguous default, got %f", d.Confidence)
	}
}

func TestClassifyStructuredOutputFloor(t *testing.T) {
	overrides := tier.DefaultOverrides()
	overrides.StructuredOutputMinTier = tier.Complex
	c := New(overrides)

	simple := tier.Simple
	d := c.Classify(scorer.Score{
		Tier:       &simple,
		Confidence: 0.9,
		Signals:    scorer.Signals{StructuredOutput: true},
	}, 50)

	if d.Tier != tier.Complex {
		t.Errorf("expected structured-output floor to raise tier to COMPLEX, got %s", d.Tier.String())
	}
}

func TestClassifyStructuredOutputDoesNotLowerTier(t *testing.T) {
	overrides := tier.DefaultOverrides()
	overrides.StructuredOutputMinTier = tier.Medium
	c := New(overrides)

	reasoning := tier.Reasoning
	d := c.Classify(scorer.Score{
		Tier:       &reasoning,
		Confidence: 0.9,
		Signals:    scorer.Signals{StructuredOutput: true},
	}, 50)

	if d.Tier != tier.Reasoning {
		t.Errorf("structured-output floor should never lower an already-higher tier, got %s", d.Tier.String())
	}
}
