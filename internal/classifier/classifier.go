// Package classifier turns a scorer.Score into a final tier.Tier decision,
// applying a fixed precedence of override rules on top of the raw score.
package classifier

import (
	"fmt"

	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/tier"
)

// Classifier holds the override knobs that bend classification away from
// the scorer's raw output for a given deployment.
type Classifier struct {
	overrides tier.Overrides
}

// New returns a Classifier using the given overrides.
func New(overrides tier.Overrides) *Classifier {
	return &Classifier{overrides: overrides}
}

// Decision is the classifier's output: the chosen tier, a confidence in
// [0,1], and a short human-readable reason for audit logging.
type Decision struct {
	Tier       tier.Tier
	Confidence float64
	Reasoning  string
}

// Classify applies the rule precedence:
//  1. estimatedTokens above MaxTokensForceComplex forces COMPLEX (0.95 confidence).
//  2. the scorer's own tier, when it produced one.
//  3. AmbiguousDefaultTier, when the scorer abstained (0.5 confidence).
// Then, regardless of path, a detected structured-output request raises the
// chosen tier to at least StructuredOutputMinTier.
func (c *Classifier) Classify(sc scorer.Score, estimatedTokens int) Decision {
	var d Decision

	switch {
	case c.overrides.MaxTokensForceComplex > 0 && estimatedTokens > c.overrides.MaxTokensForceComplex:
		d = Decision{
			Tier:       tier.Complex,
			Confidence: 0.95,
			Reasoning:  fmt.Sprintf("estimated token count %d exceeds force-complex threshold %d", estimatedTokens, c.overrides.MaxTokensForceComplex),
		}
	case sc.Tier != nil:
		d = Decision{
			Tier:       *sc.Tier,
			Confidence: sc.Confidence,
			Reasoning:  fmt.Sprintf("scorer value %.2f resolved to %s", sc.Value, sc.Tier.String()),
		}
	default:
		d = Decision{
			Tier:       c.overrides.AmbiguousDefaultTier,
			Confidence: 0.5,
			Reasoning:  fmt.Sprintf("scorer value %.2f fell inside ambiguity band, defaulting to %s", sc.Value, c.overrides.AmbiguousDefaultTier.String()),
		}
	}

	if sc.Signals.StructuredOutput && d.Tier < c.overrides.StructuredOutputMinTier {
		d.Tier = c.overrides.StructuredOutputMinTier
		d.Reasoning += fmt.Sprintf("; raised to %s floor for structured-output request", c.overrides.StructuredOutputMinTier.String())
	}

	return d
}
