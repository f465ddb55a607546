// Package tier defines the shared vocabulary used across the scorer,
// classifier, and selector: the complexity tier ladder, the routing
// profiles an operator can select, and the override knobs that let a
// deployment bend the default classification behavior.
package tier

// Tier is a complexity bucket assigned to an incoming request. Tiers are
// ordered: SIMPLE < MEDIUM < COMPLEX < REASONING.
type Tier int

const (
	Simple Tier = iota
	Medium
	Complex
	Reasoning
)

func (t Tier) String() string {
	switch t {
	case Simple:
		return "simple"
	case Medium:
		return "medium"
	case Complex:
		return "complex"
	case Reasoning:
		return "reasoning"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a Tier as its lowercase name rather than an integer,
// since tier names flow into routing-decision responses.
func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// ParseTier parses a lowercase tier name. ok is false for unrecognized input.
func ParseTier(s string) (t Tier, ok bool) {
	switch s {
	case "simple":
		return Simple, true
	case "medium":
		return Medium, true
	case "complex":
		return Complex, true
	case "reasoning":
		return Reasoning, true
	default:
		return Simple, false
	}
}

// RoutingProfile selects which TierConfig set a selector draws from.
type RoutingProfile int

const (
	Free RoutingProfile = iota
	Eco
	Auto
	Premium
)

func (p RoutingProfile) String() string {
	switch p {
	case Free:
		return "free"
	case Eco:
		return "eco"
	case Auto:
		return "auto"
	case Premium:
		return "premium"
	default:
		return "unknown"
	}
}

// ParseRoutingProfile parses one of the special "model" values a client can
// send in place of a concrete model ID ("auto", "free", "eco", "premium").
func ParseRoutingProfile(s string) (p RoutingProfile, ok bool) {
	switch s {
	case "free":
		return Free, true
	case "eco":
		return Eco, true
	case "auto":
		return Auto, true
	case "premium":
		return Premium, true
	default:
		return Auto, false
	}
}

// Overrides bends the classifier's default rule precedence for a deployment.
type Overrides struct {
	// MaxTokensForceComplex: requests whose estimated token count exceeds
	// this are force-classified COMPLEX regardless of scorer output.
	MaxTokensForceComplex int

	// StructuredOutputMinTier: when the scorer detects a structured-output
	// request (json/schema markers), the classified tier is raised to at
	// least this floor.
	StructuredOutputMinTier Tier

	// AmbiguousDefaultTier is used when the scorer returns no tier because
	// the score fell inside the ambiguity band around a boundary.
	AmbiguousDefaultTier Tier

	// AgenticMode, when true, routes through the TierSet's agentic tier
	// configs (when present) instead of the default set.
	AgenticMode bool
}

// DefaultOverrides returns the conservative defaults used when a deployment
// does not configure its own.
func DefaultOverrides() Overrides {
	return Overrides{
		MaxTokensForceComplex:   12000,
		StructuredOutputMinTier: Medium,
		AmbiguousDefaultTier:    Medium,
		AgenticMode:             false,
	}
}
