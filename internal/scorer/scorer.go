// Package scorer computes a weighted complexity score for an incoming chat
// request and maps it onto the tier ladder. All pattern matching is done
// with regexes compiled once at construction, following the same
// compile-on-New, match-on-call shape the router engine used for its
// formatting rules.
package scorer

import (
	"regexp"
	"strings"

	"github.com/blockrun/blockrunproxy/internal/tier"
)

// Dimension weights. Each dimension contributes a bounded amount to the
// overall score; the defaults below were chosen so that a single strong
// signal (e.g. a code fence plus a "step by step" reasoning marker) can
// push a request from SIMPLE into COMPLEX, but no single weak signal
// dominates the total.
type Weights struct {
	CodeFence          float64
	ReasoningMarker     float64
	AgenticMarker       float64
	StructuredOutput    float64
	LengthProxy         float64
	MultiStepList       float64
	QuestionDensity     float64
	NegativeGreeting    float64
	ToolCallPresence    float64
	MathNotation        float64
	QuotedBlock         float64
	ConditionalLogic    float64
	ComparisonRequest   float64
	CitationRequest     float64
	AmbiguityPenalty    float64
}

// DefaultWeights mirrors the relative emphasis a hand-tuned heuristic
// classifier tends to converge on: code and reasoning markers dominate,
// cosmetic signals (greetings, question density) barely move the needle.
func DefaultWeights() Weights {
	return Weights{
		CodeFence:        3.0,
		ReasoningMarker:  2.5,
		AgenticMarker:    2.0,
		StructuredOutput: 1.5,
		LengthProxy:      2.0,
		MultiStepList:    1.5,
		QuestionDensity:  0.5,
		NegativeGreeting: -2.0,
		ToolCallPresence: 2.0,
		MathNotation:     1.5,
		QuotedBlock:      0.5,
		ConditionalLogic: 1.0,
		ComparisonRequest: 1.0,
		CitationRequest:  1.0,
		AmbiguityPenalty: 0.0,
	}
}

// agenticMatchCap and questionCountCap bound the otherwise-unbounded
// regex-match counts so both they and the overall score can be normalized
// onto [0,1]. lengthProxyCapMultiplier mirrors the existing length-contribution
// cap in Score.
const (
	agenticMatchCap          = 5
	questionCountCap         = 5
	lengthProxyCapMultiplier = 4.0
)

// TierBoundaries are the score thresholds, on the [0,1] scale Score.Value is
// normalized to, separating adjacent tiers.
type TierBoundaries struct {
	SimpleMedium     float64
	MediumComplex    float64
	ComplexReasoning float64
}

// DefaultTierBoundaries rescales the original hand-tuned raw-score
// boundaries (2/5/9, set against DefaultWeights' ~26-point maximum) onto
// the [0,1] scale, preserving the same tier assignment for any given
// combination of signals.
func DefaultTierBoundaries() TierBoundaries {
	m := maxPossibleScore(DefaultWeights())
	return TierBoundaries{
		SimpleMedium:     2.0 / m,
		MediumComplex:    5.0 / m,
		ComplexReasoning: 9.0 / m,
	}
}

// maxPossibleScore is the highest raw weighted total Score can produce for
// the given weights: the sum of every dimension's maximum contribution,
// with QuestionDensity and LengthProxy capped the same way Score caps them.
// Dimensions with non-positive weight (e.g. a disabled or penalty-only
// weight) contribute nothing, since they can only ever lower the total.
func maxPossibleScore(w Weights) float64 {
	positive := func(x float64) float64 {
		if x > 0 {
			return x
		}
		return 0
	}
	total := positive(w.CodeFence) +
		positive(w.ReasoningMarker) +
		positive(w.AgenticMarker) +
		positive(w.StructuredOutput) +
		positive(w.MultiStepList) +
		positive(w.MathNotation) +
		positive(w.QuotedBlock) +
		positive(w.ConditionalLogic) +
		positive(w.ComparisonRequest) +
		positive(w.CitationRequest) +
		positive(w.QuestionDensity)*questionCountCap +
		positive(w.LengthProxy)*lengthProxyCapMultiplier
	if total <= 0 {
		return 1
	}
	return total
}

// ScoringConfig configures a Scorer.
type ScoringConfig struct {
	Weights          Weights
	Boundaries       TierBoundaries
	AgenticThreshold float64

	// AmbiguityEpsilon is the half-width, in absolute terms on the [0,1]
	// score scale, of the neutral zone straddling a tier boundary. A score
	// landing within epsilon of a boundary yields no tier (nil) so the
	// classifier can apply its own default.
	AmbiguityEpsilon float64
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:          DefaultWeights(),
		Boundaries:       DefaultTierBoundaries(),
		AgenticThreshold: 0.4,
		AmbiguityEpsilon: 0.03,
	}
}

// Signals records which dimensions fired, for observability and debugging.
type Signals struct {
	CodeFence        bool
	ReasoningMarker  bool
	AgenticMarker    bool
	StructuredOutput bool
	MultiStepList    bool
	ToolCallPresence bool
	MathNotation     bool
	QuotedBlock      bool
	ConditionalLogic bool
	ComparisonRequest bool
	CitationRequest  bool
	NegativeGreeting bool
	QuestionCount    int
	EstimatedLength  int
}

// Score is the scorer's output for a single request. Value and
// AgenticScore are both normalized to [0,1].
type Score struct {
	Value        float64
	AgenticScore float64
	Signals      Signals
	// Tier is nil when the score falls inside the ambiguity band around a
	// boundary; the classifier supplies a default in that case.
	Tier       *tier.Tier
	Confidence float64
}

// Scorer evaluates prompts against a fixed set of compiled regex-backed
// dimensions.
type Scorer struct {
	cfg      ScoringConfig
	maxScore float64 // denominator normalizing the raw weighted total onto [0,1]

	codeFenceRe     *regexp.Regexp
	reasoningRe     *regexp.Regexp
	agenticRe       *regexp.Regexp
	structuredRe    *regexp.Regexp
	multiStepRe     *regexp.Regexp
	mathRe          *regexp.Regexp
	quotedRe        *regexp.Regexp
	conditionalRe   *regexp.Regexp
	comparisonRe    *regexp.Regexp
	citationRe      *regexp.Regexp
	greetingRe      *regexp.Regexp
	questionRe      *regexp.Regexp
}

// NewScorer compiles the regex tables and returns a ready-to-use Scorer.
func NewScorer(cfg ScoringConfig) *Scorer {
	return &Scorer{
		cfg:           cfg,
		maxScore:      maxPossibleScore(cfg.Weights),
		codeFenceRe:   regexp.MustCompile("```"),
		reasoningRe:   regexp.MustCompile(`(?i)\b(prove|derive|step[- ]by[- ]step|reason(ing)?|explain why|walk me through|first principles)\b`),
		agenticRe:     regexp.MustCompile(`(?i)\b(analyze|research|investigate|plan|then|after that|execute|automate|orchestrate)\b`),
		structuredRe:  regexp.MustCompile(`(?i)\b(json|schema|yaml|xml|structured output)\b`),
		multiStepRe:   regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+`),
		mathRe:        regexp.MustCompile(`[=∑∫√±][^a-zA-Z]|\\[a-zA-Z]+\{`),
		quotedRe:      regexp.MustCompile("(?s)```.*?```|\"[^\"]{40,}\""),
		conditionalRe: regexp.MustCompile(`(?i)\b(if|unless|otherwise|depending on)\b`),
		comparisonRe:  regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|difference between|pros and cons)\b`),
		citationRe:    regexp.MustCompile(`(?i)\b(cite|citation|reference|according to|source)\b`),
		greetingRe:    regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you)\b`),
		questionRe:    regexp.MustCompile(`\?`),
	}
}

// Score evaluates a prompt (the latest user turn) plus an optional system
// prompt, returning a weighted complexity score and the derived tier.
func (s *Scorer) Score(prompt, system string, estimatedTokens int) Score {
	text := prompt + "\n" + system
	w := s.cfg.Weights

	var sig Signals
	var total float64

	if s.codeFenceRe.MatchString(text) {
		sig.CodeFence = true
		total += w.CodeFence
	}
	if s.reasoningRe.MatchString(text) {
		sig.ReasoningMarker = true
		total += w.ReasoningMarker
	}
	var agenticScore float64
	if matches := s.agenticRe.FindAllString(text, -1); len(matches) > 0 {
		sig.AgenticMarker = true
		hits := len(matches)
		if hits > agenticMatchCap {
			hits = agenticMatchCap
		}
		agenticScore = float64(hits) / agenticMatchCap
		total += w.AgenticMarker
	}
	if s.structuredRe.MatchString(text) {
		sig.StructuredOutput = true
		total += w.StructuredOutput
	}
	if s.multiStepRe.MatchString(text) {
		sig.MultiStepList = true
		total += w.MultiStepList
	}
	if s.mathRe.MatchString(text) {
		sig.MathNotation = true
		total += w.MathNotation
	}
	if s.quotedRe.MatchString(text) {
		sig.QuotedBlock = true
		total += w.QuotedBlock
	}
	if s.conditionalRe.MatchString(text) {
		sig.ConditionalLogic = true
		total += w.ConditionalLogic
	}
	if s.comparisonRe.MatchString(text) {
		sig.ComparisonRequest = true
		total += w.ComparisonRequest
	}
	if s.citationRe.MatchString(text) {
		sig.CitationRequest = true
		total += w.CitationRequest
	}
	if s.greetingRe.MatchString(strings.TrimSpace(prompt)) && len(prompt) < 80 {
		sig.NegativeGreeting = true
		total += w.NegativeGreeting
	}
	sig.QuestionCount = len(s.questionRe.FindAllString(text, -1))
	questionHits := sig.QuestionCount
	if questionHits > questionCountCap {
		questionHits = questionCountCap
	}
	total += float64(questionHits) * w.QuestionDensity

	sig.EstimatedLength = estimatedTokens
	// Length proxy: every 500 estimated tokens beyond the first 200 nudges
	// the score up, capped so runaway prompts don't dominate.
	if over := estimatedTokens - 200; over > 0 {
		lengthContribution := float64(over) / 500.0 * w.LengthProxy
		if capped := lengthProxyCapMultiplier * w.LengthProxy; lengthContribution > capped {
			lengthContribution = capped
		}
		total += lengthContribution
	}

	if total < 0 {
		total = 0
	}

	normalized := total / s.maxScore
	if normalized > 1 {
		normalized = 1
	}

	t, confidence := s.tierFor(normalized)

	return Score{
		Value:        normalized,
		AgenticScore: agenticScore,
		Signals:      sig,
		Tier:         t,
		Confidence:   confidence,
	}
}

// tierFor maps a score onto the tier ladder, returning (nil, 0.5) when the
// score falls within AmbiguityEpsilon of a boundary.
func (s *Scorer) tierFor(score float64) (*tier.Tier, float64) {
	b := s.cfg.Boundaries
	eps := s.cfg.AmbiguityEpsilon

	near := func(boundary float64) bool {
		diff := score - boundary
		if diff < 0 {
			diff = -diff
		}
		return diff < eps
	}

	switch {
	case near(b.SimpleMedium) || near(b.MediumComplex) || near(b.ComplexReasoning):
		return nil, 0.5
	case score < b.SimpleMedium:
		t := tier.Simple
		return &t, confidenceFor(score, 0, b.SimpleMedium)
	case score < b.MediumComplex:
		t := tier.Medium
		return &t, confidenceFor(score, b.SimpleMedium, b.MediumComplex)
	case score < b.ComplexReasoning:
		t := tier.Complex
		return &t, confidenceFor(score, b.MediumComplex, b.ComplexReasoning)
	default:
		t := tier.Reasoning
		return &t, 0.9
	}
}

// confidenceFor returns a higher confidence the further score sits from
// either edge of [low, high).
func confidenceFor(score, low, high float64) float64 {
	span := high - low
	if span <= 0 {
		return 0.7
	}
	dist := score - low
	if toHigh := high - score; toHigh < dist {
		dist = toHigh
	}
	if dist < 0 {
		dist = 0
	}
	conf := 0.6 + (dist/(span/2))*0.35
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// IsAgentic reports whether the request's agentic score clears the
// configured threshold.
func (s *Scorer) IsAgentic(sc Score) bool {
	return sc.AgenticScore >= s.cfg.AgenticThreshold
}
