// Package condition decides whether a step's condition holds against the
// verification verdicts accumulated so far in a run.
package condition

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// Results is the view of a run's verification verdicts the evaluator needs.
type Results interface {
	// Verdicts returns every stored verdict keyed by "{kind}" or "{kind}_{person}".
	Verdicts() map[string]bool
	// LastVerification returns the most recently recorded verdict.
	LastVerification() (models.VerificationResult, bool)
}

// Logger is the logging surface used by the evaluator.
type Logger interface {
	Warn(msg string, args ...any)
}

// Verdict explains an evaluation. Recognized is false when no rule matched
// and the condition passed by default.
type Verdict struct {
	Satisfied  bool     `json:"satisfied"`
	Recognized bool     `json:"recognized"`
	Rules      []string `json:"rules,omitempty"`
}

type matchRule struct {
	name    string
	matches func(text string) bool
	holds   func(r Results) bool
}

var (
	kycRe      = regexp.MustCompile(`\bkyc\b`)
	locationRe = regexp.MustCompile(`\blocation\b`)
	aiRe       = regexp.MustCompile(`\bai\b|\bai[- ]content\b`)
	verifiedRe = regexp.MustCompile(`\bverified\b`)
	compliance = regexp.MustCompile(`\b(?:compliant|verified)\b`)
)

var rules = []matchRule{
	{
		name:    "kyc",
		matches: func(t string) bool { return kycRe.MatchString(t) && compliance.MatchString(t) },
		holds:   anyKeyTrue(models.ProofKindKYC),
	},
	{
		name:    "location",
		matches: func(t string) bool { return locationRe.MatchString(t) && verifiedRe.MatchString(t) },
		holds:   anyKeyTrue(models.ProofKindLocation),
	},
	{
		name:    "ai_content",
		matches: func(t string) bool { return aiRe.MatchString(t) && verifiedRe.MatchString(t) },
		holds:   anyKeyTrue(models.ProofKindAIContent),
	},
}

var lastRule = matchRule{
	name:    "last_verification",
	matches: verifiedRe.MatchString,
	holds: func(r Results) bool {
		last, ok := r.LastVerification()
		return ok && last.Valid
	},
}

// anyKeyTrue holds when any verdict of the kind, for any party, is true. A
// pass for one party satisfies a condition naming another; callers needing
// party scoping check the step's required proofs.
func anyKeyTrue(kind models.ProofKind) func(Results) bool {
	prefix := string(kind) + "_"
	return func(r Results) bool {
		for key, valid := range r.Verdicts() {
			if valid && (key == string(kind) || strings.HasPrefix(key, prefix)) {
				return true
			}
		}
		return false
	}
}

// Evaluator applies the condition rules. Conditions no rule recognizes are
// satisfied; every such pass is logged and counted.
type Evaluator struct {
	logger       Logger
	unrecognized metric.Int64Counter
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithMeter records the unrecognized-condition counter on meter.
func WithMeter(meter metric.Meter) Option {
	return func(e *Evaluator) {
		if c, err := meter.Int64Counter("workflow.condition.unrecognized",
			metric.WithDescription("Conditions that matched no rule and passed by default")); err == nil {
			e.unrecognized = c
		}
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger Logger, opts ...Option) *Evaluator {
	e := &Evaluator{logger: logger}
	WithMeter(otel.Meter("github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/condition"))(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Satisfied reports whether text holds against results.
func (e *Evaluator) Satisfied(ctx context.Context, text string, results Results) bool {
	return e.Evaluate(ctx, text, results).Satisfied
}

// Evaluate checks text against results. Every matching kind rule must hold.
// A text naming no kind but saying "verified" checks the latest verdict.
func (e *Evaluator) Evaluate(ctx context.Context, text string, results Results) Verdict {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Verdict{Satisfied: true, Recognized: true}
	}

	var matched []matchRule
	for _, r := range rules {
		if r.matches(t) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 && lastRule.matches(t) {
		matched = append(matched, lastRule)
	}

	if len(matched) == 0 {
		if e.logger != nil {
			e.logger.Warn("condition matched no rule, treating as satisfied", "condition", text)
		}
		if e.unrecognized != nil {
			e.unrecognized.Add(ctx, 1, metric.WithAttributes(attribute.String("condition", t)))
		}
		return Verdict{Satisfied: true}
	}

	v := Verdict{Satisfied: true, Recognized: true}
	for _, r := range matched {
		v.Rules = append(v.Rules, r.name)
		if !r.holds(results) {
			v.Satisfied = false
		}
	}
	return v
}
