// Package parser compiles free-form workflow commands into ordered steps.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// Result is the compiled form of one command
type Result struct {
	Description    string        `json:"description"`
	Steps          []models.Step `json:"steps"`
	RequiresProofs bool          `json:"requires_proofs"`

	// Warnings lists steps that were built but cannot run as written.
	Warnings []string `json:"warnings,omitempty"`
}

// fragment is one sequence element, lower-cased, with any "if" clause
// separated from the body.
type fragment struct {
	text      string
	condition string
}

// rule classifies a fragment and builds its step. Rules are tried in table
// order and the first match wins.
type rule struct {
	name  string
	match func(f fragment) bool
	build func(f fragment) (models.Step, bool)
}

// Parser turns commands into steps. It holds no mutable state and is safe
// for concurrent use.
type Parser struct {
	rules []rule
}

// New creates a Parser with the default rule table.
func New() *Parser {
	return &Parser{rules: []rule{
		{name: "proof_generation", match: matchProofGeneration, build: buildProofGeneration},
		{name: "verification", match: matchVerification, build: buildVerification},
		{name: "transfer", match: matchTransfer, build: buildTransfer},
		{name: "wait", match: matchWait, build: buildWait},
	}}
}

// Parse compiles text into steps. Fragments that match no rule are dropped.
func (p *Parser) Parse(text string) Result {
	normalized := normalize(text)

	var steps []models.Step
	if isConditionalTransfer(normalized) {
		steps = p.parseConditional(normalized)
	} else {
		for _, f := range gate(split(normalized)) {
			if step, ok := p.classify(f); ok {
				steps = append(steps, step)
			}
		}
	}

	steps = resolveLastReferences(steps)
	steps = insertVerifications(steps)

	result := Result{Description: strings.TrimSpace(text), Steps: steps}
	for i := range result.Steps {
		result.Steps[i].ID = fmt.Sprintf("step_%d", i)
		switch result.Steps[i].Type {
		case models.StepTypeProofGeneration, models.StepTypeVerification:
			result.RequiresProofs = true
		case models.StepTypeTransfer:
			if t := result.Steps[i].Transfer; t != nil && t.Amount == "" {
				result.Warnings = append(result.Warnings, fmt.Sprintf("step_%d: transfer to %s names no amount", i, t.Recipient))
			}
		}
	}
	if result.Steps == nil {
		result.Steps = []models.Step{}
	}
	return result
}

func (p *Parser) classify(f fragment) (models.Step, bool) {
	for _, r := range p.rules {
		if r.match(f) {
			return r.build(f)
		}
	}
	return models.Step{}, false
}

func normalize(text string) string {
	t := strings.ToLower(text)
	t = strings.ReplaceAll(t, "’", "'")
	t = strings.Join(strings.Fields(t), " ")
	return strings.TrimRight(t, ".!? ")
}

func isConditionalTransfer(t string) bool {
	return ifRe.MatchString(t) && hasTransferCue(t) && !connectiveRe.MatchString(t)
}

// split cuts t at sequence connectives. Pieces with an "if" clause are cut
// only where another payment starts, the rest are further cut at list commas
// and at "and <verb>".
func split(t string) []fragment {
	var out []fragment
	for _, piece := range connectiveRe.Split(t, -1) {
		piece = trimPiece(piece)
		if piece == "" {
			continue
		}
		if ifRe.MatchString(piece) {
			out = append(out, conditionalFragments(piece)...)
			continue
		}
		for _, sub := range cutAt(piece, commaRe) {
			for _, item := range cutAt(sub, andVerbRe) {
				if item = trimPiece(item); item != "" {
					out = append(out, fragment{text: item})
				}
			}
		}
	}
	return out
}

// conditionalFragments cuts a piece holding "if" clauses into one fragment
// per payment, each with its own condition.
func conditionalFragments(piece string) []fragment {
	var out []fragment
	for _, seg := range cutAt(piece, transferSplitRe) {
		if seg = trimPiece(seg); seg != "" {
			out = append(out, newFragment(seg))
		}
	}
	return out
}

// gate hands the condition of a bare "if ..." fragment to the fragment
// after it.
func gate(fs []fragment) []fragment {
	var out []fragment
	pending := ""
	for _, f := range fs {
		if f.text == "" {
			pending = f.condition
			continue
		}
		if f.condition == "" {
			f.condition = pending
		}
		pending = ""
		out = append(out, f)
	}
	return out
}

// cutAt splits s at every match of re. The next piece starts at the first
// capture group, so the matched verb or word is kept.
func cutAt(s string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, s[start:loc[0]])
		start = loc[2]
	}
	return append(out, s[start:])
}

func trimPiece(s string) string {
	s = strings.Trim(s, " ,.")
	s = strings.TrimPrefix(s, "and ")
	return strings.TrimSpace(s)
}

// newFragment separates a piece into body and condition. Both trailing
// ("send 1 to bob if kyc verified") and leading ("if verified, send 1 to
// bob") forms are accepted.
func newFragment(piece string) fragment {
	loc := ifRe.FindStringIndex(piece)
	if loc == nil {
		return fragment{text: piece}
	}
	before := trimPiece(piece[:loc[0]])
	after := trimPiece(piece[loc[1]:])
	if before != "" {
		return fragment{text: before, condition: cleanCondition(after)}
	}
	if i := strings.Index(after, ","); i >= 0 {
		return fragment{text: trimPiece(after[i+1:]), condition: cleanCondition(after[:i])}
	}
	if v := transferVerbRe.FindStringIndex(after); v != nil && v[0] > 0 {
		return fragment{text: after[v[0]:], condition: cleanCondition(after[:v[0]])}
	}
	return fragment{condition: cleanCondition(after)}
}

func cleanCondition(s string) string {
	s = strings.Trim(s, " ,.;")
	return strings.TrimSpace(strings.TrimPrefix(s, "if "))
}
