package parser

import (
	"strings"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

type clause struct {
	text   string
	kind   models.ProofKind
	person string
}

// conditionClauses splits a condition on "and" and tags each clause with
// the proof kind and party it names. A clause with no party inherits the
// previous clause's party; pronouns refer to the recipient.
func conditionClauses(condition, recipient string) []clause {
	var out []clause
	prev := ""
	for _, part := range conjunctionRe.Split(condition, -1) {
		part = cleanCondition(part)
		if part == "" {
			continue
		}
		who := clausePerson(part, recipient)
		if who == "" {
			who = prev
		}
		prev = who
		out = append(out, clause{text: part, kind: kindOf(part), person: who})
	}
	return out
}

func clausePerson(text, recipient string) string {
	words := strings.Fields(text)
	if len(words) > 0 && pronouns[words[0]] {
		return recipient
	}
	if m := subjectRe.FindStringSubmatch(text); m != nil && !notPeople[m[1]] {
		return m[1]
	}
	return person(text)
}

// parseConditional expands "send X to Y if Y is kyc verified" sentences into
// proof generation, verification and the gated transfer. Several transfers
// joined by "and send ..." expand independently. A leading fragment that is
// not a payment goes through the rule table.
func (p *Parser) parseConditional(t string) []models.Step {
	var steps []models.Step
	for _, f := range gate(conditionalFragments(t)) {
		if !matchTransfer(f) {
			if step, ok := p.classify(f); ok {
				steps = append(steps, step)
			}
			continue
		}
		steps = append(steps, expandConditional(f)...)
	}
	return steps
}

func expandConditional(f fragment) []models.Step {
	transfer := transferStep(f.text, chainOf(f.text+" "+f.condition))
	if f.condition == "" {
		return []models.Step{transfer}
	}

	var steps []models.Step
	seen := make(map[models.ProofRequirement]bool)
	for _, c := range conditionClauses(f.condition, transfer.Transfer.Recipient) {
		if c.kind == "" {
			continue
		}
		req := models.ProofRequirement{Kind: c.kind, Person: c.person}
		if seen[req] {
			continue
		}
		seen[req] = true

		proof := proofStep(c.kind, c.person, c.text)
		proof.Critical = models.BoolPtr(false)
		verify := models.Step{
			Type:      models.StepTypeVerification,
			ProofKind: c.kind,
			Person:    c.person,
			Critical:  models.BoolPtr(false),
		}
		verify.Description = verificationDescription(verify)
		steps = append(steps, proof, verify)
	}
	applyRequirements(&transfer, f.condition)
	return append(steps, transfer)
}
