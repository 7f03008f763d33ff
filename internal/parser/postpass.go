package parser

import (
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// resolveLastReferences rewrites "verify it" style steps to the proof kind
// and party of the nearest preceding proof generation. Steps with no
// preceding proof keep the "last" target and are resolved at run time.
func resolveLastReferences(steps []models.Step) []models.Step {
	for i := range steps {
		s := &steps[i]
		if s.Type != models.StepTypeVerification || s.Target != models.VerifyTargetLast {
			continue
		}
		if j := nearestProof(steps, i); j >= 0 {
			s.Target = ""
			s.ProofKind = steps[j].ProofKind
			s.Person = steps[j].Person
			s.Description = verificationDescription(*s)
		}
	}
	return steps
}

// insertVerifications adds a verification after each proof generation whose
// kind a later condition requires to be verified, unless one already
// follows immediately.
func insertVerifications(steps []models.Step) []models.Step {
	out := make([]models.Step, 0, len(steps))
	for i, s := range steps {
		out = append(out, s)
		if s.Type != models.StepTypeProofGeneration {
			continue
		}
		if i+1 < len(steps) && steps[i+1].Type == models.StepTypeVerification && steps[i+1].ProofKind == s.ProofKind {
			continue
		}
		if !verifiedLater(steps, i) {
			continue
		}
		v := models.Step{
			Type:         models.StepTypeVerification,
			ProofKind:    s.ProofKind,
			Person:       s.Person,
			AutoInserted: true,
			Critical:     s.Critical,
		}
		v.Description = verificationDescription(v)
		out = append(out, v)
	}
	return out
}

// verifiedLater reports whether a step after i is conditioned on the proof
// generated at i being verified. An unqualified "verified" refers to the
// nearest preceding proof.
func verifiedLater(steps []models.Step, i int) bool {
	kind := steps[i].ProofKind
	for j := i + 1; j < len(steps); j++ {
		cond := steps[j].Condition
		if cond == "" || !verifiedRe.MatchString(cond) {
			continue
		}
		if mentionsKind(cond, kind) {
			return true
		}
		if kindOf(cond) == "" && nearestProof(steps, j) == i {
			return true
		}
	}
	return false
}

func nearestProof(steps []models.Step, before int) int {
	for j := before - 1; j >= 0; j-- {
		if steps[j].Type == models.StepTypeProofGeneration {
			return j
		}
	}
	return -1
}
