package proof

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// Ledger holds the proofs and verdicts of one workflow run. It is the only
// index of proof results; every lookup goes through Resolve.
type Ledger struct {
	mu sync.RWMutex

	proofs     map[string]models.ProofResult
	proofOrder []string

	verdicts     map[string]models.VerificationResult
	verdictOrder []models.VerificationResult
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		proofs:   make(map[string]models.ProofResult),
		verdicts: make(map[string]models.VerificationResult),
	}
}

// Resolution identifies the proof a verification targets.
type Resolution struct {
	ProofID string
	Kind    models.ProofKind
	Person  string
	// Key is where the verdict is recorded besides the bare kind.
	Key string
	// External is set for explicit ids this run never generated.
	External bool
}

// RecordProof indexes p under "{kind}_{person}", or "{kind}" without a person.
func (l *Ledger) RecordProof(p models.ProofResult) string {
	key := models.ResultKey(p.ProofType, p.Person)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.proofs[key]; exists {
		l.removeFromOrder(key)
	}
	l.proofs[key] = p
	l.proofOrder = append(l.proofOrder, key)
	return key
}

func (l *Ledger) removeFromOrder(key string) {
	for i, k := range l.proofOrder {
		if k == key {
			l.proofOrder = append(l.proofOrder[:i], l.proofOrder[i+1:]...)
			return
		}
	}
}

// Proof returns the proof stored under exactly key.
func (l *Ledger) Proof(key string) (models.ProofResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.proofs[key]
	return p, ok
}

// LastProof returns the most recently recorded proof.
func (l *Ledger) LastProof() (models.ProofResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.proofOrder) == 0 {
		return models.ProofResult{}, false
	}
	return l.proofs[l.proofOrder[len(l.proofOrder)-1]], true
}

// Proofs returns all proofs in insertion order.
func (l *Ledger) Proofs() []models.ProofResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ProofResult, 0, len(l.proofOrder))
	for _, k := range l.proofOrder {
		out = append(out, l.proofs[k])
	}
	return out
}

// Resolve finds the proof a verification targets. Precedence:
//
//  1. target is a proof id: forwarded as is, the oracle is authoritative
//  2. target is "last": the most recently recorded proof
//  3. "{kind}_{person}"
//  4. "{kind}"
//  5. the newest proof whose key has the "{kind}_" prefix, for any party
//
// A miss returns ErrProofNotFound.
func (l *Ledger) Resolve(target string, kind models.ProofKind, person string) (Resolution, error) {
	person = strings.ToLower(person)

	if models.IsProofID(target) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		for _, key := range l.proofOrder {
			if p := l.proofs[key]; p.ProofID == target {
				return Resolution{ProofID: target, Kind: p.ProofType, Person: p.Person, Key: key}, nil
			}
		}
		k := models.ProofKindFromID(target)
		return Resolution{ProofID: target, Kind: k, Person: person, Key: models.ResultKey(k, person), External: true}, nil
	}

	if target == models.VerifyTargetLast {
		p, ok := l.LastProof()
		if !ok {
			return Resolution{}, fmt.Errorf("%w: no proof generated yet", ErrProofNotFound)
		}
		return resolutionOf(p), nil
	}

	if kind == "" {
		return Resolution{}, fmt.Errorf("%w: verification names no proof kind", ErrProofNotFound)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if person != "" {
		if p, ok := l.proofs[models.ResultKey(kind, person)]; ok {
			return resolutionOf(p), nil
		}
	}
	if p, ok := l.proofs[string(kind)]; ok {
		return resolutionOf(p), nil
	}
	prefix := string(kind) + "_"
	for i := len(l.proofOrder) - 1; i >= 0; i-- {
		if strings.HasPrefix(l.proofOrder[i], prefix) {
			return resolutionOf(l.proofs[l.proofOrder[i]]), nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrProofNotFound, models.ResultKey(kind, person))
}

func resolutionOf(p models.ProofResult) Resolution {
	return Resolution{
		ProofID: p.ProofID,
		Kind:    p.ProofType,
		Person:  p.Person,
		Key:     models.ResultKey(p.ProofType, p.Person),
	}
}

// RecordVerification stores v under v.Key and under the bare kind.
func (l *Ledger) RecordVerification(v models.VerificationResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v.Key == "" {
		v.Key = models.ResultKey(v.ProofType, v.Person)
	}
	l.verdicts[v.Key] = v
	if v.ProofType != "" {
		l.verdicts[string(v.ProofType)] = v
	}
	l.verdictOrder = append(l.verdictOrder, v)
}

// Verdicts returns every stored verdict by key.
func (l *Ledger) Verdicts() map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]bool, len(l.verdicts))
	for k, v := range l.verdicts {
		out[k] = v.Valid
	}
	return out
}

// LastVerification returns the most recently recorded verdict.
func (l *Ledger) LastVerification() (models.VerificationResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.verdictOrder) == 0 {
		return models.VerificationResult{}, false
	}
	return l.verdictOrder[len(l.verdictOrder)-1], true
}

// Verifications returns every verdict in the order recorded.
func (l *Ledger) Verifications() []models.VerificationResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.VerificationResult(nil), l.verdictOrder...)
}

// Verified reports the verdict gating a transfer on kind for person. A
// person-scoped verdict wins; without one, only the latest verdict for a
// proof generated with no party applies. found is false when no verdict
// applies at all.
func (l *Ledger) Verified(kind models.ProofKind, person string) (valid, found bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if person != "" {
		if v, ok := l.verdicts[models.ResultKey(kind, person)]; ok {
			return v.Valid, true
		}
	}
	for i := len(l.verdictOrder) - 1; i >= 0; i-- {
		v := l.verdictOrder[i]
		if v.ProofType == kind && (person == "" || v.Person == "") {
			return v.Valid, true
		}
	}
	return false, false
}
