// Package models defines the domain models for the verifiable agent workflow service
package models

import (
	"regexp"
	"strings"
	"time"
)

// StepType identifies what a workflow step does
type StepType string

const (
	StepTypeProofGeneration StepType = "proof_generation"
	StepTypeVerification    StepType = "verification"
	StepTypeTransfer        StepType = "transfer"
	StepTypeWait            StepType = "wait"
	StepTypeCustom          StepType = "custom"
)

// ProofKind is the family of zero-knowledge proof a step generates or verifies
type ProofKind string

const (
	ProofKindKYC       ProofKind = "kyc"
	ProofKindLocation  ProofKind = "location"
	ProofKindAIContent ProofKind = "ai_content"
)

// FunctionName returns the oracle function that produces proofs of this kind.
func (k ProofKind) FunctionName() string {
	return "prove_" + string(k)
}

// Label is a short human readable name, e.g. for step descriptions.
func (k ProofKind) Label() string {
	switch k {
	case ProofKindKYC:
		return "KYC compliance"
	case ProofKindLocation:
		return "location"
	case ProofKindAIContent:
		return "AI content"
	default:
		return string(k)
	}
}

// Chain is the blockchain a transfer or on-chain verification targets
type Chain string

const (
	ChainETH Chain = "ETH"
	ChainSOL Chain = "SOL"
)

// VerifyTargetLast is the verification target meaning "the most recently
// generated proof in this run".
const VerifyTargetLast = "last"

// ProofIDPattern matches identifiers assigned to proofs by the oracle,
// e.g. proof_kyc_1718035200123.
var ProofIDPattern = regexp.MustCompile(`\bproof_[a-z]+(?:_[a-z]+)*_\d{10,}\b`)

// IsProofID reports whether s is a proof identifier in oracle format.
func IsProofID(s string) bool {
	loc := ProofIDPattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// FindProofID returns the first proof identifier embedded in text.
func FindProofID(text string) (string, bool) {
	id := ProofIDPattern.FindString(strings.ToLower(text))
	return id, id != ""
}

// ProofKindFromID extracts the proof kind encoded in an oracle proof id.
func ProofKindFromID(id string) ProofKind {
	if !IsProofID(id) {
		return ""
	}
	body := strings.TrimPrefix(id, "proof_")
	if i := strings.LastIndex(body, "_"); i > 0 {
		return ProofKind(body[:i])
	}
	return ""
}

// TransferParams describes a payment. Chain is always explicit.
type TransferParams struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Chain     Chain  `json:"chain"`
}

// ProofRequirement is a verification that gates a transfer.
type ProofRequirement struct {
	Kind   ProofKind `json:"kind"`
	Person string    `json:"person,omitempty"`
}

// Step is one unit of work inside a workflow. Steps are immutable once the
// owning record is created.
type Step struct {
	ID          string   `json:"id"`
	Type        StepType `json:"type"`
	Description string   `json:"description"`
	Condition   string   `json:"condition,omitempty"`

	// Proof generation and verification
	ProofKind  ProofKind         `json:"proof_kind,omitempty"`
	Person     string            `json:"person,omitempty"`
	Target     string            `json:"target,omitempty"`
	Arguments  []string          `json:"arguments,omitempty"`
	Chain      Chain             `json:"chain,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`

	// Transfer
	Transfer           *TransferParams    `json:"transfer,omitempty"`
	RequiresProof      bool               `json:"requires_proof,omitempty"`
	RequiredProofTypes []ProofKind        `json:"required_proof_types,omitempty"`
	RequiredProofs     []ProofRequirement `json:"required_proofs,omitempty"`
	Conditions         []string           `json:"conditions,omitempty"`

	// Wait
	DurationMS int64 `json:"duration_ms,omitempty"`

	AutoInserted bool  `json:"auto_inserted,omitempty"`
	Critical     *bool `json:"critical,omitempty"`
}

// IsCritical reports whether a failure of this step aborts the workflow.
// Steps are critical unless explicitly marked otherwise.
func (s Step) IsCritical() bool {
	return s.Critical == nil || *s.Critical
}

// OnChain reports whether a verification step must be settled on-chain
// through the user's wallet.
func (s Step) OnChain() bool {
	return s.Type == StepTypeVerification && s.Chain != ""
}

// ProofResult is produced by a successful proof generation step
type ProofResult struct {
	ProofID   string         `json:"proof_id"`
	ProofType ProofKind      `json:"proof_type"`
	Person    string         `json:"person,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// VerificationResult is the verdict of a verification step
type VerificationResult struct {
	Key       string    `json:"key"`
	ProofID   string    `json:"proof_id"`
	ProofType ProofKind `json:"proof_type"`
	Person    string    `json:"person,omitempty"`
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultKey builds the ledger key for a proof kind and optional person.
func ResultKey(kind ProofKind, person string) string {
	if person == "" {
		return string(kind)
	}
	return string(kind) + "_" + strings.ToLower(person)
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// TransferReceipt is the payment provider's answer to a transfer request.
type TransferReceipt struct {
	Success    bool   `json:"success"`
	TransferID string `json:"transferId,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}
