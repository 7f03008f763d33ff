package proof

// Oracle response types.
const (
	TypeProofComplete        = "proof_complete"
	TypeProofError           = "proof_error"
	TypeVerificationComplete = "verification_complete"
	TypeVerificationError    = "verification_error"
)

// VerifyFunction is the oracle function that checks an existing proof.
const VerifyFunction = "verify_proof"

// ResultValid is the verification result string for a valid proof.
const ResultValid = "VALID"

// Request is a message sent to the oracle. Explanation and AdditionalContext
// are required by the oracle even when empty.
type Request struct {
	Message  string   `json:"message"`
	ProofID  string   `json:"proof_id"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes the function call carried by a Request
type Metadata struct {
	Function          string         `json:"function"`
	Arguments         []string       `json:"arguments"`
	StepSize          int            `json:"step_size"`
	Explanation       string         `json:"explanation"`
	AdditionalContext map[string]any `json:"additional_context"`
}

// Response is any message received from the oracle. Messages of other types
// share the channel and are ignored.
type Response struct {
	Type    string         `json:"type"`
	ProofID string         `json:"proof_id"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Result  string         `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type family string

const (
	familyProof  family = "proof"
	familyVerify family = "verify"
)

// familyOf maps a response type to the request family it answers.
func familyOf(responseType string) (family, bool) {
	switch responseType {
	case TypeProofComplete, TypeProofError:
		return familyProof, true
	case TypeVerificationComplete, TypeVerificationError:
		return familyVerify, true
	default:
		return "", false
	}
}

func pendingKey(f family, proofID string) string {
	return string(f) + ":" + proofID
}
