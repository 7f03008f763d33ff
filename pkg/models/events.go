package models

import "time"

// EventType names a progress event published to observers
type EventType string

const (
	EventWorkflowStarted     EventType = "workflow_started"
	EventWorkflowStepUpdate  EventType = "workflow_step_update"
	EventWorkflowCompleted   EventType = "workflow_completed"
	EventOnChainVerification EventType = "onchain_verification_request"
)

// StepSummary is the per-step view carried by workflow level events
type StepSummary struct {
	ID          string     `json:"id"`
	Type        StepType   `json:"type"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status,omitempty"`
}

// TransferData is attached to step updates of transfer steps
type TransferData struct {
	TransferID string `json:"transferId"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient"`
	Chain      Chain  `json:"chain"`
	Status     string `json:"status"`
}

// StepUpdate carries the fields that changed for one step
type StepUpdate struct {
	Status       StepStatus    `json:"status"`
	StartTime    *time.Time    `json:"startTime,omitempty"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	Result       *StepResult   `json:"result,omitempty"`
	TransferData *TransferData `json:"transferData,omitempty"`
}

// ProofSummaryEntry summarizes one proof produced during a run
type ProofSummaryEntry struct {
	ProofID  string    `json:"proofId"`
	Kind     ProofKind `json:"kind"`
	Person   string    `json:"person,omitempty"`
	Verified *bool     `json:"verified,omitempty"`
}

// OnChainRequest asks the user's wallet to verify a proof on-chain
type OnChainRequest struct {
	CorrelationID string            `json:"correlationId"`
	ProofID       string            `json:"proofId"`
	Kind          ProofKind         `json:"kind"`
	Chain         Chain             `json:"chain"`
	StepIndex     int               `json:"stepIndex"`
	SigningData   map[string]string `json:"signingData,omitempty"`
}

// OnChainResponse is the wallet's answer to an OnChainRequest
type OnChainResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ExplorerURL     string `json:"explorerUrl,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Event is a progress notification. Only the fields relevant to Type are set.
type Event struct {
	Type         EventType           `json:"type"`
	WorkflowID   string              `json:"workflowId"`
	StepID       string              `json:"stepId,omitempty"`
	Steps        []StepSummary       `json:"steps,omitempty"`
	Updates      *StepUpdate         `json:"updates,omitempty"`
	Success      *bool               `json:"success,omitempty"`
	Error        string              `json:"error,omitempty"`
	ProofSummary []ProofSummaryEntry `json:"proofSummary,omitempty"`
	TransferIDs  []string            `json:"transferIds,omitempty"`
	OnChain      *OnChainRequest     `json:"onChain,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Summaries builds step summaries for a record, using recorded results for status.
func Summaries(r *WorkflowRecord) []StepSummary {
	out := make([]StepSummary, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = StepSummary{ID: s.ID, Type: s.Type, Description: s.Description}
		if res, ok := r.Results[i]; ok {
			out[i].Status = res.Status
		}
	}
	return out
}
