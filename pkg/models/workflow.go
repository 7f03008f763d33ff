package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle state of a workflow record
type WorkflowStatus string

const (
	WorkflowStatusCreated   WorkflowStatus = "created"
	WorkflowStatusExecuting WorkflowStatus = "executing"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// StepStatus is the outcome of one step
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

var (
	ErrTerminal          = errors.New("workflow is in a terminal state")
	ErrInvalidTransition = errors.New("invalid workflow status transition")
	ErrBackwardStep      = errors.New("current step index cannot move backwards")
	ErrResultExists      = errors.New("step result already recorded")
	ErrStepOutOfRange    = errors.New("step index out of range")
)

// StepResult is the outcome payload stored for a step index
type StepResult struct {
	Status          StepStatus `json:"status"`
	ProofID         string     `json:"proof_id,omitempty"`
	ProofType       ProofKind  `json:"proof_type,omitempty"`
	Valid           *bool      `json:"valid,omitempty"`
	TransferID      string     `json:"transfer_id,omitempty"`
	TransferStatus  string     `json:"transfer_status,omitempty"`
	TransactionHash string     `json:"transaction_hash,omitempty"`
	ExplorerURL     string     `json:"explorer_url,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
}

// WorkflowRecord is one user-initiated operation.
//
// A record is mutated only through its methods, which enforce that the
// status never moves backwards, the current step index only advances,
// results are write-once and terminal records are frozen.
type WorkflowRecord struct {
	ID               string             `json:"id"`
	Description      string             `json:"description"`
	Steps            []Step             `json:"steps"`
	Status           WorkflowStatus     `json:"status"`
	CurrentStepIndex int                `json:"current_step_index"`
	CompletedSteps   []int              `json:"completed_steps"`
	Results          map[int]StepResult `json:"results"`
	Error            string             `json:"error,omitempty"`
	RequiresProofs   bool               `json:"requires_proofs"`
	CreatedBy        string             `json:"created_by,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewWorkflowRecord creates a record in the created state with a fresh id.
func NewWorkflowRecord(description string, steps []Step, requiresProofs bool) *WorkflowRecord {
	now := time.Now().UTC()
	owned := make([]Step, len(steps))
	copy(owned, steps)
	for i := range owned {
		if owned[i].ID == "" {
			owned[i].ID = fmt.Sprintf("step_%d", i)
		}
	}
	return &WorkflowRecord{
		ID:               uuid.New().String(),
		Description:      description,
		Steps:            owned,
		Status:           WorkflowStatusCreated,
		CurrentStepIndex: -1,
		CompletedSteps:   []int{},
		Results:          make(map[int]StepResult),
		RequiresProofs:   requiresProofs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks structural integrity. A record failing validation is a
// programming error, not a workflow failure.
func (r *WorkflowRecord) Validate() error {
	if r == nil {
		return errors.New("workflow record is nil")
	}
	if r.ID == "" {
		return errors.New("workflow record has no id")
	}
	switch r.Status {
	case WorkflowStatusCreated, WorkflowStatusExecuting, WorkflowStatusCompleted, WorkflowStatusFailed:
	default:
		return fmt.Errorf("workflow record %s has unknown status %q", r.ID, r.Status)
	}
	if r.CurrentStepIndex < -1 || r.CurrentStepIndex > len(r.Steps) {
		return fmt.Errorf("workflow record %s: %w", r.ID, ErrStepOutOfRange)
	}
	for i := range r.Results {
		if i < 0 || i >= len(r.Steps) {
			return fmt.Errorf("workflow record %s result %d: %w", r.ID, i, ErrStepOutOfRange)
		}
	}
	return nil
}

// IsTerminal reports whether the record can no longer change.
func (r *WorkflowRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Start moves a created record into executing.
func (r *WorkflowRecord) Start(now time.Time) error {
	if r.IsTerminal() {
		return ErrTerminal
	}
	if r.Status != WorkflowStatusCreated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, WorkflowStatusExecuting)
	}
	r.Status = WorkflowStatusExecuting
	r.UpdatedAt = now
	return nil
}

// Advance marks step i as the one currently executing.
func (r *WorkflowRecord) Advance(i int, now time.Time) error {
	if r.IsTerminal() {
		return ErrTerminal
	}
	if i < 0 || i >= len(r.Steps) {
		return ErrStepOutOfRange
	}
	if i < r.CurrentStepIndex {
		return ErrBackwardStep
	}
	r.CurrentStepIndex = i
	r.UpdatedAt = now
	return nil
}

// RecordResult stores the outcome of step i. Completed and skipped steps are
// appended to CompletedSteps.
func (r *WorkflowRecord) RecordResult(i int, result StepResult, now time.Time) error {
	if r.IsTerminal() {
		return ErrTerminal
	}
	if i < 0 || i >= len(r.Steps) {
		return ErrStepOutOfRange
	}
	if r.Results == nil {
		r.Results = make(map[int]StepResult)
	}
	if _, exists := r.Results[i]; exists {
		return fmt.Errorf("step %d: %w", i, ErrResultExists)
	}
	r.Results[i] = result
	if result.Status == StepStatusCompleted || result.Status == StepStatusSkipped {
		r.CompletedSteps = append(r.CompletedSteps, i)
		sort.Ints(r.CompletedSteps)
	}
	r.UpdatedAt = now
	return nil
}

// Complete moves an executing record into completed.
func (r *WorkflowRecord) Complete(now time.Time) error {
	if r.IsTerminal() {
		return ErrTerminal
	}
	if r.Status != WorkflowStatusExecuting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, WorkflowStatusCompleted)
	}
	r.Status = WorkflowStatusCompleted
	r.UpdatedAt = now
	return nil
}

// Fail moves the record into failed with a human readable cause.
func (r *WorkflowRecord) Fail(cause string, now time.Time) error {
	if r.IsTerminal() {
		return ErrTerminal
	}
	r.Status = WorkflowStatusFailed
	r.Error = cause
	r.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no mutable state with r. Steps are
// immutable and shared.
func (r *WorkflowRecord) Clone() *WorkflowRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = append([]Step(nil), r.Steps...)
	c.CompletedSteps = append([]int{}, r.CompletedSteps...)
	c.Results = make(map[int]StepResult, len(r.Results))
	for k, v := range r.Results {
		c.Results[k] = v
	}
	return &c
}
