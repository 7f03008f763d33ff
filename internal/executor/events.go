package executor

import (
	"context"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

func (e *Executor) publish(ctx context.Context, ev models.Event) {
	if e.sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	e.sink.Publish(context.WithoutCancel(ctx), ev)
}

func (e *Executor) publishStep(ctx context.Context, workflowID string, step models.Step, update models.StepUpdate) {
	e.publish(ctx, models.Event{
		Type:       models.EventWorkflowStepUpdate,
		WorkflowID: workflowID,
		StepID:     step.ID,
		Updates:    &update,
	})
}

func (e *Executor) publishCompleted(ctx context.Context, r *runState, success bool, cause string) {
	e.publish(ctx, models.Event{
		Type:         models.EventWorkflowCompleted,
		WorkflowID:   r.record.ID,
		Steps:        models.Summaries(r.record),
		Success:      models.BoolPtr(success),
		Error:        cause,
		ProofSummary: proofSummary(r),
		TransferIDs:  append([]string(nil), r.transferIDs...),
	})
}

func proofSummary(r *runState) []models.ProofSummaryEntry {
	proofs := r.ledger.Proofs()
	out := make([]models.ProofSummaryEntry, 0, len(proofs))
	for _, p := range proofs {
		entry := models.ProofSummaryEntry{ProofID: p.ProofID, Kind: p.ProofType, Person: p.Person}
		for _, v := range r.ledger.Verifications() {
			if v.ProofID == p.ProofID {
				entry.Verified = models.BoolPtr(v.Valid)
			}
		}
		out = append(out, entry)
	}
	return out
}
