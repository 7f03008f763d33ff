package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/proof"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/wallet"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// dispatch runs one step. A returned result with status skipped means the
// step was declined without failing.
func (e *Executor) dispatch(ctx context.Context, r *runState, i int, step models.Step, watch *watchGroup) (models.StepResult, error) {
	switch step.Type {
	case models.StepTypeProofGeneration:
		return e.generate(ctx, r, i, step)
	case models.StepTypeVerification:
		if step.OnChain() {
			return e.verifyOnChain(ctx, r, i, step)
		}
		return e.verify(ctx, r, i, step)
	case models.StepTypeTransfer:
		return e.transfer(ctx, r, step, watch)
	case models.StepTypeWait:
		if err := sleep(ctx, time.Duration(step.DurationMS)*time.Millisecond); err != nil {
			return models.StepResult{}, err
		}
		return models.StepResult{Status: models.StepStatusCompleted}, nil
	case models.StepTypeCustom:
		if e.custom == nil {
			return models.StepResult{}, ErrNoCustomHandler
		}
		return e.custom(ctx, r.record.Clone(), i, step)
	default:
		return models.StepResult{}, fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type)
	}
}

func (e *Executor) generate(ctx context.Context, r *runState, i int, step models.Step) (models.StepResult, error) {
	if step.ProofKind == "" {
		return models.StepResult{}, fmt.Errorf("%w: proof generation without a proof kind", ErrMalformedStep)
	}
	p, err := e.prover.Generate(ctx, r.ledger, proof.GenerateRequest{
		Kind:        step.ProofKind,
		Arguments:   step.Arguments,
		Person:      step.Person,
		WorkflowID:  r.record.ID,
		StepIndex:   i,
		Explanation: step.Description,
	})
	if err != nil {
		return models.StepResult{ProofType: step.ProofKind}, err
	}
	return models.StepResult{ProofID: p.ProofID, ProofType: p.ProofType}, nil
}

// verifyTarget returns the explicit proof id or placeholder a verification
// step points at. Some dialects only carry the id inside the description.
func verifyTarget(step models.Step) string {
	if step.Target != "" {
		return step.Target
	}
	if id, ok := models.FindProofID(step.Description); ok {
		return id
	}
	return ""
}

func (e *Executor) verify(ctx context.Context, r *runState, i int, step models.Step) (models.StepResult, error) {
	out, err := e.prover.Verify(ctx, r.ledger, proof.VerifyRequest{
		Target:     verifyTarget(step),
		Kind:       step.ProofKind,
		Person:     step.Person,
		WorkflowID: r.record.ID,
		StepIndex:  i,
	})
	if err != nil {
		return models.StepResult{ProofType: step.ProofKind}, err
	}
	res := models.StepResult{
		ProofID:   out.ProofID,
		ProofType: out.Kind,
		Valid:     models.BoolPtr(out.Valid),
	}
	if !out.Valid {
		return res, fmt.Errorf("%w: %s returned %q", ErrInvalidProof, out.ProofID, out.Result)
	}
	return res, nil
}

func (e *Executor) verifyOnChain(ctx context.Context, r *runState, i int, step models.Step) (models.StepResult, error) {
	if e.wallet == nil {
		return models.StepResult{}, ErrNoWallet
	}
	target, err := r.ledger.Resolve(verifyTarget(step), step.ProofKind, step.Person)
	if err != nil {
		return models.StepResult{ProofType: step.ProofKind}, err
	}
	res := models.StepResult{ProofID: target.ProofID, ProofType: target.Kind}

	confirmed, err := e.wallet.Verify(ctx, wallet.Request{
		WorkflowID: r.record.ID,
		StepID:     step.ID,
		StepIndex:  i,
		ProofID:    target.ProofID,
		Kind:       target.Kind,
		Chain:      step.Chain,
	})
	if err != nil {
		return res, err
	}
	r.ledger.RecordVerification(models.VerificationResult{
		Key:       target.Key,
		ProofID:   target.ProofID,
		ProofType: target.Kind,
		Person:    target.Person,
		Valid:     true,
		Timestamp: e.now().UTC(),
	})
	res.Valid = models.BoolPtr(true)
	res.TransactionHash = confirmed.TransactionHash
	res.ExplorerURL = confirmed.ExplorerURL
	return res, nil
}

func (e *Executor) transfer(ctx context.Context, r *runState, step models.Step, watch *watchGroup) (models.StepResult, error) {
	if step.Transfer == nil {
		return models.StepResult{}, fmt.Errorf("%w: transfer without parameters", ErrMalformedStep)
	}
	if step.Transfer.Amount == "" {
		return models.StepResult{}, fmt.Errorf("%w: transfer to %s names no amount", ErrMalformedStep, step.Transfer.Recipient)
	}
	if reason, ok := e.transferAllowed(ctx, r, step); !ok {
		e.logger.Warn("transfer requirements not met", "workflow_id", r.record.ID, "step_id", step.ID, "reason", reason)
		return models.StepResult{Status: models.StepStatusSkipped, Reason: reason}, nil
	}

	params := *step.Transfer
	if params.Chain == "" {
		params.Chain = models.ChainETH
	}
	receipt, err := e.transfers.Transfer(ctx, params)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !receipt.Success {
		return models.StepResult{TransferID: receipt.TransferID}, fmt.Errorf("%w: %s", ErrTransferFailed, receipt.Error)
	}

	r.transferIDs = append(r.transferIDs, receipt.TransferID)
	if receipt.TransferID != "" && e.watchAttempts > 0 {
		watch.Go(func(ctx context.Context) {
			e.watchTransfer(ctx, r.record.ID, step, receipt.TransferID)
		})
	}
	return models.StepResult{TransferID: receipt.TransferID, TransferStatus: receipt.Status}, nil
}

// transferAllowed re-checks a transfer's gating verifications against the
// run's ledger. Person-scoped requirements must each have a valid verdict
// for that party. Otherwise required kinds, and finally the condition text,
// are checked. A transfer flagged as requiring proof never runs without at
// least one valid verdict.
func (e *Executor) transferAllowed(ctx context.Context, r *runState, step models.Step) (string, bool) {
	switch {
	case len(step.RequiredProofs) > 0:
		for _, req := range step.RequiredProofs {
			if valid, found := r.ledger.Verified(req.Kind, req.Person); !found || !valid {
				return fmt.Sprintf("required %s verification not satisfied", describe(req.Kind, req.Person)), false
			}
		}
	case len(step.RequiredProofTypes) > 0:
		for _, kind := range step.RequiredProofTypes {
			if valid, found := r.ledger.Verified(kind, ""); !found || !valid {
				return fmt.Sprintf("required %s verification not satisfied", describe(kind, "")), false
			}
		}
	}

	if step.Condition != "" {
		if v := e.evaluator.Evaluate(ctx, step.Condition, r.ledger); !v.Satisfied {
			return "condition not satisfied: " + step.Condition, false
		}
	}

	if step.RequiresProof && !anyValid(r.ledger.Verifications()) {
		return "transfer requires a verified proof and none is valid", false
	}
	return "", true
}

func anyValid(vs []models.VerificationResult) bool {
	for _, v := range vs {
		if v.Valid {
			return true
		}
	}
	return false
}

func describe(kind models.ProofKind, person string) string {
	if person == "" {
		return kind.Label()
	}
	return strings.ToLower(person) + "'s " + kind.Label()
}
