package executor

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// watchGroup runs the transfer status watchers of one run. Watchers share
// the run's lifetime and are awaited before the run finishes.
type watchGroup struct {
	ctx context.Context
	g   errgroup.Group
}

func newWatchGroup(ctx context.Context) *watchGroup {
	return &watchGroup{ctx: ctx}
}

// Go starts fn. Watcher failures never fail the run.
func (w *watchGroup) Go(fn func(ctx context.Context)) {
	w.g.Go(func() error {
		fn(w.ctx)
		return nil
	})
}

// Wait blocks until every watcher returned.
func (w *watchGroup) Wait() {
	_ = w.g.Wait()
}

var settledTransferStates = map[string]bool{
	"completed": true,
	"complete":  true,
	"confirmed": true,
	"success":   true,
	"succeeded": true,
	"failed":    true,
	"rejected":  true,
	"cancelled": true,
}

func transferSettled(status string) bool {
	return settledTransferStates[strings.ToLower(status)]
}

// watchTransfer polls a transfer's status after the configured delay and
// reports it as a step update until it settles or attempts run out.
func (e *Executor) watchTransfer(ctx context.Context, workflowID string, step models.Step, transferID string) {
	for attempt := 0; attempt < e.watchAttempts; attempt++ {
		if err := sleep(ctx, e.watchDelay); err != nil {
			return
		}
		status, err := e.transfers.Status(ctx, transferID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("transfer status poll failed", "workflow_id", workflowID, "transfer_id", transferID, "error", err)
			continue
		}
		e.publishStep(ctx, workflowID, step, models.StepUpdate{
			Status:       models.StepStatusCompleted,
			TransferData: transferData(step, transferID, status),
		})
		if transferSettled(status) {
			return
		}
	}
}

func transferData(step models.Step, transferID, status string) *models.TransferData {
	td := &models.TransferData{TransferID: transferID, Status: status}
	if step.Transfer != nil {
		td.Amount = step.Transfer.Amount
		td.Recipient = step.Transfer.Recipient
		td.Chain = step.Transfer.Chain
		if td.Chain == "" {
			td.Chain = models.ChainETH
		}
	}
	return td
}
