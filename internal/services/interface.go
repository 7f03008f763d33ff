package services

import (
	"context"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// TransferClient is an interface for communicating with the payment provider.
type TransferClient interface {
	// Transfer sends amount to recipient on the step's chain. A provider
	// refusal is reported through the receipt, not the error.
	Transfer(ctx context.Context, params models.TransferParams) (*models.TransferReceipt, error)
	// Status returns the provider's current status for a transfer.
	Status(ctx context.Context, transferID string) (string, error)
}

// WorkflowRunner executes stored workflows.
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error)
}

// Logger is the logging surface used by the services.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
