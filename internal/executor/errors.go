package executor

import "errors"

var (
	// ErrUnknownStepType aborts a run regardless of the step's criticality.
	ErrUnknownStepType = errors.New("unknown step type")
	ErrInvalidProof    = errors.New("proof verification returned invalid")
	ErrTransferFailed  = errors.New("transfer failed")
	ErrMalformedStep   = errors.New("malformed step")
	ErrNoWallet        = errors.New("on-chain verification requested but no wallet is configured")
	ErrNoCustomHandler = errors.New("no handler configured for custom steps")
)
