package proof

import (
	"errors"
	"fmt"
)

var (
	// ErrProofNotFound is returned without contacting the oracle when a
	// verification target cannot be resolved in the run's ledger.
	ErrProofNotFound = errors.New("proof not found")
	// ErrTimeout is returned when the oracle does not answer in time.
	ErrTimeout = errors.New("timed out waiting for oracle response")
	// ErrTransportClosed fails every pending request when the channel closes.
	ErrTransportClosed = errors.New("oracle transport closed")
	// ErrDisconnected fails requests sent while the oracle connection is
	// down, and requests that were in flight when it dropped.
	ErrDisconnected = errors.New("oracle connection lost")
	// ErrDuplicateRequest is returned when a request with the same
	// correlation id is already pending.
	ErrDuplicateRequest = errors.New("request with this correlation id already pending")
)

// OracleError is an explicit error response from the oracle.
type OracleError struct {
	ProofID string
	Message string
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle error for %s: %s", e.ProofID, e.Message)
}
