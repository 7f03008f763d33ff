package wallet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserRejected       = errors.New("user rejected the transaction")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrContractReverted   = errors.New("contract reverted")
	ErrTimeout            = errors.New("timed out waiting for wallet response")
	ErrFailed             = errors.New("on-chain verification failed")
	ErrUnknownCorrelation = errors.New("no pending on-chain request for correlation id")
)

// Classify maps a wallet error message to one of the sentinel errors,
// wrapped with the original message.
func Classify(message string) error {
	m := strings.ToLower(message)
	var sentinel error
	switch {
	case containsAny(m, "reject", "denied", "declined", "cancel"):
		sentinel = ErrUserRejected
	case containsAny(m, "insufficient", "not enough", "exceeds balance"):
		sentinel = ErrInsufficientFunds
	case containsAny(m, "revert", "execution failed", "out of gas"):
		sentinel = ErrContractReverted
	case containsAny(m, "timeout", "timed out", "expired"):
		sentinel = ErrTimeout
	default:
		sentinel = ErrFailed
	}
	if message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
