// Package wallet brokers on-chain proof verifications that a human approves
// in a browser wallet. The request goes out as a progress event and the
// answer comes back, possibly minutes later, through Resolve.
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// DefaultTimeout bounds the wait for a human-approved transaction.
const DefaultTimeout = 5 * time.Minute

// Publisher delivers the request event to the user's browser.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event)
}

// Logger is the logging surface used by the broker.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Request describes one on-chain verification.
type Request struct {
	WorkflowID string
	StepID     string
	StepIndex  int
	ProofID    string
	Kind       models.ProofKind
	Chain      models.Chain
}

// Result is a confirmed on-chain verification.
type Result struct {
	CorrelationID   string
	TransactionHash string
	ExplorerURL     string
}

// Option configures a Broker
type Option func(*Broker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Broker correlates wallet responses with outstanding requests.
type Broker struct {
	publisher Publisher
	logger    Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan models.OnChainResponse
}

// NewBroker creates a Broker publishing requests to publisher.
func NewBroker(publisher Publisher, logger Logger, opts ...Option) *Broker {
	b := &Broker{
		publisher: publisher,
		logger:    logger,
		timeout:   DefaultTimeout,
		pending:   make(map[string]chan models.OnChainResponse),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Verify publishes an on-chain verification request and waits for the
// wallet's answer. Failures are classified, see Classify.
func (b *Broker) Verify(ctx context.Context, req Request) (*Result, error) {
	correlationID := "onchain_" + uuid.New().String()
	ch := make(chan models.OnChainResponse, 1)

	b.mu.Lock()
	b.pending[correlationID] = ch
	b.mu.Unlock()
	defer b.remove(correlationID)

	chain := req.Chain
	if chain == "" {
		chain = models.ChainETH
	}
	b.publisher.Publish(ctx, models.Event{
		Type:       models.EventOnChainVerification,
		WorkflowID: req.WorkflowID,
		StepID:     req.StepID,
		OnChain: &models.OnChainRequest{
			CorrelationID: correlationID,
			ProofID:       req.ProofID,
			Kind:          req.Kind,
			Chain:         chain,
			StepIndex:     req.StepIndex,
			SigningData: map[string]string{
				"proof_id":   req.ProofID,
				"proof_type": string(req.Kind),
				"function":   "verify_proof",
			},
		},
		Timestamp: time.Now().UTC(),
	})
	b.logger.Info("awaiting wallet confirmation", "workflow_id", req.WorkflowID, "proof_id", req.ProofID, "chain", chain, "correlation_id", correlationID)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.Success {
			return nil, Classify(resp.Error)
		}
		return &Result{CorrelationID: correlationID, TransactionHash: resp.TransactionHash, ExplorerURL: resp.ExplorerURL}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, req.ProofID, b.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers the wallet's answer for correlationID.
func (b *Broker) Resolve(correlationID string, resp models.OnChainResponse) error {
	b.mu.Lock()
	ch, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("wallet response for unknown request", "correlation_id", correlationID)
		return fmt.Errorf("%w: %s", ErrUnknownCorrelation, correlationID)
	}
	ch <- resp
	return nil
}

// Pending returns the number of outstanding requests.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) remove(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, correlationID)
}
