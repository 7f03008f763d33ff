// Package proof talks to the zero-knowledge proof oracle over a shared duplex
// channel, correlating asynchronous responses with pending requests.
package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// Transport is a duplex message channel to the oracle. Messages is closed
// when the channel goes away.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Messages() <-chan []byte
	Close() error
}

// Logger is the logging surface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

const (
	DefaultGenerateTimeout = 10 * time.Minute
	DefaultVerifyTimeout   = 2 * time.Minute
	DefaultStepSize        = 50
)

// GenerateRequest asks the oracle for a proof of Kind over Arguments.
type GenerateRequest struct {
	Kind        models.ProofKind
	Arguments   []string
	Person      string
	WorkflowID  string
	StepIndex   int
	Explanation string
}

// VerifyRequest asks the oracle to check a proof. Target is a proof id,
// "last", or empty to resolve by Kind and Person.
type VerifyRequest struct {
	Target     string
	Kind       models.ProofKind
	Person     string
	WorkflowID string
	StepIndex  int
}

// VerifyOutcome is the oracle's verdict on a proof.
type VerifyOutcome struct {
	ProofID string
	Kind    models.ProofKind
	Person  string
	Key     string
	Valid   bool
	Result  string
}

// Option configures a Client
type Option func(*Client)

// WithTimeouts overrides the generation and verification waits. Zero keeps
// the default.
func WithTimeouts(generate, verify time.Duration) Option {
	return func(c *Client) {
		if generate > 0 {
			c.generateTimeout = generate
		}
		if verify > 0 {
			c.verifyTimeout = verify
		}
	}
}

// WithStepSize sets the step_size sent with every request.
func WithStepSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.stepSize = n
		}
	}
}

// WithClock replaces the clock used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client sends proof requests and waits for their correlated responses. One
// Client is shared by every workflow in the process.
type Client struct {
	transport Transport
	logger    Logger

	generateTimeout time.Duration
	verifyTimeout   time.Duration
	stepSize        int
	now             func() time.Time
	ids             *idGenerator

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool
	done    chan struct{}
	start   sync.Once
}

// NewClient creates a Client over transport. Call Start before sending.
func NewClient(transport Transport, logger Logger, opts ...Option) *Client {
	c := &Client{
		transport:       transport,
		logger:          logger,
		generateTimeout: DefaultGenerateTimeout,
		verifyTimeout:   DefaultVerifyTimeout,
		stepSize:        DefaultStepSize,
		now:             time.Now,
		pending:         make(map[string]chan Response),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ids = newIDGenerator(c.now)
	return c
}

// Start dispatches inbound messages until the transport closes or ctx ends.
// Pending requests then fail with ErrTransportClosed.
func (c *Client) Start(ctx context.Context) {
	c.start.Do(func() { go c.dispatch(ctx) })
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) dispatch(ctx context.Context) {
	defer c.shutdown()
	msgs := c.transport.Messages()
	var resets <-chan struct{}
	if r, ok := c.transport.(Resetter); ok {
		resets = r.Resets()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-resets:
			c.abandonPending()
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			c.deliver(raw)
		}
	}
}

// abandonPending fails every in-flight request with ErrDisconnected.
func (c *Client) abandonPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ch := range c.pending {
		delete(c.pending, key)
		close(ch)
	}
}

func (c *Client) deliver(raw []byte) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Debug("ignoring non-json oracle message", "error", err)
		return
	}
	fam, ok := familyOf(resp.Type)
	if !ok || resp.ProofID == "" {
		return
	}
	key := pendingKey(fam, resp.ProofID)

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("ignoring unmatched oracle response", "type", resp.Type, "proof_id", resp.ProofID)
		return
	}
	ch <- resp
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// register adds a one-shot handler for key. It must happen before the
// request is sent so a fast response cannot be missed.
func (c *Client) register(key string) (chan Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrTransportClosed
	}
	if _, exists := c.pending[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, key)
	}
	ch := make(chan Response, 1)
	c.pending[key] = ch
	return ch, nil
}

// unregister removes key if it is still pending with ch.
func (c *Client) unregister(key string, ch chan Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[key]; ok && cur == ch {
		delete(c.pending, key)
	}
}

// roundTrip registers, sends req and waits for the correlated response.
func (c *Client) roundTrip(ctx context.Context, fam family, req Request, timeout time.Duration) (Response, error) {
	key := pendingKey(fam, req.ProofID)
	ch, err := c.register(key)
	if err != nil {
		return Response{}, err
	}
	defer c.unregister(key, ch)

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode oracle request: %w", err)
	}
	if err := c.transport.Send(ctx, payload); err != nil {
		return Response{}, fmt.Errorf("send oracle request %s: %w", req.ProofID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("%w: %s", ErrDisconnected, req.ProofID)
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer.C:
		return Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, req.ProofID, timeout)
	case <-c.done:
		select {
		case resp, ok := <-ch:
			if !ok {
				return Response{}, ErrDisconnected
			}
			return resp, nil
		default:
			return Response{}, ErrTransportClosed
		}
	}
}

// Generate requests a proof and records the result in ledger.
func (c *Client) Generate(ctx context.Context, ledger *Ledger, req GenerateRequest) (*models.ProofResult, error) {
	id := c.ids.next(string(req.Kind))
	explanation := req.Explanation
	if explanation == "" {
		explanation = fmt.Sprintf("Generate %s proof", req.Kind.Label())
	}
	args := req.Arguments
	if args == nil {
		args = []string{}
	}

	resp, err := c.roundTrip(ctx, familyProof, Request{
		Message: fmt.Sprintf("%s %s", req.Kind.FunctionName(), strings.Join(args, " ")),
		ProofID: id,
		Metadata: Metadata{
			Function:    req.Kind.FunctionName(),
			Arguments:   args,
			StepSize:    c.stepSize,
			Explanation: explanation,
			AdditionalContext: map[string]any{
				"workflow_id": req.WorkflowID,
				"step_index":  req.StepIndex,
				"proof_type":  string(req.Kind),
				"person":      req.Person,
			},
		},
	}, c.generateTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeProofError {
		return nil, &OracleError{ProofID: id, Message: resp.Error}
	}

	result := models.ProofResult{
		ProofID:   id,
		ProofType: req.Kind,
		Person:    strings.ToLower(req.Person),
		Timestamp: c.now().UTC(),
		Metrics:   resp.Metrics,
	}
	if ledger != nil {
		ledger.RecordProof(result)
	}
	return &result, nil
}

// Verify resolves the target in ledger and asks the oracle to check it. An
// unresolvable target fails with ErrProofNotFound without a round trip. The
// verdict, valid or not, is recorded in ledger.
func (c *Client) Verify(ctx context.Context, ledger *Ledger, req VerifyRequest) (*VerifyOutcome, error) {
	if ledger == nil {
		ledger = NewLedger()
	}
	res, err := ledger.Resolve(req.Target, req.Kind, req.Person)
	if err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, familyVerify, Request{
		Message: "Verify proof " + res.ProofID,
		ProofID: res.ProofID,
		Metadata: Metadata{
			Function:    VerifyFunction,
			Arguments:   []string{res.ProofID},
			StepSize:    c.stepSize,
			Explanation: fmt.Sprintf("Verify %s proof %s", res.Kind.Label(), res.ProofID),
			AdditionalContext: map[string]any{
				"is_verification": true,
				"workflow_id":     req.WorkflowID,
				"step_index":      req.StepIndex,
				"proof_type":      string(res.Kind),
				"person":          res.Person,
			},
		},
	}, c.verifyTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeVerificationError {
		return nil, &OracleError{ProofID: res.ProofID, Message: resp.Error}
	}

	out := &VerifyOutcome{
		ProofID: res.ProofID,
		Kind:    res.Kind,
		Person:  res.Person,
		Key:     res.Key,
		Valid:   strings.EqualFold(resp.Result, ResultValid),
		Result:  resp.Result,
	}
	ledger.RecordVerification(models.VerificationResult{
		Key:       res.Key,
		ProofID:   res.ProofID,
		ProofType: res.Kind,
		Person:    res.Person,
		Valid:     out.Valid,
		Timestamp: c.now().UTC(),
	})
	return out, nil
}
