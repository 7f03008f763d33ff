// Package executor drives workflow records through their steps.
//
// A run is strictly sequential: each step sees every result produced by the
// steps before it. Distinct workflows run concurrently, but a given workflow
// id has at most one active run in the process.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/condition"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/proof"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/wallet"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const (
	DefaultStepDelay     = 3 * time.Second
	DefaultWatchDelay    = 2 * time.Second
	DefaultWatchAttempts = 1

	persistTimeout = 10 * time.Second
)

// Store is the part of the record store the executor needs.
type Store interface {
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	Save(ctx context.Context, record *models.WorkflowRecord) error
}

// Prover generates and verifies proofs against a run's ledger.
type Prover interface {
	Generate(ctx context.Context, ledger *proof.Ledger, req proof.GenerateRequest) (*models.ProofResult, error)
	Verify(ctx context.Context, ledger *proof.Ledger, req proof.VerifyRequest) (*proof.VerifyOutcome, error)
}

// Transfers moves funds. Recipients are passed through unchanged.
type Transfers interface {
	Transfer(ctx context.Context, params models.TransferParams) (*models.TransferReceipt, error)
	Status(ctx context.Context, transferID string) (string, error)
}

// Wallet settles verifications on-chain through the user's wallet.
type Wallet interface {
	Verify(ctx context.Context, req wallet.Request) (*wallet.Result, error)
}

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev models.Event)
}

// Logger is the logging surface used by the executor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CustomHandler runs steps of type custom. It receives a copy of the record.
type CustomHandler func(ctx context.Context, record *models.WorkflowRecord, index int, step models.Step) (models.StepResult, error)

// Option configures an Executor
type Option func(*Executor)

// WithStepDelay sets the pacing delay between steps. Zero disables it.
func WithStepDelay(d time.Duration) Option {
	return func(e *Executor) { e.stepDelay = d }
}

// WithTransferWatch sets how long to wait before polling a transfer's
// status and how many times to poll. Zero attempts disables polling.
func WithTransferWatch(delay time.Duration, attempts int) Option {
	return func(e *Executor) {
		e.watchDelay = delay
		e.watchAttempts = attempts
	}
}

// WithEvaluator replaces the condition evaluator.
func WithEvaluator(ev *condition.Evaluator) Option {
	return func(e *Executor) { e.evaluator = ev }
}

// WithCustomHandler installs the handler for custom steps.
func WithCustomHandler(h CustomHandler) Option {
	return func(e *Executor) { e.custom = h }
}

// WithMeter records run and step counters on meter.
func WithMeter(meter metric.Meter) Option {
	return func(e *Executor) { e.meter = meter }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor runs workflow records.
type Executor struct {
	store     Store
	prover    Prover
	transfers Transfers
	wallet    Wallet
	sink      Sink
	logger    Logger
	evaluator *condition.Evaluator
	custom    CustomHandler

	stepDelay     time.Duration
	watchDelay    time.Duration
	watchAttempts int
	now           func() time.Time

	meter       metric.Meter
	stepCounter metric.Int64Counter
	runCounter  metric.Int64Counter

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an Executor. wallet may be nil when on-chain verification is
// not offered.
func New(store Store, prover Prover, transfers Transfers, wallet Wallet, sink Sink, logger Logger, opts ...Option) *Executor {
	e := &Executor{
		store:         store,
		prover:        prover,
		transfers:     transfers,
		wallet:        wallet,
		sink:          sink,
		logger:        logger,
		stepDelay:     DefaultStepDelay,
		watchDelay:    DefaultWatchDelay,
		watchAttempts: DefaultWatchAttempts,
		now:           time.Now,
		meter:         otel.Meter("github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/executor"),
		active:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = condition.NewEvaluator(logger, condition.WithMeter(e.meter))
	}
	if c, err := e.meter.Int64Counter("workflow.steps", metric.WithDescription("Workflow steps by type and outcome")); err == nil {
		e.stepCounter = c
	}
	if c, err := e.meter.Int64Counter("workflow.runs", metric.WithDescription("Workflow runs by outcome")); err == nil {
		e.runCounter = c
	}
	return e
}

// IsActive reports whether id has a run in progress.
func (e *Executor) IsActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

func (e *Executor) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return false
	}
	e.active[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// ExecuteWorkflow runs the record with the given id to a terminal state and
// returns it. A record that is already running, already executing in another
// process, or terminal is returned unchanged.
//
// Step failures are reported through the returned record. An error is
// returned only when the record cannot be loaded, is malformed, or cannot be
// persisted.
func (e *Executor) ExecuteWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	if !e.acquire(id) {
		e.logger.Info("workflow already running", "workflow_id", id)
		return e.store.Get(ctx, id)
	}
	defer e.release(id)

	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.Status != models.WorkflowStatusCreated {
		return record, nil
	}
	return e.run(ctx, record)
}

// run holds the state of one execution.
type runState struct {
	record      *models.WorkflowRecord
	ledger      *proof.Ledger
	transferIDs []string
}

func (e *Executor) run(ctx context.Context, record *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	r := &runState{record: record, ledger: proof.NewLedger()}

	if err := record.Start(e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, record); err != nil {
		return nil, err
	}
	e.logger.Info("workflow started", "workflow_id", record.ID, "steps", len(record.Steps))
	e.publish(ctx, models.Event{
		Type:       models.EventWorkflowStarted,
		WorkflowID: record.ID,
		Steps:      models.Summaries(record),
	})

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watch := newWatchGroup(watchCtx)

	for i, step := range record.Steps {
		if i > 0 {
			if err := sleep(ctx, e.stepDelay); err != nil {
				return e.cancelled(ctx, r, watch, stopWatch, -1, time.Time{})
			}
		}
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, r, watch, stopWatch, -1, time.Time{})
		}
		if err := record.Advance(i, e.now().UTC()); err != nil {
			return nil, err
		}

		if step.Condition != "" && !e.evaluator.Satisfied(ctx, step.Condition, r.ledger) {
			now := e.now().UTC()
			res := models.StepResult{
				Status:     models.StepStatusSkipped,
				Reason:     "condition not satisfied: " + step.Condition,
				StartedAt:  now,
				FinishedAt: now,
			}
			if err := e.finishStep(ctx, r, i, step, res); err != nil {
				return nil, err
			}
			continue
		}

		started := e.now().UTC()
		e.publishStep(ctx, record.ID, step, models.StepUpdate{Status: models.StepStatusRunning, StartTime: &started})

		res, err := e.dispatch(ctx, r, i, step, watch)
		res.StartedAt = started
		res.FinishedAt = e.now().UTC()

		if err != nil && ctx.Err() != nil {
			return e.cancelled(ctx, r, watch, stopWatch, i, started)
		}
		if err != nil {
			res.Status = models.StepStatusFailed
			res.Error = err.Error()
			if err := e.finishStep(ctx, r, i, step, res); err != nil {
				return nil, err
			}
			if step.IsCritical() || errors.Is(err, ErrUnknownStepType) {
				stopWatch()
				watch.Wait()
				return e.fail(ctx, r, fmt.Sprintf("step %d (%s) failed: %v", i, step.Type, err))
			}
			e.logger.Warn("non-critical step failed", "workflow_id", record.ID, "step", i, "error", err)
			continue
		}
		if res.Status == "" {
			res.Status = models.StepStatusCompleted
		}
		if err := e.finishStep(ctx, r, i, step, res); err != nil {
			return nil, err
		}
	}

	watch.Wait()
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, r, watch, stopWatch, -1, time.Time{})
	}

	if err := record.Complete(e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, record); err != nil {
		return nil, err
	}
	e.countRun(ctx, record.Status)
	e.logger.Info("workflow completed", "workflow_id", record.ID)
	e.publishCompleted(ctx, r, true, "")
	return record, nil
}

// finishStep records the outcome of step i, persists and reports it.
func (e *Executor) finishStep(ctx context.Context, r *runState, i int, step models.Step, res models.StepResult) error {
	if err := r.record.RecordResult(i, res, res.FinishedAt); err != nil {
		return err
	}
	if err := e.persist(ctx, r.record); err != nil {
		return err
	}
	e.countStep(ctx, step.Type, res.Status)

	update := models.StepUpdate{Status: res.Status, Result: &res}
	if !res.StartedAt.IsZero() {
		update.StartTime = &res.StartedAt
	}
	if !res.FinishedAt.IsZero() {
		update.EndTime = &res.FinishedAt
	}
	if step.Type == models.StepTypeTransfer && res.TransferID != "" {
		update.TransferData = transferData(step, res.TransferID, res.TransferStatus)
	}
	e.publishStep(ctx, r.record.ID, step, update)
	return nil
}

func (e *Executor) fail(ctx context.Context, r *runState, cause string) (*models.WorkflowRecord, error) {
	if err := r.record.Fail(cause, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, r.record); err != nil {
		return nil, err
	}
	e.countRun(ctx, r.record.Status)
	e.logger.Error("workflow failed", "workflow_id", r.record.ID, "error", cause)
	e.publishCompleted(ctx, r, false, cause)
	return r.record, nil
}

// cancelled fails the run after its context ended. When index is a step
// that was interrupted, its result is recorded as failed.
func (e *Executor) cancelled(ctx context.Context, r *runState, watch *watchGroup, stopWatch context.CancelFunc, index int, started time.Time) (*models.WorkflowRecord, error) {
	stopWatch()
	watch.Wait()
	cause := fmt.Sprintf("workflow cancelled: %v", context.Cause(ctx))
	if index >= 0 {
		now := e.now().UTC()
		res := models.StepResult{Status: models.StepStatusFailed, Error: cause, StartedAt: started, FinishedAt: now}
		if err := e.finishStep(ctx, r, index, r.record.Steps[index], res); err != nil {
			return nil, err
		}
	}
	return e.fail(ctx, r, cause)
}

// persist saves the record even when ctx was cancelled so terminal states
// always land.
func (e *Executor) persist(ctx context.Context, record *models.WorkflowRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.Save(ctx, record); err != nil {
		e.logger.Error("persist workflow", "workflow_id", record.ID, "error", err)
		return fmt.Errorf("persist workflow %s: %w", record.ID, err)
	}
	return nil
}

func (e *Executor) countStep(ctx context.Context, typ models.StepType, status models.StepStatus) {
	if e.stepCounter == nil {
		return
	}
	e.stepCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("status", string(status)),
	))
}

func (e *Executor) countRun(ctx context.Context, status models.WorkflowStatus) {
	if e.runCounter == nil {
		return
	}
	e.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
