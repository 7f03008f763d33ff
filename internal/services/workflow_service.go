package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/parser"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/repository"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

var (
	ErrEmptyCommand  = errors.New("command is empty")
	ErrNoSteps       = errors.New("workflow has no steps")
	ErrNotExecutable = errors.New("workflow is not in the created state")
	ErrShuttingDown  = errors.New("service is shutting down")
)

// WorkflowService is the front door: it parses commands, creates records
// and hands them to the executor.
type WorkflowService struct {
	store  repository.WorkflowStore
	runner WorkflowRunner
	parser *parser.Parser
	logger Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.WorkflowStore, runner WorkflowRunner, logger Logger) *WorkflowService {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkflowService{
		store:    store,
		runner:   runner,
		parser:   parser.New(),
		logger:   logger,
		runCtx:   ctx,
		stopRuns: cancel,
	}
}

// Parse compiles a command without storing anything.
func (s *WorkflowService) Parse(text string) parser.Result {
	return s.parser.Parse(text)
}

// Submit parses text and stores the resulting workflow.
func (s *WorkflowService) Submit(ctx context.Context, text, createdBy string) (*models.WorkflowRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCommand
	}
	res := s.parser.Parse(text)
	if len(res.Steps) == 0 {
		return nil, fmt.Errorf("%w: nothing in %q was recognized", ErrNoSteps, text)
	}
	return s.create(ctx, text, res.Steps, res.RequiresProofs, createdBy)
}

// SubmitSteps stores a pre-parsed workflow.
func (s *WorkflowService) SubmitSteps(ctx context.Context, description string, steps []models.Step, createdBy string) (*models.WorkflowRecord, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	requiresProofs := false
	for _, st := range steps {
		if st.Type == models.StepTypeProofGeneration || st.Type == models.StepTypeVerification {
			requiresProofs = true
		}
	}
	return s.create(ctx, description, steps, requiresProofs, createdBy)
}

func (s *WorkflowService) create(ctx context.Context, description string, steps []models.Step, requiresProofs bool, createdBy string) (*models.WorkflowRecord, error) {
	record := models.NewWorkflowRecord(description, steps, requiresProofs)
	record.CreatedBy = createdBy
	if err := s.store.Create(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("workflow created", "workflow_id", record.ID, "steps", len(record.Steps), "created_by", createdBy)
	return record, nil
}

// Execute runs a workflow and waits for it to finish.
func (s *WorkflowService) Execute(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	if err := s.track(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()
	return s.runner.ExecuteWorkflow(ctx, id)
}

// ExecuteAsync starts a workflow in the background and returns the record
// as it was before the run. Background runs outlive the request that
// started them and are stopped only by Shutdown.
func (s *WorkflowService) ExecuteAsync(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.WorkflowStatusCreated {
		return record, fmt.Errorf("%w: %s is %s", ErrNotExecutable, id, record.Status)
	}
	if err := s.track(); err != nil {
		return nil, err
	}
	go func() {
		defer s.inflight.Done()
		if _, err := s.runner.ExecuteWorkflow(s.runCtx, id); err != nil {
			s.logger.Error("background workflow run", "workflow_id", id, "error", err)
		}
	}()
	return record, nil
}

// Get retrieves a workflow record.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit records, newest first.
func (s *WorkflowService) List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error) {
	return s.store.List(ctx, limit)
}

// Shutdown stops accepting runs and waits for in-flight runs. If ctx ends
// first, background runs are cancelled, which records them as failed, and
// Shutdown waits for that to land.
func (s *WorkflowService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stopRuns()
		return nil
	case <-ctx.Done():
		s.logger.Warn("cancelling in-flight workflows")
		s.stopRuns()
		<-done
		return ctx.Err()
	}
}

func (s *WorkflowService) track() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrShuttingDown
	}
	s.inflight.Add(1)
	return nil
}
