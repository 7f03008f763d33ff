package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// MemoryWorkflowStore keeps records in process memory. Records are cloned
// on the way in and out so callers never share state with the store.
type MemoryWorkflowStore struct {
	mu      sync.RWMutex
	records map[string]*models.WorkflowRecord
}

// NewMemoryWorkflowStore creates an empty MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{records: make(map[string]*models.WorkflowRecord)}
}

// Create stores a new record.
func (s *MemoryWorkflowStore) Create(_ context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, record.ID)
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// Get retrieves a record by its ID.
func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (*models.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Save replaces a stored record.
func (s *MemoryWorkflowStore) Save(_ context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[record.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	if err := checkReplace(stored); err != nil {
		return err
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// List returns records newest first.
func (s *MemoryWorkflowStore) List(_ context.Context, limit int) ([]*models.WorkflowRecord, error) {
	s.mu.RLock()
	out := make([]*models.WorkflowRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()
	return newestFirst(out, limit), nil
}
