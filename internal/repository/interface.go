package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

var (
	ErrNotFound      = errors.New("workflow record not found")
	ErrAlreadyExists = errors.New("workflow record already exists")
	ErrInvalidID     = errors.New("invalid workflow id")
)

// WorkflowStore persists workflow records. Every implementation stores the
// full record on create and on every mutation and offers read-after-write
// consistency within a process.
type WorkflowStore interface {
	// Create stores a new record. It fails with ErrAlreadyExists if the id
	// is taken.
	Create(ctx context.Context, record *models.WorkflowRecord) error
	// Get retrieves a record by its ID.
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	// Save replaces a stored record. Terminal records are frozen and
	// saving over one fails with models.ErrTerminal.
	Save(ctx context.Context, record *models.WorkflowRecord) error
	// List returns up to limit records, newest first. A limit <= 0
	// returns every record.
	List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error)
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func checkRecord(record *models.WorkflowRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return checkID(record.ID)
}

// checkReplace rejects overwriting a frozen record.
func checkReplace(stored *models.WorkflowRecord) error {
	if stored.IsTerminal() {
		return fmt.Errorf("workflow %s is %s: %w", stored.ID, stored.Status, models.ErrTerminal)
	}
	return nil
}

func newestFirst(records []*models.WorkflowRecord, limit int) []*models.WorkflowRecord {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
