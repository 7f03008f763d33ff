package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const workflowSchema = `CREATE TABLE IF NOT EXISTS workflow_records (
	id UUID PRIMARY KEY,
	status TEXT NOT NULL,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_records_created_at_idx ON workflow_records (created_at DESC);`

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore interface.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// EnsureSchema creates the workflow_records table if it does not exist.
func (s *PostgresWorkflowStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, workflowSchema)
	return err
}

// Create stores a new record.
func (s *PostgresWorkflowStore) Create(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", record.ID, err)
	}
	tag, err := s.db.Exec(ctx,
		"INSERT INTO workflow_records (id, status, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING",
		record.ID, string(record.Status), raw, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, record.ID)
	}
	return nil
}

// Get retrieves a record by its ID.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var raw []byte
	err := s.db.QueryRow(ctx, "SELECT record FROM workflow_records WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Save replaces a stored record. The stored row is locked while the
// terminal check runs.
func (s *PostgresWorkflowStore) Save(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", record.ID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, "SELECT status FROM workflow_records WHERE id = $1 FOR UPDATE", record.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	if err != nil {
		return err
	}
	if models.WorkflowStatus(status).IsTerminal() {
		return fmt.Errorf("workflow %s is %s: %w", record.ID, status, models.ErrTerminal)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE workflow_records SET status = $1, record = $2, updated_at = $3 WHERE id = $4",
		string(record.Status), raw, record.UpdatedAt, record.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns records newest first.
func (s *PostgresWorkflowStore) List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error) {
	query := "SELECT record FROM workflow_records ORDER BY created_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.WorkflowRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func decodeRecord(raw []byte) (*models.WorkflowRecord, error) {
	var r models.WorkflowRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode workflow record: %w", err)
	}
	if r.Results == nil {
		r.Results = make(map[int]models.StepResult)
	}
	return &r, nil
}
