package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const lockRetryDelay = 10 * time.Millisecond

// FileWorkflowStore stores one JSON document per record in a directory.
//
// Writes go to a temporary file that is synced and renamed over the target,
// then the directory is synced. Mutations are serialized by an in-process
// mutex and a lock file shared with other processes using the directory.
type FileWorkflowStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileWorkflowStore creates the directory if needed and returns a store
// rooted at it.
func NewFileWorkflowStore(dir string) (*FileWorkflowStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileWorkflowStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

// Create stores a new record.
func (s *FileWorkflowStore) Create(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		if _, err := os.Stat(s.path(record.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, record.ID)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return s.write(record)
	})
}

// Get retrieves a record by its ID.
func (s *FileWorkflowStore) Get(_ context.Context, id string) (*models.WorkflowRecord, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.read(s.path(id))
}

// Save replaces a stored record.
func (s *FileWorkflowStore) Save(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		stored, err := s.read(s.path(record.ID))
		if err != nil {
			return err
		}
		if err := checkReplace(stored); err != nil {
			return err
		}
		return s.write(record)
	})
}

// List returns records newest first.
func (s *FileWorkflowStore) List(_ context.Context, limit int) ([]*models.WorkflowRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list store directory: %w", err)
	}
	var out []*models.WorkflowRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || checkID(strings.TrimSuffix(name, ".json")) != nil {
			continue
		}
		r, err := s.read(filepath.Join(s.dir, name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return newestFirst(out, limit), nil
}

func (s *FileWorkflowStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileWorkflowStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire store lock: %s", s.lock.Path())
	}
	defer s.lock.Unlock()
	return fn()
}

func (s *FileWorkflowStore) read(path string) (*models.WorkflowRecord, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
	}
	if err != nil {
		return nil, err
	}
	var r models.WorkflowRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if r.Results == nil {
		r.Results = make(map[int]models.StepResult)
	}
	return &r, nil
}

func (s *FileWorkflowStore) write(record *models.WorkflowRecord) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", record.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+record.ID+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(record.ID)); err != nil {
		return err
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
