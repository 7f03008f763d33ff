package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

const maxSaveAttempts = 5

// RedisWorkflowStore keeps each record as a JSON string and indexes ids in a
// sorted set scored by creation time.
type RedisWorkflowStore struct {
	client *redis.Client
	prefix string
}

// NewRedisWorkflowStore creates a store using keys under prefix.
func NewRedisWorkflowStore(client *redis.Client, prefix string) *RedisWorkflowStore {
	if prefix == "" {
		prefix = "workflow"
	}
	return &RedisWorkflowStore{client: client, prefix: prefix}
}

func (s *RedisWorkflowStore) key(id string) string {
	return s.prefix + ":record:" + id
}

func (s *RedisWorkflowStore) indexKey() string {
	return s.prefix + ":index"
}

// Create stores a new record.
func (s *RedisWorkflowStore) Create(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", record.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(record.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, record.ID)
	}
	return s.client.ZAdd(ctx, s.indexKey(), &redis.Z{
		Score:  float64(record.CreatedAt.UnixMicro()),
		Member: record.ID,
	}).Err()
}

// Get retrieves a record by its ID.
func (s *RedisWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Save replaces a stored record using optimistic locking on its key.
func (s *RedisWorkflowStore) Save(ctx context.Context, record *models.WorkflowRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", record.ID, err)
	}
	key := s.key(record.ID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
		}
		if err != nil {
			return err
		}
		stored, err := decodeRecord(current)
		if err != nil {
			return err
		}
		if err := checkReplace(stored); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxSaveAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("save workflow %s: too much contention", record.ID)
}

// List returns records newest first.
func (s *RedisWorkflowStore) List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*models.WorkflowRecord, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
