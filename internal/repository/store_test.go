package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

func newRecord(createdAt time.Time) *models.WorkflowRecord {
	r := models.NewWorkflowRecord("generate kyc proof then send 1 to alice", []models.Step{
		{Type: models.StepTypeProofGeneration, Description: "Generate KYC compliance proof", ProofKind: models.ProofKindKYC},
		{Type: models.StepTypeTransfer, Description: "Send 1 USDC to alice on ETH", Transfer: &models.TransferParams{Amount: "1", Recipient: "alice", Chain: models.ChainETH}},
	}, true)
	r.CreatedAt = createdAt
	r.UpdatedAt = createdAt
	return r
}

// testStoreContract exercises behaviour every WorkflowStore must share.
// newStore must return an empty store.
func testStoreContract(t *testing.T, newStore func(t *testing.T) WorkflowStore) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Create and Get", func(t *testing.T) {
		store := newStore(t)
		r := newRecord(base)
		require.NoError(t, store.Create(ctx, r))

		got, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, r.Description, got.Description)
		assert.Equal(t, models.WorkflowStatusCreated, got.Status)
		assert.Equal(t, -1, got.CurrentStepIndex)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "step_1", got.Steps[1].ID)
		assert.Equal(t, models.ChainETH, got.Steps[1].Transfer.Chain)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.NotNil(t, got.Results)
	})

	t.Run("Create duplicate", func(t *testing.T) {
		store := newStore(t)
		r := newRecord(base)
		require.NoError(t, store.Create(ctx, r))
		assert.ErrorIs(t, store.Create(ctx, r), ErrAlreadyExists)
	})

	t.Run("Get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Save progress", func(t *testing.T) {
		store := newStore(t)
		r := newRecord(base)
		require.NoError(t, store.Create(ctx, r))

		now := base.Add(time.Second)
		require.NoError(t, r.Start(now))
		require.NoError(t, r.Advance(0, now))
		require.NoError(t, r.RecordResult(0, models.StepResult{
			Status:    models.StepStatusCompleted,
			ProofID:   "proof_kyc_1700000000000",
			ProofType: models.ProofKindKYC,
		}, now))
		require.NoError(t, store.Save(ctx, r))

		got, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusExecuting, got.Status)
		assert.Equal(t, 0, got.CurrentStepIndex)
		assert.Equal(t, []int{0}, got.CompletedSteps)
		assert.Equal(t, "proof_kyc_1700000000000", got.Results[0].ProofID)
	})

	t.Run("Terminal records are frozen", func(t *testing.T) {
		store := newStore(t)
		r := newRecord(base)
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, r.Fail("oracle unavailable", base))
		require.NoError(t, store.Save(ctx, r))

		r.Error = "rewritten"
		assert.ErrorIs(t, store.Save(ctx, r), models.ErrTerminal)

		got, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "oracle unavailable", got.Error)
	})

	t.Run("Save unknown", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.Save(ctx, newRecord(base)), ErrNotFound)
	})

	t.Run("List newest first", func(t *testing.T) {
		store := newStore(t)
		var ids []string
		for i := 0; i < 3; i++ {
			r := newRecord(base.Add(time.Duration(i) * time.Minute))
			require.NoError(t, store.Create(ctx, r))
			ids = append(ids, r.ID)
		}

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		limited, err := store.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, ids[1], limited[1].ID)
	})

	t.Run("Returned records are copies", func(t *testing.T) {
		store := newStore(t)
		r := newRecord(base)
		require.NoError(t, store.Create(ctx, r))

		got, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		got.Description = "changed"
		got.Results[1] = models.StepResult{Status: models.StepStatusFailed}

		again, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Description, again.Description)
		assert.Empty(t, again.Results)
	})
}

func TestMemoryWorkflowStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) WorkflowStore {
		return NewMemoryWorkflowStore()
	})
}

func TestFileWorkflowStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) WorkflowStore {
		store, err := NewFileWorkflowStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestFileWorkflowStore_LeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileWorkflowStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	r := newRecord(time.Now().UTC())
	require.NoError(t, store.Create(ctx, r))
	require.NoError(t, r.Start(time.Now().UTC()))
	require.NoError(t, store.Save(ctx, r))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{".lock", r.ID + ".json"}, names)
}

func TestFileWorkflowStore_RejectsPathLikeIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileWorkflowStore(filepath.Join(dir, "records"))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../secrets")
	assert.ErrorIs(t, err, ErrNotFound)

	r := newRecord(time.Now().UTC())
	r.ID = "../escape"
	assert.ErrorIs(t, store.Create(context.Background(), r), ErrInvalidID)
}

func TestFileWorkflowStore_ConcurrentSaves(t *testing.T) {
	store, err := NewFileWorkflowStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		r := newRecord(time.Now().UTC())
		require.NoError(t, store.Create(ctx, r))
		ids[i] = r.ID
		wg.Add(1)
		go func(r *models.WorkflowRecord) {
			defer wg.Done()
			now := time.Now().UTC()
			if err := r.Start(now); err != nil {
				t.Error(err)
				return
			}
			if err := store.Save(ctx, r); err != nil {
				t.Error(err)
			}
		}(r)
	}
	wg.Wait()

	for _, id := range ids {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusExecuting, got.Status)
	}
}

func TestMemoryWorkflowStore_RejectsInvalidRecord(t *testing.T) {
	store := NewMemoryWorkflowStore()
	r := newRecord(time.Now().UTC())
	r.Status = "paused"
	assert.Error(t, store.Create(context.Background(), r))
}
