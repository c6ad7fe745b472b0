package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	reposql "github.com/tigerroll/caseflow/pkg/batch/infrastructure/repository/sql"
)

func seedBatches(t *testing.T, n int) (*reposql.BatchRepository, *model.Process, []*model.Batch) {
	t.Helper()
	conn := newTestConnection(t)
	ctx := context.Background()

	p := model.NewProcess("Clients", model.ResourceClient, nil, nil, 10, 2, int64(n*10))
	require.NoError(t, reposql.NewProcessRepository(conn).SaveProcess(ctx, p))

	now := time.Now()
	batches := make([]*model.Batch, 0, n)
	for i := 1; i <= n; i++ {
		batches = append(batches, &model.Batch{
			ID: model.NewID(), ProcessID: p.ID, ResourceType: p.ResourceType,
			BatchNumber: i, PageIndex: i, PageSize: 10, Status: model.BatchPending,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	repo := reposql.NewBatchRepository(conn)
	require.NoError(t, repo.SaveBatches(ctx, batches))
	return repo, p, batches
}

func TestBatchesListedInNumberOrder(t *testing.T) {
	repo, p, _ := seedBatches(t, 3)
	ctx := context.Background()

	list, err := repo.FindBatchesByProcessID(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, b := range list {
		assert.Equal(t, i+1, b.BatchNumber)
		assert.Equal(t, model.BatchPending, b.Status)
	}

	count, err := repo.CountBatchesByProcessID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestClaimBatchOnlyOnce(t *testing.T) {
	repo, _, batches := seedBatches(t, 1)
	ctx := context.Background()
	id := batches[0].ID

	claimed, err := repo.ClaimBatch(ctx, id, 1, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, model.BatchInProgress, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, 10, claimed.ItemsRequested)

	again, err := repo.ClaimBatch(ctx, id, 1, time.Now())
	require.NoError(t, err)
	assert.Nil(t, again, "an IN_PROGRESS batch is not claimed twice")

	require.NoError(t, claimed.Fail("source unreachable", true, time.Now()))
	require.NoError(t, repo.UpdateBatch(ctx, claimed))
	stored, err := repo.FindBatchByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.AwaitingRedelivery)

	dup, err := repo.ClaimBatch(ctx, id, 1, time.Now())
	require.NoError(t, err)
	assert.Nil(t, dup, "a duplicate delivery of the failed attempt is rejected")

	retry, err := repo.ClaimBatch(ctx, id, 2, time.Now())
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, 2, retry.Attempts)

	stored, err = repo.FindBatchByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.AwaitingRedelivery)
}

func TestDispatchBookkeeping(t *testing.T) {
	repo, p, batches := seedBatches(t, 3)
	ctx := context.Background()
	now := time.Now()

	pending, err := repo.FindUndispatchedPending(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].BatchNumber)

	ok, err := repo.MarkDispatched(ctx, batches[0].ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkDispatched(ctx, batches[0].ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "a batch is dispatched once")

	inFlight, err := repo.CountInFlight(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inFlight)

	pending, err = repo.FindUndispatchedPending(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	claimed, err := repo.ClaimBatch(ctx, batches[0].ID, 1, now)
	require.NoError(t, err)
	require.NoError(t, claimed.Finish(model.BatchResult{Received: 10, Processed: 10}, now))
	require.NoError(t, repo.UpdateBatch(ctx, claimed))

	inFlight, err = repo.CountInFlight(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inFlight, "terminal batches free their slot")

	ok, err = repo.MarkDispatched(ctx, batches[1].ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.ClearDispatched(ctx, batches[1].ID))
	pending, err = repo.FindUndispatchedPending(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestFindBatchPersistsOutcome(t *testing.T) {
	repo, _, batches := seedBatches(t, 1)
	ctx := context.Background()

	claimed, err := repo.ClaimBatch(ctx, batches[0].ID, 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, claimed.Finish(model.BatchResult{Received: 3, Processed: 2, Failed: 1, FailedIDs: []string{"B"}}, time.Now()))
	require.NoError(t, repo.UpdateBatch(ctx, claimed))

	got, err := repo.FindBatchByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartial, got.Status)
	assert.Equal(t, model.StringList{"B"}, got.FailedItemIDs)
	assert.Equal(t, 2, got.ItemsStored)
	assert.NotNil(t, got.CompletedAt)
}
