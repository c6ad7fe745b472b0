package partitioner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/component/partitioner"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/test"
)

func TestPlanPagesWithShortLastBatch(t *testing.T) {
	p := model.NewProcess("Clients", model.ResourceClient, nil, nil, 100, 2, 250)
	batches, err := partitioner.Plan(p, 250, 100)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	for i, b := range batches {
		assert.Equal(t, i+1, b.BatchNumber)
		assert.Equal(t, i+1, b.PageIndex)
		assert.Equal(t, 100, b.PageSize)
		assert.Equal(t, model.BatchPending, b.Status)
		assert.Equal(t, p.ID, b.ProcessID)
		assert.True(t, b.IsPageBatch())
	}
	assert.Equal(t, []int{100, 100, 50}, []int{batches[0].ItemsRequested, batches[1].ItemsRequested, batches[2].ItemsRequested})
}

func TestPlanCoversEveryIDExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ count, size int }{{1, 1}, {7, 3}, {10, 10}, {11, 10}, {99, 7}, {5, 50}} {
		ids := make([]string, tc.count)
		for i := range ids {
			ids[i] = fmt.Sprintf("id-%d", i)
		}
		p := model.NewProcess("Enrich", model.ResourceEnrichedCase, nil, ids, tc.size, 1, int64(tc.count))

		batches, err := partitioner.Plan(p, int64(tc.count), tc.size)
		require.NoError(t, err)
		assert.Len(t, batches, (tc.count+tc.size-1)/tc.size)

		seen := map[string]int{}
		var ordered []string
		for _, b := range batches {
			assert.LessOrEqual(t, len(b.ItemIDs), tc.size)
			assert.Equal(t, len(b.ItemIDs), b.ItemsRequested)
			for _, id := range b.ItemIDs {
				seen[id]++
				ordered = append(ordered, id)
			}
		}
		assert.Equal(t, ids, ordered, "count=%d size=%d", tc.count, tc.size)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	}
}

func TestPlanPagesCoverEveryOffsetExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ count, size int }{{1, 1}, {250, 100}, {300, 100}, {13, 4}} {
		p := model.NewProcess("Cases", model.ResourceCase, nil, nil, tc.size, 1, int64(tc.count))
		batches, err := partitioner.Plan(p, int64(tc.count), tc.size)
		require.NoError(t, err)

		covered := make([]int, tc.count)
		for _, b := range batches {
			lo := (b.PageIndex - 1) * b.PageSize
			for off := lo; off < lo+b.ItemsRequested; off++ {
				covered[off]++
			}
		}
		for off, n := range covered {
			assert.Equal(t, 1, n, "offset %d of count=%d size=%d", off, tc.count, tc.size)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	p := model.NewProcess("Cases", model.ResourceCase, nil, []string{"a", "b", "c", "d", "e"}, 2, 1, 5)
	first, err := partitioner.Plan(p, 5, 2)
	require.NoError(t, err)
	second, err := partitioner.Plan(p, 5, 2)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].BatchNumber, second[i].BatchNumber)
		assert.Equal(t, first[i].ItemIDs, second[i].ItemIDs)
	}
}

func TestPlanEdgeCases(t *testing.T) {
	p := model.NewProcess("Empty", model.ResourceCase, nil, nil, 10, 1, 0)
	batches, err := partitioner.Plan(p, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = partitioner.Plan(p, 10, 0)
	assert.Error(t, err)
	_, err = partitioner.Plan(p, -1, 10)
	assert.Error(t, err)
}

func TestPlanAndSaveRejectsSecondPlan(t *testing.T) {
	repos := test.NewRepositories(t)
	ctx := context.Background()
	p := model.NewProcess("Clients", model.ResourceClient, nil, nil, 100, 2, 250)
	require.NoError(t, repos.Processes.SaveProcess(ctx, p))

	planner := partitioner.NewPlanner(repos.Batches)
	batches, err := planner.PlanAndSave(ctx, p, 250)
	require.NoError(t, err)
	assert.Len(t, batches, 3)

	stored, err := repos.Batches.FindBatchesByProcessID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	_, err = planner.PlanAndSave(ctx, p, 250)
	var planned *exception.AlreadyPlannedError
	require.True(t, errors.As(err, &planned))
	assert.Equal(t, int64(3), planned.Existing)
}
