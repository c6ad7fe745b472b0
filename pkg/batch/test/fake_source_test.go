package test_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/test"
)

func TestFakeSourcePaging(t *testing.T) {
	src := test.NewFakeSource()
	src.Add(model.ResourceClient, test.NewTestItems(model.ResourceClient, "C", 5)...)

	res, err := src.Search(context.Background(), model.ResourceClient, nil, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.TotalCount)
	assert.Equal(t, []string{"C-3", "C-4"}, test.IDs(res.Items))

	res, err = src.Search(context.Background(), model.ResourceClient, nil, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestFakeSourceFailures(t *testing.T) {
	src := test.NewFakeSource()
	src.Add(model.ResourceCase, test.NewTestItem(model.ResourceCase, "K-1", nil))
	src.Fail("K-1")

	_, err := src.FetchByID(context.Background(), model.ResourceCase, "K-1")
	assert.Error(t, err)
	assert.False(t, exception.IsBatchFatal(err))

	_, err = src.FetchByID(context.Background(), model.ResourceCase, "nope")
	assert.True(t, errors.Is(err, exception.ErrNotFound))

	src.SetUnavailable(true)
	_, err = src.Search(context.Background(), model.ResourceCase, nil, 1, 1)
	assert.True(t, exception.IsBatchFatal(err))
	assert.Equal(t, 2, src.Fetches("K-1")+src.Fetches("nope"))
}
