package archive_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"

	storageAdapter "github.com/tigerroll/caseflow/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/caseflow/pkg/batch/component/archive"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/test"
)

func newArchive(t *testing.T, enabled bool) (*archive.PayloadArchive, storageAdapter.StorageConnection) {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: t.TempDir()}, "archive")
	require.NoError(t, err)
	a, err := archive.NewPayloadArchive(func(context.Context) (storageAdapter.StorageExecutor, error) {
		return conn, nil
	}, archive.Options{Enabled: enabled, Bucket: "raw", Prefix: "payloads", Compression: "SNAPPY"})
	require.NoError(t, err)
	return a, conn
}

func decode(t *testing.T, data []byte) []archive.PayloadRow {
	t.Helper()
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(archive.PayloadRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]archive.PayloadRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestArchiveUploadsStoredItemsPerAttempt(t *testing.T) {
	a, conn := newArchive(t, true)
	ctx := context.Background()
	batch := &model.Batch{ID: "b-1", ProcessID: "p-1", ResourceType: model.ResourceCase, BatchNumber: 3, Attempts: 2}
	items := test.NewTestItems(model.ResourceCase, "K", 3)

	a.BeforeBatch(ctx, batch)
	for i := range items {
		a.OnItemStored(ctx, batch, &items[i])
	}
	a.OnItemFailed(ctx, batch, "K-9", errors.New("boom"))
	a.AfterBatch(ctx, batch, model.BatchResult{Processed: 3, Failed: 1}, nil)

	name := a.ObjectName(batch)
	assert.Equal(t, "payloads/resource_type=CASE/process_id=p-1/batch-00003-attempt-2.parquet", name)

	r, err := conn.Download(ctx, "raw", name)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	rows := decode(t, data)
	require.Len(t, rows, 3)
	assert.Equal(t, "K-1", rows[0].NaturalID)
	assert.Equal(t, "CASE", rows[0].ResourceType)
	assert.EqualValues(t, 3, rows[0].BatchNumber)
	assert.EqualValues(t, 2, rows[0].Attempt)
	assert.JSONEq(t, string(items[0].Raw), rows[0].Payload)

	names, err := a.List(ctx, model.ResourceCase, "p-1")
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)
}

func TestArchiveSkipsEmptyBatches(t *testing.T) {
	a, _ := newArchive(t, true)
	ctx := context.Background()
	batch := &model.Batch{ID: "b-1", ProcessID: "p-1", ResourceType: model.ResourceClient, BatchNumber: 1, Attempts: 1}
	a.AfterBatch(ctx, batch, model.BatchResult{}, nil)

	names, err := a.List(ctx, model.ResourceClient, "p-1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDisabledArchiveDoesNothing(t *testing.T) {
	a, _ := newArchive(t, false)
	ctx := context.Background()
	batch := &model.Batch{ID: "b-1", ProcessID: "p-1", ResourceType: model.ResourceClient, BatchNumber: 1, Attempts: 1}
	item := test.NewTestItem(model.ResourceClient, "C-1", nil)
	a.OnItemStored(ctx, batch, &item)
	a.AfterBatch(ctx, batch, model.BatchResult{Processed: 1}, nil)

	names, err := a.List(ctx, model.ResourceClient, "p-1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestArchiveFailuresAreSwallowed(t *testing.T) {
	a, err := archive.NewPayloadArchive(func(context.Context) (storageAdapter.StorageExecutor, error) {
		return nil, errors.New("bucket unreachable")
	}, archive.Options{Enabled: true})
	require.NoError(t, err)
	batch := &model.Batch{ID: "b-1", ProcessID: "p-1", ResourceType: model.ResourceClient, BatchNumber: 1, Attempts: 1}
	item := test.NewTestItem(model.ResourceClient, "C-1", nil)
	a.OnItemStored(context.Background(), batch, &item)
	assert.NotPanics(t, func() { a.AfterBatch(context.Background(), batch, model.BatchResult{Processed: 1}, nil) })
}

func TestInvalidCompression(t *testing.T) {
	_, err := archive.NewPayloadArchive(nil, archive.Options{Compression: "LZ4"})
	assert.Error(t, err)
}
