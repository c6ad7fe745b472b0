package sql_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	reposql "github.com/tigerroll/caseflow/pkg/batch/infrastructure/repository/sql"
)

func makeRecord(id, processID, batchID string, fields model.Fields) *model.Record {
	raw, _ := json.Marshal(fields)
	return model.NewRecord(model.ResourceCase, &model.Batch{ID: batchID, ProcessID: processID},
		model.Item{ID: id, Fields: fields, Raw: raw}, time.Now())
}

func TestUpsertIsIdempotentByNaturalID(t *testing.T) {
	store := reposql.NewRecordStore(newTestConnection(t))
	ctx := context.Background()

	require.NoError(t, store.UpsertRecord(ctx, model.ResourceCase, makeRecord("C-1", "p1", "b1", model.Fields{"case_number": "A"})))
	require.NoError(t, store.UpsertRecord(ctx, model.ResourceCase, makeRecord("C-1", "p1", "b2", model.Fields{"case_number": "B"})))

	count, err := store.CountRecords(ctx, model.ResourceCase, repository.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recs, err := store.BulkFetch(ctx, model.ResourceCase, []string{"C-1", "C-404"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "B", recs[0].Fields.String("case_number"))
	assert.Equal(t, "b2", recs[0].BatchID)
	assert.JSONEq(t, `{"case_number":"B"}`, string(recs[0].RawPayload))
}

func TestExistingNaturalIDs(t *testing.T) {
	store := reposql.NewRecordStore(newTestConnection(t))
	ctx := context.Background()
	require.NoError(t, store.UpsertRecord(ctx, model.ResourceCase, makeRecord("C-1", "p", "b", model.Fields{})))

	found, err := store.ExistingNaturalIDs(ctx, model.ResourceCase, []string{"C-1", "C-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"C-1": true}, found)

	found, err = store.ExistingNaturalIDs(ctx, model.ResourceCase, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestVerificationColumns(t *testing.T) {
	store := reposql.NewRecordStore(newTestConnection(t))
	ctx := context.Background()
	for _, id := range []string{"C-1", "C-2", "C-3"} {
		require.NoError(t, store.UpsertRecord(ctx, model.ResourceCase, makeRecord(id, "p", "b", model.Fields{"id": id})))
	}

	first, err := store.ListRecordChunk(ctx, model.ResourceCase, repository.RecordFilter{ProcessID: "p"}, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := store.ListRecordChunk(ctx, model.ResourceCase, repository.RecordFilter{ProcessID: "p"}, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "C-3", rest[0].NaturalID)

	now := time.Now()
	msg := "status mismatch"
	first[0].VerificationStatus = model.VerificationVerified
	first[0].VerifiedAt = &now
	first[1].VerificationStatus = model.VerificationFailed
	first[1].VerifiedAt = &now
	first[1].VerificationError = &msg
	require.NoError(t, store.UpdateVerification(ctx, model.ResourceCase, first[0]))
	require.NoError(t, store.UpdateVerification(ctx, model.ResourceCase, first[1]))

	open, err := store.CountRecords(ctx, model.ResourceCase, repository.RecordFilter{
		ProcessID: "p", Statuses: []model.VerificationStatus{model.VerificationFailed, model.VerificationPending},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), open)

	rows, err := store.ResetVerification(ctx, model.ResourceCase, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
	pending, err := store.CountRecords(ctx, model.ResourceCase, repository.RecordFilter{Statuses: []model.VerificationStatus{model.VerificationPending}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)
}

func TestSampleAndTruncate(t *testing.T) {
	store := reposql.NewRecordStore(newTestConnection(t))
	ctx := context.Background()
	for _, id := range []string{"C-1", "C-2", "C-3", "C-4"} {
		require.NoError(t, store.UpsertRecord(ctx, model.ResourceCase, makeRecord(id, "p", "b", model.Fields{})))
	}

	sample, err := store.SampleRecords(ctx, model.ResourceCase, "p", 2)
	require.NoError(t, err)
	assert.Len(t, sample, 2)

	empty, err := store.SampleRecords(ctx, model.ResourceClient, "p", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.TruncateRecords(ctx, model.ResourceCase))
	count, err := store.CountRecords(ctx, model.ResourceCase, repository.RecordFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnknownResourceType(t *testing.T) {
	store := reposql.NewRecordStore(newTestConnection(t))
	_, err := store.CountRecords(context.Background(), model.ResourceType("INVOICE"), repository.RecordFilter{})
	assert.Error(t, err)
}
