package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

func TestResourceDescriptors(t *testing.T) {
	tables := map[string]bool{}
	for _, rt := range model.AllResourceTypes {
		d, ok := rt.Descriptor()
		require.True(t, ok, rt)
		assert.NotEmpty(t, d.NaturalIDField, rt)
		assert.NotEmpty(t, d.VerifiedFields, rt)
		assert.False(t, tables[d.Table], "duplicate table %s", d.Table)
		tables[d.Table] = true
		if d.Enrichment {
			assert.True(t, d.ShallowOf.Valid(), rt)
		}
	}

	_, ok := model.ResourceType("INVOICE").Descriptor()
	assert.False(t, ok)
}

func TestParseResourceType(t *testing.T) {
	rt, err := model.ParseResourceType(" enriched_case ")
	require.NoError(t, err)
	assert.Equal(t, model.ResourceEnrichedCase, rt)

	_, err = model.ParseResourceType("invoice")
	assert.Error(t, err)
}

func TestProcessTransitions(t *testing.T) {
	p := model.NewProcess("Clients", model.ResourceClient, nil, nil, 100, 2, 250)
	assert.Equal(t, model.ProcessPending, p.Status)

	now := time.Now()
	require.NoError(t, p.MarkStarted(now))
	started := *p.StartedAt
	require.NoError(t, p.MarkStarted(now.Add(time.Minute)))
	assert.Equal(t, started, *p.StartedAt, "started_at is stamped once")

	require.NoError(t, p.MarkCompleted(now))
	assert.Equal(t, model.ProcessCompleted, p.Status)

	err := p.MarkCancelled(now)
	var transition *exception.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, "COMPLETED", transition.From)
	assert.Equal(t, model.ProcessCompleted, p.Status)

	require.NoError(t, p.Reopen())
	assert.Equal(t, model.ProcessInProgress, p.Status)
	assert.Nil(t, p.CompletedAt)
}

func TestProcessTerminalStatesCannotBeLeft(t *testing.T) {
	p := model.NewProcess("Cases", model.ResourceCase, nil, nil, 10, 1, 10)
	require.NoError(t, p.MarkCancelled(time.Now()))

	assert.Error(t, p.TransitionTo(model.ProcessInProgress))
	assert.Error(t, p.TransitionTo(model.ProcessCompleted))
	assert.Error(t, p.Reopen())
}

func TestBatchLifecycle(t *testing.T) {
	b := &model.Batch{ID: "b-1", Status: model.BatchPending, ItemIDs: model.StringList{"A", "B", "C"}}
	now := time.Now()

	require.NoError(t, b.Start(now))
	assert.Equal(t, 1, b.Attempts)
	assert.Equal(t, 3, b.ItemsRequested)

	require.NoError(t, b.Finish(model.BatchResult{Received: 2, Processed: 2, Failed: 1, FailedIDs: []string{"B"}}, now))
	assert.Equal(t, model.BatchPartial, b.Status)
	assert.Equal(t, model.StringList{"B"}, b.FailedItemIDs)
	assert.LessOrEqual(t, b.ItemsStored, b.ItemsReceived)
	assert.LessOrEqual(t, b.ItemsReceived, b.ItemsRequested)

	assert.Error(t, b.Start(now), "a terminal PARTIAL batch cannot be claimed again")
}

func TestBatchFailAndReset(t *testing.T) {
	b := &model.Batch{ID: "b-2", Status: model.BatchPending, PageIndex: 2, PageSize: 50}
	now := time.Now()
	require.NoError(t, b.Start(now))
	require.NoError(t, b.Fail("source unreachable", false, now))
	assert.Equal(t, model.BatchFailed, b.Status)
	assert.NotNil(t, b.CompletedAt)

	require.NoError(t, b.ResetForRetry())
	assert.Equal(t, model.BatchPending, b.Status)
	assert.Empty(t, b.ErrorMessage)
	assert.Nil(t, b.CompletedAt)
	assert.Equal(t, 1, b.Attempts, "attempt history survives a reset for retry")

	b.Reset()
	assert.Equal(t, 0, b.Attempts)
}

func TestBatchAwaitingRedeliveryIsNotSettled(t *testing.T) {
	b := &model.Batch{ID: "b-3", Status: model.BatchPending, ItemIDs: model.StringList{"A"}}
	now := time.Now()
	require.NoError(t, b.Start(now))
	require.NoError(t, b.Fail("source unreachable", true, now))
	assert.True(t, b.Status.IsTerminal())
	assert.False(t, b.IsSettled(), "the queue still owns the batch")

	require.NoError(t, b.Start(now))
	assert.False(t, b.AwaitingRedelivery, "a claim consumes the redelivery")
	require.NoError(t, b.Fail("source unreachable", false, now))
	assert.True(t, b.IsSettled())
}

func TestResetForRetryKeepsItemCounters(t *testing.T) {
	b := &model.Batch{ID: "b-4", Status: model.BatchPending, ItemIDs: model.StringList{"A", "B"}}
	now := time.Now()
	require.NoError(t, b.Start(now))
	require.NoError(t, b.Finish(model.BatchResult{Failed: 2, FailedIDs: []string{"A", "B"}}, now))
	require.Equal(t, model.BatchFailed, b.Status)
	b.DispatchedAt = &now

	require.NoError(t, b.ResetForRetry())
	assert.Equal(t, 2, b.ItemsFailed)
	assert.Equal(t, model.StringList{"A", "B"}, b.FailedItemIDs)
	assert.Nil(t, b.DispatchedAt)

	require.NoError(t, b.Start(now))
	require.NoError(t, b.Finish(model.BatchResult{Received: 2, Processed: 2}, now))
	assert.Equal(t, 0, b.ItemsFailed)
	assert.Equal(t, 2, b.ItemsStored)
}

func TestPageLimit(t *testing.T) {
	assert.Equal(t, 100, (&model.Batch{PageIndex: 1, PageSize: 100, ItemsRequested: 100}).PageLimit())
	assert.Equal(t, 50, (&model.Batch{PageIndex: 3, PageSize: 100, ItemsRequested: 50}).PageLimit())
	assert.Equal(t, 100, (&model.Batch{PageIndex: 1, PageSize: 100}).PageLimit())
}

func TestBatchResultStatus(t *testing.T) {
	assert.Equal(t, model.BatchCompleted, model.BatchResult{Processed: 3}.Status())
	assert.Equal(t, model.BatchCompleted, model.BatchResult{}.Status())
	assert.Equal(t, model.BatchPartial, model.BatchResult{Processed: 2, Failed: 1}.Status())
	assert.Equal(t, model.BatchPartial, model.BatchResult{Skipped: 2, Failed: 1}.Status())
	assert.Equal(t, model.BatchFailed, model.BatchResult{Failed: 3}.Status())
}

func TestJSONColumns(t *testing.T) {
	var f model.Filters
	require.NoError(t, f.Scan([]byte(`{"status":"open"}`)))
	assert.Equal(t, "open", f["status"])
	require.NoError(t, f.Scan(nil))
	assert.Empty(t, f)

	v, err := model.StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var l model.StringList
	require.NoError(t, l.Scan(`["A","B"]`))
	assert.Equal(t, model.StringList{"A", "B"}, l)
	assert.Error(t, l.Scan(42))

	var p model.RawPayload
	require.NoError(t, p.Scan([]byte(`{"case_id":"7"}`)))
	assert.JSONEq(t, `{"case_id":"7"}`, string(p))
}

func TestNewRecordExtractsEnrichedReferences(t *testing.T) {
	batch := &model.Batch{ID: "b", ProcessID: "p"}
	item := model.Item{ID: "C-1", Fields: model.Fields{
		"case_number": "2024-001",
		"session_ids": []interface{}{"S-1", "S-2"},
		"client_ids":  []interface{}{float64(42)},
	}}

	rec := model.NewRecord(model.ResourceEnrichedCase, batch, item, time.Now())
	assert.Equal(t, "C-1", rec.NaturalID)
	assert.Equal(t, "p", rec.ProcessID)
	assert.Equal(t, model.VerificationPending, rec.VerificationStatus)
	assert.Equal(t, model.StringList{"S-1", "S-2"}, rec.SessionIDs)
	assert.Equal(t, model.StringList{"42"}, rec.ClientIDs)
	assert.Equal(t, "2024-001", rec.Fields.String("case_number"))
}
