package source_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/source"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestExtractTotalCount(t *testing.T) {
	cases := map[string]int64{
		`{"totalCount": 250}`:                 250,
		`{"total_count": 7}`:                  7,
		`{"total": "12"}`:                     12,
		`{"count": 3}`:                        3,
		`{"meta": {"total": 40}}`:             40,
		`{"pagination": {"total": 9}}`:        9,
		`{"data": {"totalCount": 5}}`:         5,
		`{"meta": {"pages": 2}}`:              0,
		`{"total": "n/a", "count": 4}`:        4,
		`{"totalCount": 1, "total_count": 2}`: 1,
	}
	for body, want := range cases {
		assert.Equal(t, want, source.ExtractTotalCount(decode(t, body)), body)
	}
}

func TestExtractItems(t *testing.T) {
	items, err := source.ExtractItems(json.RawMessage(`{"results": [{"id": 1}, {"id": 2}]}`))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = source.ExtractItems(json.RawMessage(`[{"id": 1}]`))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = source.ExtractItems(json.RawMessage(`{"data": {"totalCount": 0}, "records": []}`))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = source.ExtractItems(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestDecodeItem(t *testing.T) {
	d := model.ResourceCase.MustDescriptor()

	item, err := source.DecodeItem(d, json.RawMessage(`{"case_id": 42, "status": "open"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", item.ID)
	assert.Equal(t, "open", item.Fields.String("status"))
	assert.JSONEq(t, `{"case_id": 42, "status": "open"}`, string(item.Raw))

	item, err = source.DecodeItem(d, json.RawMessage(`{"data": {"case_id": "C-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "C-1", item.ID)

	item, err = source.DecodeItem(d, json.RawMessage(`{"id": "X"}`))
	require.NoError(t, err)
	assert.Equal(t, "X", item.ID)

	_, err = source.DecodeItem(d, json.RawMessage(`{"status": "open"}`))
	assert.Error(t, err)
}
