package test

import (
	"fmt"
	"time"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// NewTestItem builds a source item for rt whose natural id field is id.
func NewTestItem(rt model.ResourceType, id string, fields map[string]interface{}) model.Item {
	d := rt.MustDescriptor()
	f := model.Fields{d.NaturalIDField: id}
	for k, v := range fields {
		f[k] = v
	}
	raw := fmt.Sprintf(`{%q:%q}`, d.NaturalIDField, id)
	return model.Item{ID: id, Fields: f, Raw: model.RawPayload(raw)}
}

// NewTestItems builds n items with ids prefix-1..prefix-n.
func NewTestItems(rt model.ResourceType, prefix string, n int) []model.Item {
	items := make([]model.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, NewTestItem(rt, fmt.Sprintf("%s-%d", prefix, i), map[string]interface{}{"status": "active"}))
	}
	return items
}

// NewTestRecord builds a stored record for rt from item.
func NewTestRecord(rt model.ResourceType, processID string, item model.Item) *model.Record {
	batch := &model.Batch{ID: "fixture", ProcessID: processID}
	return model.NewRecord(rt, batch, item, time.Now())
}

// IDs returns the ids of items in order.
func IDs(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
