// Package source holds response decoding shared by SourceClient implementations.
package source

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// TotalCountPaths are the key paths probed, in order, for the total match count.
var TotalCountPaths = []string{
	"totalCount",
	"total_count",
	"total",
	"count",
	"meta.total",
	"pagination.total",
	"data.totalCount",
}

// ItemKeys are the keys probed, in order, for the list of entities.
var ItemKeys = []string{"items", "data", "results", "records"}

// ExtractTotalCount returns the first numeric value found under TotalCountPaths, or 0.
func ExtractTotalCount(body map[string]interface{}) int64 {
	for _, path := range TotalCountPaths {
		v, ok := lookup(body, path)
		if !ok {
			continue
		}
		if n, ok := toInt64(v); ok {
			return n
		}
	}
	return 0
}

// ExtractItems returns the raw entity objects of a list response. A body that
// is itself an array is accepted as the list.
func ExtractItems(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode item list: %w", err)
		}
		return list, nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	for _, key := range ItemKeys {
		v, ok := body[key]
		if !ok || len(v) == 0 || string(v) == "null" {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err == nil {
			return list, nil
		}
	}
	return []json.RawMessage{}, nil
}

// DecodeItem turns one entity object into an Item keyed by the descriptor's
// natural id field, falling back to "id". A single-entity response wrapped
// in "data" is unwrapped.
func DecodeItem(d model.ResourceDescriptor, raw json.RawMessage) (*model.Item, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s entity: %w", d.Type, err)
	}
	if inner, ok := fields["data"].(map[string]interface{}); ok && naturalID(d, fields) == "" {
		fields = inner
		if b, err := json.Marshal(inner); err == nil {
			raw = b
		}
	}
	id := naturalID(d, fields)
	if id == "" {
		return nil, fmt.Errorf("%s entity has no %q or \"id\" field", d.Type, d.NaturalIDField)
	}
	return &model.Item{
		ID:     id,
		Fields: model.Fields(fields),
		Raw:    model.RawPayload(append([]byte(nil), raw...)),
	}, nil
}

func naturalID(d model.ResourceDescriptor, fields map[string]interface{}) string {
	f := model.Fields(fields)
	if id := f.String(d.NaturalIDField); id != "" {
		return id
	}
	return f.String("id")
}

func lookup(body map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = body
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 || math.IsNaN(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil && n >= 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil && n >= 0
	}
	return 0, false
}
