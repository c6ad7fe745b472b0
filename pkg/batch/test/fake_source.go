package test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

// FakeSource is an in-memory port.SourceClient whose failures can be scripted.
type FakeSource struct {
	mu    sync.Mutex
	items map[model.ResourceType][]model.Item
	// failing ids return an item-level error from FetchByID.
	failing map[string]bool
	// timingOut ids fail from FetchByID as if the request timed out.
	timingOut map[string]bool
	// unavailable makes every call fail as if the source were unreachable.
	unavailable bool
	// reportedTotal overrides the total count of searches when >= 0.
	reportedTotal int64
	fetches       map[string]int
	searches      int
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		items:         map[model.ResourceType][]model.Item{},
		failing:       map[string]bool{},
		timingOut:     map[string]bool{},
		fetches:       map[string]int{},
		reportedTotal: -1,
	}
}

// Add appends items of rt.
func (s *FakeSource) Add(rt model.ResourceType, items ...model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rt] = append(s.items[rt], items...)
}

// Set replaces the fields of an existing item.
func (s *FakeSource) Set(rt model.ResourceType, id string, fields model.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items[rt] {
		if s.items[rt][i].ID == id {
			s.items[rt][i].Fields = fields
		}
	}
}

// Fail makes FetchByID fail for ids.
func (s *FakeSource) Fail(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failing[id] = true
	}
}

// Timeout makes FetchByID fail for ids with a source-unavailable error.
func (s *FakeSource) Timeout(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.timingOut[id] = true
	}
}

// Heal clears every scripted failure.
func (s *FakeSource) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = map[string]bool{}
	s.timingOut = map[string]bool{}
	s.unavailable = false
}

// SetUnavailable toggles source-wide unavailability.
func (s *FakeSource) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// ReportTotal makes searches report total regardless of the stored items.
func (s *FakeSource) ReportTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportedTotal = total
}

// Fetches returns how often id was fetched.
func (s *FakeSource) Fetches(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

// Searches returns the number of Search calls.
func (s *FakeSource) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// FetchByID implements port.SourceClient.
func (s *FakeSource) FetchByID(ctx context.Context, rt model.ResourceType, id string) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	if s.unavailable {
		return nil, &exception.SourceUnavailableError{Op: "FetchByID", Err: errors.New("connection refused")}
	}
	if s.timingOut[id] {
		return nil, &exception.SourceUnavailableError{Op: "FetchByID", Err: errors.New("timeout")}
	}
	if s.failing[id] {
		return nil, fmt.Errorf("fetch %s: scripted failure", id)
	}
	for _, it := range s.items[rt] {
		if it.ID == id {
			cp := it
			cp.Fields = copyFields(it.Fields)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("fetch %s %s: %w", rt, id, exception.ErrNotFound)
}

// Search implements port.SourceClient. Filters match on equal string fields.
func (s *FakeSource) Search(ctx context.Context, rt model.ResourceType, filters model.Filters, pageIndex, pageSize int) (*port.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if s.unavailable {
		return nil, &exception.SourceUnavailableError{Op: "Search", Err: errors.New("connection refused")}
	}
	var matched []model.Item
	for _, it := range s.items[rt] {
		ok := true
		for k, v := range filters {
			if it.Fields.String(k) != v {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, it)
		}
	}
	total := int64(len(matched))
	if s.reportedTotal >= 0 {
		total = s.reportedTotal
	}
	lo := (pageIndex - 1) * pageSize
	if lo < 0 || lo >= len(matched) {
		return &port.SearchResult{Items: []model.Item{}, TotalCount: total}, nil
	}
	hi := lo + pageSize
	if hi > len(matched) {
		hi = len(matched)
	}
	page := make([]model.Item, 0, hi-lo)
	for _, it := range matched[lo:hi] {
		cp := it
		cp.Fields = copyFields(it.Fields)
		page = append(page, cp)
	}
	return &port.SearchResult{Items: page, TotalCount: total}, nil
}

func copyFields(f model.Fields) model.Fields {
	out := make(model.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

var _ port.SourceClient = (*FakeSource)(nil)
