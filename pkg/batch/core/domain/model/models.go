// Package model holds the domain entities of a migration or enrichment run:
// processes, their batches and the records they store.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

// NewID returns a new surrogate identifier.
func NewID() string {
	return uuid.New().String()
}

// Filters are opaque key/value pairs passed through to source searches.
type Filters map[string]string

// Value implements driver.Valuer.
func (f Filters) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (f *Filters) Scan(value interface{}) error {
	b, err := scanBytes("Filters", value)
	if err != nil {
		return err
	}
	*f = make(Filters)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, f); err != nil {
		return fmt.Errorf("failed to unmarshal Filters JSON: %w", err)
	}
	return nil
}

// StringList is an ordered list of identifiers stored as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	b, err := scanBytes("StringList", value)
	if err != nil {
		return err
	}
	*l = StringList{}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, l); err != nil {
		return fmt.Errorf("failed to unmarshal StringList JSON: %w", err)
	}
	return nil
}

// Fields is the denormalized field set of a record.
type Fields map[string]interface{}

// Value implements driver.Valuer.
func (f Fields) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (f *Fields) Scan(value interface{}) error {
	b, err := scanBytes("Fields", value)
	if err != nil {
		return err
	}
	*f = make(Fields)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, f); err != nil {
		return fmt.Errorf("failed to unmarshal Fields JSON: %w", err)
	}
	return nil
}

// RawPayload is the verbatim source response for one item.
type RawPayload json.RawMessage

// Value implements driver.Valuer.
func (p RawPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "null", nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *RawPayload) Scan(value interface{}) error {
	b, err := scanBytes("RawPayload", value)
	if err != nil {
		return err
	}
	*p = append((*p)[:0], b...)
	return nil
}

// MarshalJSON emits the payload unchanged.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of data.
func (p *RawPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

func scanBytes(typeName string, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported Scan type for %s: %T", typeName, value)
	}
}

// Process is one end-to-end migration or enrichment run over a resource type.
type Process struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ResourceType ResourceType  `json:"resource_type"`
	Status       ProcessStatus `json:"status"`
	// TotalItems is fixed at creation.
	TotalItems int64   `json:"total_items"`
	Filters    Filters `json:"filters"`
	// ItemIDs is the known id list for enrichment runs; empty for paged runs.
	ItemIDs          StringList `json:"item_ids,omitempty"`
	BatchSize        int        `json:"batch_size"`
	ConcurrencyLimit int        `json:"concurrency_limit"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	// PausedAt is set while a soft pause is requested.
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewProcess creates a PENDING process.
func NewProcess(name string, rt ResourceType, filters Filters, itemIDs []string, batchSize, concurrencyLimit int, totalItems int64) *Process {
	now := time.Now()
	if filters == nil {
		filters = Filters{}
	}
	return &Process{
		ID:               NewID(),
		Name:             name,
		ResourceType:     rt,
		Status:           ProcessPending,
		TotalItems:       totalItems,
		Filters:          filters,
		ItemIDs:          StringList(itemIDs),
		BatchSize:        batchSize,
		ConcurrencyLimit: concurrencyLimit,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsPaused reports whether a soft pause is in effect.
func (p *Process) IsPaused() bool {
	return p.PausedAt != nil
}

// TransitionTo moves the process forward, rejecting invalid moves.
func (p *Process) TransitionTo(next ProcessStatus) error {
	if p.Status == next {
		return nil
	}
	if !isValidProcessTransition(p.Status, next) {
		return &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: string(next)}
	}
	p.Status = next
	p.UpdatedAt = time.Now()
	return nil
}

// MarkStarted moves the process to IN_PROGRESS and stamps started_at once.
func (p *Process) MarkStarted(now time.Time) error {
	if err := p.TransitionTo(ProcessInProgress); err != nil {
		return err
	}
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	return nil
}

// MarkCompleted moves the process to COMPLETED.
func (p *Process) MarkCompleted(now time.Time) error {
	if err := p.TransitionTo(ProcessCompleted); err != nil {
		return err
	}
	p.CompletedAt = &now
	return nil
}

// MarkFailed moves the process to FAILED and records why.
func (p *Process) MarkFailed(reason string, now time.Time) error {
	if err := p.TransitionTo(ProcessFailed); err != nil {
		return err
	}
	p.ErrorMessage = reason
	p.CompletedAt = &now
	return nil
}

// MarkCancelled moves the process to CANCELLED.
func (p *Process) MarkCancelled(now time.Time) error {
	if err := p.TransitionTo(ProcessCancelled); err != nil {
		return err
	}
	p.CompletedAt = &now
	return nil
}

// Reopen returns a COMPLETED process to IN_PROGRESS so failed batches can run again.
func (p *Process) Reopen() error {
	if p.Status != ProcessCompleted {
		return &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: string(ProcessInProgress)}
	}
	p.Status = ProcessInProgress
	p.CompletedAt = nil
	p.UpdatedAt = time.Now()
	return nil
}

// ResetForRestart returns the process to PENDING with a clean run history.
func (p *Process) ResetForRestart() {
	p.Status = ProcessPending
	p.ErrorMessage = ""
	p.StartedAt = nil
	p.CompletedAt = nil
	p.PausedAt = nil
	p.UpdatedAt = time.Now()
}

// Batch is one independently schedulable unit of work of a Process.
type Batch struct {
	ID           string       `json:"id"`
	ProcessID    string       `json:"process_id"`
	ResourceType ResourceType `json:"resource_type"`
	// BatchNumber starts at 1 and is unique within the process.
	BatchNumber int `json:"batch_number"`
	// ItemIDs is set for id-slice batches.
	ItemIDs StringList `json:"item_ids,omitempty"`
	// PageIndex and PageSize are set for list-fetch batches. PageIndex starts at 1.
	PageIndex      int         `json:"page_index,omitempty"`
	PageSize       int         `json:"page_size,omitempty"`
	Status         BatchStatus `json:"status"`
	// ItemsRequested is the expected item count, set at planning time.
	ItemsRequested int         `json:"items_requested"`
	ItemsReceived  int         `json:"items_received"`
	ItemsStored    int         `json:"items_stored"`
	ItemsFailed    int         `json:"items_failed"`
	ItemsSkipped   int         `json:"items_skipped"`
	FailedItemIDs  StringList  `json:"failed_item_ids,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	// Attempts counts executor claims and ties a queue delivery to one run.
	Attempts int `json:"attempts"`
	// AwaitingRedelivery is set on a FAILED batch whose job the queue will deliver again.
	AwaitingRedelivery bool       `json:"awaiting_redelivery,omitempty"`
	DispatchedAt       *time.Time `json:"dispatched_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsPageBatch reports whether the batch is fetched as one source page.
func (b *Batch) IsPageBatch() bool {
	return len(b.ItemIDs) == 0 && b.PageSize > 0
}

// Size is the number of items the batch asks for.
func (b *Batch) Size() int {
	if b.IsPageBatch() {
		return b.PageSize
	}
	return len(b.ItemIDs)
}

// PageLimit is the most items a page batch may store: its planned size,
// which is smaller than PageSize for the last page.
func (b *Batch) PageLimit() int {
	if b.ItemsRequested > 0 && b.ItemsRequested < b.PageSize {
		return b.ItemsRequested
	}
	return b.PageSize
}

// IsSettled reports whether the batch is terminal and no queue redelivery
// is pending for it.
func (b *Batch) IsSettled() bool {
	return b.Status.IsTerminal() && !b.AwaitingRedelivery
}

// TransitionTo moves the batch, rejecting invalid moves.
func (b *Batch) TransitionTo(next BatchStatus) error {
	if !isValidBatchTransition(b.Status, next) {
		return &exception.InvalidTransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), To: string(next)}
	}
	b.Status = next
	b.UpdatedAt = time.Now()
	return nil
}

// ClaimableBy reports whether a delivery may run the batch. A FAILED batch is
// claimable only while it has been attempted fewer than maxPriorAttempts
// times, so a duplicate delivery of an attempt that already ran is rejected.
func (b *Batch) ClaimableBy(maxPriorAttempts int) bool {
	switch b.Status {
	case BatchPending:
		return true
	case BatchFailed:
		return b.Attempts < maxPriorAttempts
	}
	return false
}

// Start claims the batch for one executor invocation.
func (b *Batch) Start(now time.Time) error {
	if err := b.TransitionTo(BatchInProgress); err != nil {
		return err
	}
	b.Attempts++
	b.AwaitingRedelivery = false
	b.StartedAt = &now
	b.CompletedAt = nil
	b.ErrorMessage = ""
	if b.ItemsRequested == 0 {
		b.ItemsRequested = b.Size()
	}
	return nil
}

// Finish applies an item-level result and derives the terminal status.
func (b *Batch) Finish(result BatchResult, now time.Time) error {
	if err := b.TransitionTo(result.Status()); err != nil {
		return err
	}
	b.ItemsReceived = result.Received
	b.ItemsStored = result.Processed
	b.ItemsFailed = result.Failed
	b.ItemsSkipped = result.Skipped
	b.FailedItemIDs = StringList(result.FailedIDs)
	b.CompletedAt = &now
	return nil
}

// Fail marks a batch-level fatal error. redelivery records that the queue
// will run the batch again.
func (b *Batch) Fail(reason string, redelivery bool, now time.Time) error {
	if err := b.TransitionTo(BatchFailed); err != nil {
		return err
	}
	b.AwaitingRedelivery = redelivery
	b.ErrorMessage = reason
	b.CompletedAt = &now
	return nil
}

// ResetForRetry returns a FAILED batch to PENDING so it can be dispatched
// again. Item counters are kept until the next attempt finishes.
func (b *Batch) ResetForRetry() error {
	if err := b.TransitionTo(BatchPending); err != nil {
		return err
	}
	b.ErrorMessage = ""
	b.CompletedAt = nil
	b.DispatchedAt = nil
	b.AwaitingRedelivery = false
	return nil
}

// Reset returns the batch to a never-run PENDING state.
func (b *Batch) Reset() {
	b.Status = BatchPending
	b.Attempts = 0
	b.clearOutcome()
	b.UpdatedAt = time.Now()
}

func (b *Batch) clearOutcome() {
	b.ErrorMessage = ""
	b.AwaitingRedelivery = false
	b.StartedAt = nil
	b.CompletedAt = nil
	b.DispatchedAt = nil
	b.ItemsReceived = 0
	b.ItemsStored = 0
	b.ItemsFailed = 0
	b.ItemsSkipped = 0
	b.FailedItemIDs = StringList{}
}

// BatchResult is the outcome of one executor invocation.
type BatchResult struct {
	// Received is the number of items obtained from the source.
	Received int `json:"received"`
	// Processed is the number of items stored.
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	FailedIDs []string `json:"failed_ids"`
}

// Status derives the terminal batch status from item outcomes.
func (r BatchResult) Status() BatchStatus {
	attempted := r.Processed + r.Failed + r.Skipped
	switch {
	case r.Failed == 0:
		return BatchCompleted
	case r.Failed < attempted:
		return BatchPartial
	default:
		return BatchFailed
	}
}

// Item is one entity as returned by the source system.
type Item struct {
	ID     string     `json:"id"`
	Fields Fields     `json:"fields"`
	Raw    RawPayload `json:"raw,omitempty"`
}

// Record is one stored business entity, unique by natural id within its table.
type Record struct {
	ID         int64        `json:"id"`
	Resource   ResourceType `json:"resource_type"`
	NaturalID  string       `json:"natural_id"`
	ProcessID  string       `json:"process_id"`
	BatchID    string       `json:"batch_id"`
	Fields     Fields       `json:"fields"`
	RawPayload RawPayload   `json:"raw_payload,omitempty"`
	// SessionIDs and ClientIDs are loose references held by enriched cases.
	SessionIDs         StringList         `json:"session_ids,omitempty"`
	ClientIDs          StringList         `json:"client_ids,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	VerificationError  *string            `json:"verification_error,omitempty"`
	// SyncedAt is when the record was last migrated or enriched.
	SyncedAt  time.Time `json:"synced_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds a record for an item fetched by a batch.
func NewRecord(rt ResourceType, batch *Batch, item Item, now time.Time) *Record {
	rec := &Record{
		Resource:           rt,
		NaturalID:          item.ID,
		ProcessID:          batch.ProcessID,
		BatchID:            batch.ID,
		Fields:             item.Fields,
		RawPayload:         item.Raw,
		VerificationStatus: VerificationPending,
		SyncedAt:           now,
	}
	if rt == ResourceEnrichedCase {
		rec.SessionIDs = item.Fields.stringList("session_ids")
		rec.ClientIDs = item.Fields.stringList("client_ids")
	}
	return rec
}

// String returns the string form of a field, or "" if absent.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (f Fields) stringList(key string) StringList {
	raw, ok := f[key].([]interface{})
	if !ok {
		return StringList{}
	}
	out := make(StringList, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, fmt.Sprintf("%d", int64(t)))
		}
	}
	return out
}
