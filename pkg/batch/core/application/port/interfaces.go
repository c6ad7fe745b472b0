// Package port defines the capabilities the core consumes (source system,
// job queue, progress store) and the extension points it offers (listeners).
package port

import (
	"context"
	"time"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// SearchResult is one page of a source search.
type SearchResult struct {
	Items []model.Item
	// TotalCount is the total number of matches across all pages, or 0 when
	// the source did not report it.
	TotalCount int64
	// Invalid lists the page entries that could not be decoded into items.
	Invalid []InvalidEntry
}

// InvalidEntry is an undecodable entry of a search page. Position is its
// 0-based offset in the page.
type InvalidEntry struct {
	Position int
	Err      error
}

// SourceClient reads entities from the external case-management system.
type SourceClient interface {
	// FetchByID returns one entity by natural id, or an error wrapping
	// exception.ErrNotFound when the source has no such entity.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   rt: The resource type to fetch.
	//   id: The natural id in the source system.
	FetchByID(ctx context.Context, rt model.ResourceType, id string) (*model.Item, error)
	// Search returns page pageIndex (1-based) of the entities matching filters.
	Search(ctx context.Context, rt model.ResourceType, filters model.Filters, pageIndex, pageSize int) (*SearchResult, error)
}

// Job is one queued request to execute a batch.
type Job struct {
	ID        string `json:"id"`
	Queue     string `json:"queue"`
	ProcessID string `json:"process_id"`
	BatchID   string `json:"batch_id"`
	// BaseAttempts is the batch's attempt count when the job was enqueued.
	BaseAttempts int `json:"base_attempts"`
	// Attempt is the 1-based delivery number of this job.
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// MaxPriorAttempts is the highest batch attempt count at which this delivery
// may still claim a FAILED batch.
func (j Job) MaxPriorAttempts() int {
	return j.BaseAttempts + j.Attempt
}

// EnqueueOptions controls delivery of one job.
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID    string
	Queue string
}

// JobHandler processes one delivery. A returned error requests redelivery.
type JobHandler func(ctx context.Context, job Job) error

// JobQueue delivers jobs at least once to the handler registered for their queue.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, job Job, opts EnqueueOptions) (JobHandle, error)
	// Register sets the handler of a queue. It must be called before Start.
	Register(queue string, handler JobHandler)
}

// ProgressStore is a key-value store with per-entry expiry. Values are JSON.
type ProgressStore interface {
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get decodes the value of key into out and reports whether the key exists.
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	// Keys lists the live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// BatchListener observes batch executions.
type BatchListener interface {
	// BeforeBatch is called after the batch was claimed.
	BeforeBatch(ctx context.Context, batch *model.Batch)
	// AfterBatch is called once the batch reached a terminal status. err is
	// the batch-level fatal error, if any.
	AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error)
}

// ItemListener observes individual item outcomes inside a batch.
type ItemListener interface {
	OnItemStored(ctx context.Context, batch *model.Batch, item *model.Item)
	OnItemFailed(ctx context.Context, batch *model.Batch, itemID string, err error)
	OnItemSkipped(ctx context.Context, batch *model.Batch, itemID string)
}

// VerificationListener observes verification runs.
type VerificationListener interface {
	OnRecordVerified(ctx context.Context, rt model.ResourceType, rec *model.Record, ok bool)
	OnRunFinished(ctx context.Context, runID string, status string)
}

// ProcessHeartbeat is the last batch activity of a process, kept in the
// ProgressStore under the process key.
type ProcessHeartbeat struct {
	ProcessID   string            `json:"process_id"`
	BatchID     string            `json:"batch_id"`
	BatchNumber int               `json:"batch_number"`
	BatchStatus model.BatchStatus `json:"batch_status"`
	Stored      int               `json:"stored"`
	Failed      int               `json:"failed"`
	At          time.Time         `json:"at"`
}
