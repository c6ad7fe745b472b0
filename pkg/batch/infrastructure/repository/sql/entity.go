package sql

import (
	"time"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// ProcessEntity maps the processes table.
type ProcessEntity struct {
	ID               string              `gorm:"column:id;primaryKey"`
	Name             string              `gorm:"column:name"`
	ResourceType     model.ResourceType  `gorm:"column:resource_type"`
	Status           model.ProcessStatus `gorm:"column:status"`
	TotalItems       int64               `gorm:"column:total_items"`
	Filters          model.Filters       `gorm:"column:filters"`
	ItemIDs          model.StringList    `gorm:"column:item_ids"`
	BatchSize        int                 `gorm:"column:batch_size"`
	ConcurrencyLimit int                 `gorm:"column:concurrency_limit"`
	ErrorMessage     string              `gorm:"column:error_message"`
	StartedAt        *time.Time          `gorm:"column:started_at"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
	PausedAt         *time.Time          `gorm:"column:paused_at"`
	Version          int                 `gorm:"column:version"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (ProcessEntity) TableName() string { return "processes" }

// BatchEntity maps the batches table.
type BatchEntity struct {
	ID                 string             `gorm:"column:id;primaryKey"`
	ProcessID          string             `gorm:"column:process_id"`
	ResourceType       model.ResourceType `gorm:"column:resource_type"`
	BatchNumber        int                `gorm:"column:batch_number"`
	ItemIDs            model.StringList   `gorm:"column:item_ids"`
	PageIndex          int                `gorm:"column:page_index"`
	PageSize           int                `gorm:"column:page_size"`
	Status             model.BatchStatus  `gorm:"column:status"`
	ItemsRequested     int                `gorm:"column:items_requested"`
	ItemsReceived      int                `gorm:"column:items_received"`
	ItemsStored        int                `gorm:"column:items_stored"`
	ItemsFailed        int                `gorm:"column:items_failed"`
	ItemsSkipped       int                `gorm:"column:items_skipped"`
	FailedItemIDs      model.StringList   `gorm:"column:failed_item_ids"`
	ErrorMessage       string             `gorm:"column:error_message"`
	Attempts           int                `gorm:"column:attempts"`
	AwaitingRedelivery bool               `gorm:"column:awaiting_redelivery"`
	DispatchedAt       *time.Time         `gorm:"column:dispatched_at"`
	StartedAt          *time.Time         `gorm:"column:started_at"`
	CompletedAt        *time.Time         `gorm:"column:completed_at"`
	Version            int                `gorm:"column:version"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (BatchEntity) TableName() string { return "batches" }

// RecordEntity maps every record table. The table is chosen per resource type.
type RecordEntity struct {
	ID                 int64                    `gorm:"column:id;primaryKey;autoIncrement"`
	NaturalID          string                   `gorm:"column:natural_id"`
	ProcessID          string                   `gorm:"column:process_id"`
	BatchID            string                   `gorm:"column:batch_id"`
	Fields             model.Fields             `gorm:"column:fields"`
	RawPayload         model.RawPayload         `gorm:"column:raw_payload"`
	SessionIDs         model.StringList         `gorm:"column:session_ids"`
	ClientIDs          model.StringList         `gorm:"column:client_ids"`
	VerificationStatus model.VerificationStatus `gorm:"column:verification_status"`
	VerifiedAt         *time.Time               `gorm:"column:verified_at"`
	VerificationError  *string                  `gorm:"column:verification_error"`
	SyncedAt           time.Time                `gorm:"column:synced_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime:false"`
}

func fromDomainProcess(p *model.Process) *ProcessEntity {
	return &ProcessEntity{
		ID:               p.ID,
		Name:             p.Name,
		ResourceType:     p.ResourceType,
		Status:           p.Status,
		TotalItems:       p.TotalItems,
		Filters:          p.Filters,
		ItemIDs:          p.ItemIDs,
		BatchSize:        p.BatchSize,
		ConcurrencyLimit: p.ConcurrencyLimit,
		ErrorMessage:     p.ErrorMessage,
		StartedAt:        p.StartedAt,
		CompletedAt:      p.CompletedAt,
		PausedAt:         p.PausedAt,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toDomainProcess(e *ProcessEntity) *model.Process {
	return &model.Process{
		ID:               e.ID,
		Name:             e.Name,
		ResourceType:     e.ResourceType,
		Status:           e.Status,
		TotalItems:       e.TotalItems,
		Filters:          e.Filters,
		ItemIDs:          e.ItemIDs,
		BatchSize:        e.BatchSize,
		ConcurrencyLimit: e.ConcurrencyLimit,
		ErrorMessage:     e.ErrorMessage,
		StartedAt:        e.StartedAt,
		CompletedAt:      e.CompletedAt,
		PausedAt:         e.PausedAt,
		Version:          e.Version,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// processValues lists the mutable columns of a process.
func processValues(p *model.Process) map[string]interface{} {
	return map[string]interface{}{
		"status":            p.Status,
		"error_message":     p.ErrorMessage,
		"started_at":        p.StartedAt,
		"completed_at":      p.CompletedAt,
		"paused_at":         p.PausedAt,
		"concurrency_limit": p.ConcurrencyLimit,
		"version":           p.Version,
		"updated_at":        p.UpdatedAt,
	}
}

func fromDomainBatch(b *model.Batch) *BatchEntity {
	return &BatchEntity{
		ID:                 b.ID,
		ProcessID:          b.ProcessID,
		ResourceType:       b.ResourceType,
		BatchNumber:        b.BatchNumber,
		ItemIDs:            b.ItemIDs,
		PageIndex:          b.PageIndex,
		PageSize:           b.PageSize,
		Status:             b.Status,
		ItemsRequested:     b.ItemsRequested,
		ItemsReceived:      b.ItemsReceived,
		ItemsStored:        b.ItemsStored,
		ItemsFailed:        b.ItemsFailed,
		ItemsSkipped:       b.ItemsSkipped,
		FailedItemIDs:      b.FailedItemIDs,
		ErrorMessage:       b.ErrorMessage,
		Attempts:           b.Attempts,
		AwaitingRedelivery: b.AwaitingRedelivery,
		DispatchedAt:       b.DispatchedAt,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		Version:            b.Version,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func toDomainBatch(e *BatchEntity) *model.Batch {
	return &model.Batch{
		ID:                 e.ID,
		ProcessID:          e.ProcessID,
		ResourceType:       e.ResourceType,
		BatchNumber:        e.BatchNumber,
		ItemIDs:            e.ItemIDs,
		PageIndex:          e.PageIndex,
		PageSize:           e.PageSize,
		Status:             e.Status,
		ItemsRequested:     e.ItemsRequested,
		ItemsReceived:      e.ItemsReceived,
		ItemsStored:        e.ItemsStored,
		ItemsFailed:        e.ItemsFailed,
		ItemsSkipped:       e.ItemsSkipped,
		FailedItemIDs:      e.FailedItemIDs,
		ErrorMessage:       e.ErrorMessage,
		Attempts:           e.Attempts,
		AwaitingRedelivery: e.AwaitingRedelivery,
		DispatchedAt:       e.DispatchedAt,
		StartedAt:          e.StartedAt,
		CompletedAt:        e.CompletedAt,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// batchValues lists the mutable columns of a batch.
func batchValues(b *model.Batch) map[string]interface{} {
	return map[string]interface{}{
		"status":              b.Status,
		"items_requested":     b.ItemsRequested,
		"items_received":      b.ItemsReceived,
		"items_stored":        b.ItemsStored,
		"items_failed":        b.ItemsFailed,
		"items_skipped":       b.ItemsSkipped,
		"failed_item_ids":     b.FailedItemIDs,
		"error_message":       b.ErrorMessage,
		"attempts":            b.Attempts,
		"awaiting_redelivery": b.AwaitingRedelivery,
		"dispatched_at":       b.DispatchedAt,
		"started_at":          b.StartedAt,
		"completed_at":        b.CompletedAt,
		"version":             b.Version,
		"updated_at":          b.UpdatedAt,
	}
}

func fromDomainRecord(r *model.Record) *RecordEntity {
	return &RecordEntity{
		ID:                 r.ID,
		NaturalID:          r.NaturalID,
		ProcessID:          r.ProcessID,
		BatchID:            r.BatchID,
		Fields:             r.Fields,
		RawPayload:         r.RawPayload,
		SessionIDs:         r.SessionIDs,
		ClientIDs:          r.ClientIDs,
		VerificationStatus: r.VerificationStatus,
		VerifiedAt:         r.VerifiedAt,
		VerificationError:  r.VerificationError,
		SyncedAt:           r.SyncedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toDomainRecord(rt model.ResourceType, e *RecordEntity) *model.Record {
	return &model.Record{
		ID:                 e.ID,
		Resource:           rt,
		NaturalID:          e.NaturalID,
		ProcessID:          e.ProcessID,
		BatchID:            e.BatchID,
		Fields:             e.Fields,
		RawPayload:         e.RawPayload,
		SessionIDs:         e.SessionIDs,
		ClientIDs:          e.ClientIDs,
		VerificationStatus: e.VerificationStatus,
		VerifiedAt:         e.VerifiedAt,
		VerificationError:  e.VerificationError,
		SyncedAt:           e.SyncedAt,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}
