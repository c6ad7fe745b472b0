package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/database"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

// upsertColumns are overwritten when a natural id is stored again. A new
// payload invalidates any earlier verdict.
var upsertColumns = []string{
	"process_id", "batch_id", "fields", "raw_payload", "session_ids", "client_ids",
	"verification_status", "verified_at", "verification_error", "synced_at", "updated_at",
}

// lookupChunk bounds the size of IN lists.
const lookupChunk = 500

// RecordStore implements repository.Record.
type RecordStore struct {
	conn database.DBConnection
}

// NewRecordStore creates a RecordStore.
func NewRecordStore(conn database.DBConnection) *RecordStore {
	return &RecordStore{conn: conn}
}

var _ repository.Record = (*RecordStore)(nil)

func tableFor(rt model.ResourceType) (string, error) {
	d, ok := rt.Descriptor()
	if !ok {
		return "", fmt.Errorf("unknown resource type %q", rt)
	}
	return d.Table, nil
}

func (s *RecordStore) table(ctx context.Context, rt model.ResourceType) (*gorm.DB, error) {
	name, err := tableFor(rt)
	if err != nil {
		return nil, err
	}
	return s.conn.GormDB(ctx).Table(name), nil
}

func applyFilter(db *gorm.DB, f repository.RecordFilter) *gorm.DB {
	if f.ProcessID != "" {
		db = db.Where("process_id = ?", f.ProcessID)
	}
	if len(f.Statuses) > 0 {
		db = db.Where("verification_status IN ?", f.Statuses)
	}
	if len(f.NaturalIDs) > 0 {
		db = db.Where("natural_id IN ?", f.NaturalIDs)
	}
	return db
}

// UpsertRecord inserts or overwrites the row keyed by rec.NaturalID.
func (s *RecordStore) UpsertRecord(ctx context.Context, rt model.ResourceType, rec *model.Record) error {
	const op = "RecordStore.UpsertRecord"
	name, err := tableFor(rt)
	if err != nil {
		return err
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = now
	}
	if rec.VerificationStatus == "" {
		rec.VerificationStatus = model.VerificationPending
	}

	entity := fromDomainRecord(rec)
	entity.ID = 0
	if _, err := s.conn.ExecuteUpsert(ctx, entity, name, []string{"natural_id"}, upsertColumns); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to upsert %s %s", rt, rec.NaturalID), err, false, true)
	}
	return nil
}

// CountRecords counts the records of rt matching f.
func (s *RecordStore) CountRecords(ctx context.Context, rt model.ResourceType, f repository.RecordFilter) (int64, error) {
	db, err := s.table(ctx, rt)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := applyFilter(db, f).Count(&count).Error; err != nil {
		return 0, exception.NewBatchError("RecordStore.CountRecords", fmt.Sprintf("failed to count %s records", rt), err, false, true)
	}
	return count, nil
}

// BulkFetch loads the records of rt with the given natural ids.
// Returns: The stored records. Missing ids are absent.
func (s *RecordStore) BulkFetch(ctx context.Context, rt model.ResourceType, naturalIDs []string) ([]*model.Record, error) {
	out := make([]*model.Record, 0, len(naturalIDs))
	for _, ids := range chunkStrings(naturalIDs, lookupChunk) {
		db, err := s.table(ctx, rt)
		if err != nil {
			return nil, err
		}
		var entities []RecordEntity
		if err := db.Where("natural_id IN ?", ids).Order("id").Find(&entities).Error; err != nil {
			return nil, exception.NewBatchError("RecordStore.BulkFetch", fmt.Sprintf("failed to fetch %s records", rt), err, false, true)
		}
		out = append(out, toDomainRecords(rt, entities)...)
	}
	return out, nil
}

// ExistingNaturalIDs reports which of ids are already stored in the table of rt.
// Returns: A set of the stored ids.
func (s *RecordStore) ExistingNaturalIDs(ctx context.Context, rt model.ResourceType, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for _, chunk := range chunkStrings(ids, lookupChunk) {
		db, err := s.table(ctx, rt)
		if err != nil {
			return nil, err
		}
		var existing []string
		if err := db.Where("natural_id IN ?", chunk).Pluck("natural_id", &existing).Error; err != nil {
			return nil, exception.NewBatchError("RecordStore.ExistingNaturalIDs", fmt.Sprintf("failed to look up %s records", rt), err, false, true)
		}
		for _, id := range existing {
			found[id] = true
		}
	}
	return found, nil
}

// ListRecordChunk pages by primary key so rows updated during a scan are
// neither skipped nor revisited.
func (s *RecordStore) ListRecordChunk(ctx context.Context, rt model.ResourceType, f repository.RecordFilter, afterID int64, limit int) ([]*model.Record, error) {
	db, err := s.table(ctx, rt)
	if err != nil {
		return nil, err
	}
	var entities []RecordEntity
	err = applyFilter(db, f).Where("id > ?", afterID).Order("id").Limit(limit).Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError("RecordStore.ListRecordChunk", fmt.Sprintf("failed to list %s records after %d", rt, afterID), err, false, true)
	}
	return toDomainRecords(rt, entities), nil
}

// SampleRecords returns up to n records of a process in random order.
func (s *RecordStore) SampleRecords(ctx context.Context, rt model.ResourceType, processID string, n int) ([]*model.Record, error) {
	db, err := s.table(ctx, rt)
	if err != nil {
		return nil, err
	}
	random := "RANDOM()"
	if s.conn.Type() == "mysql" {
		random = "RAND()"
	}
	var entities []RecordEntity
	err = applyFilter(db, repository.RecordFilter{ProcessID: processID}).Order(random).Limit(n).Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError("RecordStore.SampleRecords", fmt.Sprintf("failed to sample %s records", rt), err, false, true)
	}
	return toDomainRecords(rt, entities), nil
}

// UpdateVerification writes the verification columns of rec only.
func (s *RecordStore) UpdateVerification(ctx context.Context, rt model.ResourceType, rec *model.Record) error {
	name, err := tableFor(rt)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	_, err = s.conn.ExecuteUpdate(ctx, name, map[string]interface{}{
		"verification_status": rec.VerificationStatus,
		"verified_at":         rec.VerifiedAt,
		"verification_error":  rec.VerificationError,
		"updated_at":          rec.UpdatedAt,
	}, map[string]interface{}{"id": rec.ID})
	if err != nil {
		return exception.NewBatchError("RecordStore.UpdateVerification", fmt.Sprintf("failed to record verification of %s %s", rt, rec.NaturalID), err, false, true)
	}
	return nil
}

// ResetVerification sets every record of a process back to PENDING.
// Returns: The number of records reset.
func (s *RecordStore) ResetVerification(ctx context.Context, rt model.ResourceType, processID string) (int64, error) {
	name, err := tableFor(rt)
	if err != nil {
		return 0, err
	}
	rows, err := s.conn.ExecuteUpdate(ctx, name, map[string]interface{}{
		"verification_status": model.VerificationPending,
		"verified_at":         nil,
		"verification_error":  nil,
		"updated_at":          time.Now(),
	}, map[string]interface{}{"process_id": processID})
	if err != nil {
		return 0, exception.NewBatchError("RecordStore.ResetVerification", fmt.Sprintf("failed to reset verification of %s records", rt), err, false, true)
	}
	return rows, nil
}

// TruncateRecords deletes every row of the resource type's table.
func (s *RecordStore) TruncateRecords(ctx context.Context, rt model.ResourceType) error {
	db, err := s.table(ctx, rt)
	if err != nil {
		return err
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&RecordEntity{}).Error; err != nil {
		return exception.NewBatchError("RecordStore.TruncateRecords", fmt.Sprintf("failed to truncate %s records", rt), err, false, true)
	}
	return nil
}

func toDomainRecords(rt model.ResourceType, entities []RecordEntity) []*model.Record {
	out := make([]*model.Record, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainRecord(rt, &entities[i]))
	}
	return out
}

func chunkStrings(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
