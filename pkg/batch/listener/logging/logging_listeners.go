// Package logging logs batch, item and verification events.
package logging

import (
	"context"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// --- Batch Listener ---

type LoggingBatchListener struct{}

func NewLoggingBatchListener() *LoggingBatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) BeforeBatch(ctx context.Context, batch *model.Batch) {
	logger.With("process_id", batch.ProcessID, "batch_id", batch.ID).
		Infof("BatchListener: BeforeBatch - Batch: %d, Resource: %s, Attempt: %d", batch.BatchNumber, batch.ResourceType, batch.Attempts)
}

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	log := logger.With("process_id", batch.ProcessID, "batch_id", batch.ID)
	if err != nil {
		log.Warnf("BatchListener: AfterBatch - Batch: %d, Status: %s, Error: %v", batch.BatchNumber, batch.Status, err)
		return
	}
	log.Infof("BatchListener: AfterBatch - Batch: %d, Status: %s, Received: %d, Stored: %d, Failed: %d, Skipped: %d",
		batch.BatchNumber, batch.Status, result.Received, result.Processed, result.Failed, result.Skipped)
}

var _ port.BatchListener = (*LoggingBatchListener)(nil)

// --- Item Listener ---

// LoggingItemListener logs failed items. Stored and skipped items are logged at debug level.
type LoggingItemListener struct{}

func NewLoggingItemListener() *LoggingItemListener {
	return &LoggingItemListener{}
}

func (l *LoggingItemListener) OnItemStored(ctx context.Context, batch *model.Batch, item *model.Item) {
	logger.Debugf("ItemListener: Stored %s %s (batch %d)", batch.ResourceType, item.ID, batch.BatchNumber)
}

func (l *LoggingItemListener) OnItemFailed(ctx context.Context, batch *model.Batch, itemID string, err error) {
	logger.With("process_id", batch.ProcessID, "batch_id", batch.ID).
		Warnf("ItemListener: Failed %s %s: %v", batch.ResourceType, itemID, err)
}

func (l *LoggingItemListener) OnItemSkipped(ctx context.Context, batch *model.Batch, itemID string) {
	logger.Debugf("ItemListener: Skipped %s %s, already stored (batch %d)", batch.ResourceType, itemID, batch.BatchNumber)
}

var _ port.ItemListener = (*LoggingItemListener)(nil)

// --- Verification Listener ---

type LoggingVerificationListener struct{}

func NewLoggingVerificationListener() *LoggingVerificationListener {
	return &LoggingVerificationListener{}
}

func (l *LoggingVerificationListener) OnRecordVerified(ctx context.Context, rt model.ResourceType, rec *model.Record, ok bool) {
	if ok || rec.VerificationError == nil {
		return
	}
	logger.Debugf("VerificationListener: %s %s failed verification: %s", rt, rec.NaturalID, *rec.VerificationError)
}

func (l *LoggingVerificationListener) OnRunFinished(ctx context.Context, runID string, status string) {
	logger.Infof("VerificationListener: Run %s finished with status %s", runID, status)
}

var _ port.VerificationListener = (*LoggingVerificationListener)(nil)
