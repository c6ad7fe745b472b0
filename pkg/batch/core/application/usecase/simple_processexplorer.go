package usecase

import (
	"context"
	"math"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// BatchSummary is the per-batch line of a status report.
type BatchSummary struct {
	ID            string            `json:"id"`
	BatchNumber   int               `json:"batch_number"`
	Status        model.BatchStatus `json:"status"`
	Requested     int               `json:"items_requested"`
	Received      int               `json:"items_received"`
	Stored        int               `json:"items_stored"`
	Failed        int               `json:"items_failed"`
	Skipped       int               `json:"items_skipped"`
	FailedItemIDs []string          `json:"failed_item_ids,omitempty"`
	Attempts      int               `json:"attempts"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// ProcessStatusReport aggregates a process from its batches. Item counters
// are sums over the batches and never stored on the process.
type ProcessStatusReport struct {
	Process *model.Process `json:"process"`
	Status  string         `json:"status"`
	// TotalItems is the sum of the items requested by every batch.
	TotalItems int64 `json:"total_items"`
	// ProcessedItems counts items that reached an outcome: stored, failed or skipped.
	ProcessedItems  int64 `json:"processed_items"`
	SuccessfulItems int64 `json:"successful_items"`
	FailedItems     int64 `json:"failed_items"`
	SkippedItems    int64 `json:"skipped_items"`

	ProgressPercentage float64                   `json:"progress_percentage"`
	SuccessRate        float64                   `json:"success_rate"`
	BatchCounts        map[model.BatchStatus]int `json:"batch_counts"`
	Batches            []BatchSummary            `json:"batches"`
	// LastActivity is the latest batch heartbeat, when the progress store still holds one.
	LastActivity *port.ProcessHeartbeat `json:"last_activity,omitempty"`
}

// GetStatus implements ProcessExplorer.
func (o *DefaultProcessOperator) GetStatus(ctx context.Context, processID string) (*ProcessStatusReport, error) {
	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	batches, err := o.batches.FindBatchesByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	report := Summarize(p, batches)

	if o.progress != nil {
		var hb port.ProcessHeartbeat
		ok, err := o.progress.Get(ctx, progress.ProcessKey(p.ID), &hb)
		switch {
		case err != nil:
			logger.Warnf("Failed to read heartbeat of process %s: %v", p.ID, err)
		case ok:
			report.LastActivity = &hb
		}
	}
	return report, nil
}

// Summarize builds a status report of p from its batches.
func Summarize(p *model.Process, batches []*model.Batch) *ProcessStatusReport {
	r := &ProcessStatusReport{
		Process:     p,
		Status:      string(p.Status),
		BatchCounts: map[model.BatchStatus]int{},
		Batches:     make([]BatchSummary, 0, len(batches)),
	}
	if p.IsPaused() && !p.Status.IsFinished() {
		r.Status = "PAUSED"
	}
	for _, b := range batches {
		r.TotalItems += int64(b.ItemsRequested)
		r.SuccessfulItems += int64(b.ItemsStored + b.ItemsSkipped)
		r.FailedItems += int64(b.ItemsFailed)
		r.SkippedItems += int64(b.ItemsSkipped)
		r.BatchCounts[b.Status]++
		r.Batches = append(r.Batches, BatchSummary{
			ID:            b.ID,
			BatchNumber:   b.BatchNumber,
			Status:        b.Status,
			Requested:     b.ItemsRequested,
			Received:      b.ItemsReceived,
			Stored:        b.ItemsStored,
			Failed:        b.ItemsFailed,
			Skipped:       b.ItemsSkipped,
			FailedItemIDs: []string(b.FailedItemIDs),
			Attempts:      b.Attempts,
			ErrorMessage:  b.ErrorMessage,
		})
	}
	r.ProcessedItems = r.SuccessfulItems + r.FailedItems
	r.ProgressPercentage = percentage(r.ProcessedItems, r.TotalItems)
	r.SuccessRate = percentage(r.SuccessfulItems, r.ProcessedItems)
	return r
}

// percentage is part/whole*100 rounded to two decimals, 0 when whole is 0.
func percentage(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*100*100) / 100
}
