package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// MetricEvent is a metric recorded asynchronously.
type MetricEvent struct {
	Type     string
	Batch    *model.Batch
	Process  *model.Process
	Resource model.ResourceType
	Outcome  string
	Verified bool
	Name     string
	Duration time.Duration
	Tags     map[string]string
}

// Metric event types.
const (
	MetricEventTypeBatchStart     = "batch_start"
	MetricEventTypeBatchEnd       = "batch_end"
	MetricEventTypeItem           = "item"
	MetricEventTypeVerification   = "verification"
	MetricEventTypeProcessStatus  = "process_status"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder pushes events to a buffered channel drained by one
// goroutine, so recording never blocks a batch worker.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts a recorder forwarding to syncRec.
// A bufferSize of 0 or less uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeBatchStart:
		r.syncRecorder.RecordBatchStart(ctx, event.Batch)
	case MetricEventTypeBatchEnd:
		r.syncRecorder.RecordBatchEnd(ctx, event.Batch, event.Duration)
	case MetricEventTypeItem:
		r.syncRecorder.RecordItem(ctx, event.Resource, event.Outcome)
	case MetricEventTypeVerification:
		r.syncRecorder.RecordVerification(ctx, event.Resource, event.Verified)
	case MetricEventTypeProcessStatus:
		r.syncRecorder.RecordProcessStatus(ctx, event.Process)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close processes the queued events and stops the worker. It is safe to call twice.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

// Batches are copied so later mutations by the executor do not race the worker.

func (r *AsyncMetricRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	cp := *batch
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchStart, Batch: &cp})
}

func (r *AsyncMetricRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, duration time.Duration) {
	cp := *batch
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchEnd, Batch: &cp, Duration: duration})
}

func (r *AsyncMetricRecorder) RecordItem(ctx context.Context, rt model.ResourceType, outcome string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItem, Resource: rt, Outcome: outcome})
}

func (r *AsyncMetricRecorder) RecordVerification(ctx context.Context, rt model.ResourceType, verified bool) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeVerification, Resource: rt, Verified: verified})
}

func (r *AsyncMetricRecorder) RecordProcessStatus(ctx context.Context, process *model.Process) {
	cp := *process
	r.sendEvent(MetricEvent{Type: MetricEventTypeProcessStatus, Process: &cp})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper decorates the backend recorder for fx and
// drains it on shutdown.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	asyncRecorder := NewAsyncMetricRecorder(cfg.Caseflow.Batch.MetricsAsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
