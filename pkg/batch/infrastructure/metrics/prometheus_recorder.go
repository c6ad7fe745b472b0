// Package metrics implements core/metrics on Prometheus and OpenTelemetry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	batchDurationSeconds *prometheus.HistogramVec
	batchStartedCounter  *prometheus.CounterVec
	batchStatusCounter   *prometheus.CounterVec
	itemCounter          *prometheus.CounterVec
	verificationCounter  *prometheus.CounterVec
	processStatusCounter *prometheus.CounterVec
	operationSeconds     *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry, including
// the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_batch_duration_seconds",
			Help:    "Duration of batch executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource_type", "status"}),
		batchStartedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_batches_started_total",
			Help: "Total number of batch claims by resource type.",
		}, []string{"resource_type", "attempt"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_batches_total",
			Help: "Total number of terminal batches by status.",
		}, []string{"resource_type", "status"}),
		itemCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_items_total",
			Help: "Total items by outcome.",
		}, []string{"resource_type", "outcome"}),
		verificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_verifications_total",
			Help: "Total record verifications by result.",
		}, []string{"resource_type", "result"}),
		processStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_process_status_total",
			Help: "Total process status changes.",
		}, []string{"resource_type", "status"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(r.batchDurationSeconds)
	registry.MustRegister(r.batchStartedCounter)
	registry.MustRegister(r.batchStatusCounter)
	registry.MustRegister(r.itemCounter)
	registry.MustRegister(r.verificationCounter)
	registry.MustRegister(r.processStatusCounter)
	registry.MustRegister(r.operationSeconds)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordBatchStart counts a claimed batch by resource type and attempt.
func (r *PrometheusRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	r.batchStartedCounter.WithLabelValues(batch.ResourceType.String(), attemptLabel(batch.Attempts)).Inc()
}

// RecordBatchEnd observes the batch duration and counts the batch by terminal status.
// batch: The finished batch.
// duration: The time since the batch was claimed.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, duration time.Duration) {
	rt, status := batch.ResourceType.String(), string(batch.Status)
	r.batchStatusCounter.WithLabelValues(rt, status).Inc()
	r.batchDurationSeconds.WithLabelValues(rt, status).Observe(duration.Seconds())
	logger.Debugf("Metrics: batch %s ended %s in %.3fs.", batch.ID, status, duration.Seconds())
}

// RecordItem counts one item outcome (stored, failed or skipped) per resource type.
func (r *PrometheusRecorder) RecordItem(ctx context.Context, rt model.ResourceType, outcome string) {
	r.itemCounter.WithLabelValues(rt.String(), outcome).Inc()
}

// RecordVerification counts one verification verdict.
func (r *PrometheusRecorder) RecordVerification(ctx context.Context, rt model.ResourceType, verified bool) {
	r.verificationCounter.WithLabelValues(rt.String(), verificationLabel(verified)).Inc()
}

// RecordProcessStatus counts a process status change.
func (r *PrometheusRecorder) RecordProcessStatus(ctx context.Context, process *model.Process) {
	r.processStatusCounter.WithLabelValues(process.ResourceType.String(), string(process.Status)).Inc()
}

// RecordDuration observes a named operation duration. tags are not used as labels.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// attemptLabel keeps label cardinality bounded.
func attemptLabel(attempts int) string {
	if attempts > 5 {
		return "5+"
	}
	return strconv.Itoa(attempts)
}

func verificationLabel(verified bool) string {
	if verified {
		return "verified"
	}
	return "failed"
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
