package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

const instrumentationName = "github.com/tigerroll/caseflow"

// OTelRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OTelRecorder struct {
	batchDuration    metric.Float64Histogram
	batchesStarted   metric.Int64Counter
	batches          metric.Int64Counter
	items            metric.Int64Counter
	verifications    metric.Int64Counter
	processStatus    metric.Int64Counter
	operationSeconds metric.Float64Histogram
}

// NewOTelRecorder creates the instruments on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	var (
		r    OTelRecorder
		errs []error
	)
	intCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			errs = append(errs, err)
		}
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil {
			errs = append(errs, err)
		}
		return h
	}
	r.batchDuration = histogram("caseflow.batch.duration", "Duration of batch executions.")
	r.batchesStarted = intCounter("caseflow.batches.started", "Batch claims.")
	r.batches = intCounter("caseflow.batches", "Terminal batches by status.")
	r.items = intCounter("caseflow.items", "Items by outcome.")
	r.verifications = intCounter("caseflow.verifications", "Record verifications by result.")
	r.processStatus = intCounter("caseflow.process.status", "Process status changes.")
	r.operationSeconds = histogram("caseflow.operation.duration", "Duration of named operations.")
	if len(errs) > 0 {
		return nil, exception.NewBatchError("metrics", "failed to create OpenTelemetry instruments", errs[0], false, false)
	}
	return &r, nil
}

// NewOTLPMeterProvider builds a meter provider that pushes to an OTLP collector.
func NewOTLPMeterProvider(ctx context.Context, cfg config.OTLPConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch strings.ToLower(cfg.Protocol) {
	case "grpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, exception.NewBatchError("metrics", fmt.Sprintf("failed to create OTLP/%s metric exporter", cfg.Protocol), err, false, false)
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(serviceResource(serviceName)),
	), nil
}

func serviceResource(serviceName string) *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}

// RecordBatchStart counts a claimed batch by resource type.
func (r *OTelRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	r.batchesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", batch.ResourceType.String())))
}

// RecordBatchEnd records the batch duration histogram with the batch status attribute.
func (r *OTelRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("resource_type", batch.ResourceType.String()),
		attribute.String("status", string(batch.Status)),
	)
	r.batches.Add(ctx, 1, attrs)
	r.batchDuration.Record(ctx, duration.Seconds(), attrs)
}

func (r *OTelRecorder) RecordItem(ctx context.Context, rt model.ResourceType, outcome string) {
	r.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", rt.String()),
		attribute.String("outcome", outcome),
	))
}

func (r *OTelRecorder) RecordVerification(ctx context.Context, rt model.ResourceType, verified bool) {
	r.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", rt.String()),
		attribute.String("result", verificationLabel(verified)),
	))
}

// RecordProcessStatus counts a process status change.
func (r *OTelRecorder) RecordProcessStatus(ctx context.Context, process *model.Process) {
	r.processStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", process.ResourceType.String()),
		attribute.String("status", string(process.Status)),
	))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("name", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationSeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
