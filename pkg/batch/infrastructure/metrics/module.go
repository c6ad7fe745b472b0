package metrics

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// Exposition is the scrape endpoint of the active recorder. Handler is nil
// when metrics are pushed instead of scraped.
type Exposition struct {
	Handler http.Handler
}

// RecorderResult is the output of NewRecorder.
type RecorderResult struct {
	fx.Out
	Recorder   metrics.MetricRecorder
	Exposition Exposition
}

// NewRecorder selects the backend named by metrics.exporter.
func NewRecorder(lc fx.Lifecycle, cfg *config.Config) (RecorderResult, error) {
	mc := cfg.Caseflow.Metrics
	if !strings.EqualFold(mc.Exporter, "otlp") {
		r := NewPrometheusRecorder()
		logger.Infof("Metrics: Prometheus recorder enabled.")
		return RecorderResult{Recorder: r, Exposition: Exposition{Handler: r.Handler()}}, nil
	}

	provider, err := NewOTLPMeterProvider(context.Background(), mc.OTLP, cfg.Caseflow.Infrastructure.Tracing.ServiceName)
	if err != nil {
		return RecorderResult{}, err
	}
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	r, err := NewOTelRecorder(provider.Meter(instrumentationName))
	if err != nil {
		return RecorderResult{}, err
	}
	logger.Infof("Metrics: OTLP/%s recorder pushing to %s.", mc.OTLP.Protocol, mc.OTLP.Endpoint)
	return RecorderResult{Recorder: r}, nil
}

// NewTracer builds the tracer; a no-op provider backs it while tracing is disabled.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.Caseflow.Infrastructure.Tracing
	if !tc.Enabled {
		return NewOpenTelemetryTracer(noop.NewTracerProvider()), nil
	}
	provider, err := NewOTLPTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	logger.Infof("Tracing: OTLP/%s exporter to %s.", tc.Protocol, tc.Endpoint)
	return NewOpenTelemetryTracer(provider), nil
}

// Module provides the configured MetricRecorder, Exposition and Tracer.
var Module = fx.Options(
	fx.Provide(NewRecorder, NewTracer),
)
