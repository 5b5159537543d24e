package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	RedisOps      metric.Int64Counter
	RedisDuration metric.Float64Histogram
	RedisTimeouts metric.Int64Counter
}

// Setup wires the OpenTelemetry meter provider with a Prometheus exporter
// and returns the metrics handle plus the scrape handler.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.RedisOps, err = meter.Int64Counter(
		"flags_redis_ops_total",
		metric.WithDescription("Total number of Redis commands issued"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RedisDuration, err = meter.Float64Histogram(
		"flags_redis_op_duration_seconds",
		metric.WithDescription("Redis command duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RedisTimeouts, err = meter.Int64Counter(
		"flags_redis_timeouts_total",
		metric.WithDescription("Redis commands that exceeded the client timeout"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

// RecordOp records one command outcome. Satisfies the store client's
// MetricsRecorder.
func (m *Metrics) RecordOp(ctx context.Context, op, outcome string, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)

	m.RedisOps.Add(ctx, 1, labels)
	m.RedisDuration.Record(ctx, duration.Seconds(), labels)

	if outcome == "timeout" {
		m.RedisTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
