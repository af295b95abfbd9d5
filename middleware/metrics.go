package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/emberline/stoker/job"
)

// meterName is the instrumentation scope name for stoker metrics.
const meterName = "github.com/emberline/stoker"

// Metrics returns middleware that records per-task execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - stoker.task.duration (Float64Histogram): execution time in
//     seconds, with attributes: task_name, status ("ok" or "error")
//   - stoker.task.executions (Int64Counter): total executions,
//     with attributes: task_name, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter,
// for injecting a specific MeterProvider in tests.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once at construction time; OTel
	// instruments are safe for concurrent use and the API returns noop
	// instruments on error, so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"stoker.task.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"stoker.task.executions",
		metric.WithDescription("Total number of task executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("task_name", j.Name),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
