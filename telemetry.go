package followcache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("followcache")
	meter  = otel.Meter("followcache")
)

var (
	pagesFetched   metric.Int64Counter
	fetchErrors    metric.Int64Counter
	fetchLatency   metric.Float64Histogram
	followOutcomes metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		pagesFetched, err = meter.Int64Counter(
			"followcache_pages_fetched_total",
			metric.WithDescription("Total number of pages fetched from the query source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fetchErrors, err = meter.Int64Counter(
			"followcache_fetch_errors_total",
			metric.WithDescription("Total number of failed page fetches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fetchLatency, err = meter.Float64Histogram(
			"followcache_fetch_duration_seconds",
			metric.WithDescription("Duration of page fetches"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		followOutcomes, err = meter.Int64Counter(
			"followcache_follow_outcomes_total",
			metric.WithDescription("Total number of follow actions by final state"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFetch(ctx context.Context, duration time.Duration, initial bool, err error) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("initial", initial))
	fetchLatency.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		fetchErrors.Add(ctx, 1, attrs)
		return
	}
	pagesFetched.Add(ctx, 1, attrs)
}

func recordFollowOutcome(ctx context.Context, state FollowState) {
	if initMetrics() != nil {
		return
	}
	followOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "followcache."+operation, trace.WithAttributes(attrs...))
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
