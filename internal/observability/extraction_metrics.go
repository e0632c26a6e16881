package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricVersionsExtracted  = "addongit.extraction.versions"
	metricExtractionFailures = "addongit.extraction.failures"
	metricExtractionDuration = "addongit.extraction.duration.seconds"
	metricEntriesDrained     = "addongit.queue.drained"

	attrOutcome = "outcome"
	attrResult  = "result"
)

// ExtractionMetrics records queue and commit activity. Every method is a
// no-op on a nil receiver.
type ExtractionMetrics struct {
	versions metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	drained  metric.Int64Counter
}

// NewExtractionMetrics creates the extraction instruments on mt.
func NewExtractionMetrics(mt metric.Meter) (*ExtractionMetrics, error) {
	b := newMetricBuilder(mt)

	em := &ExtractionMetrics{
		versions: b.counter(metricVersionsExtracted, "Versions committed to git", "{version}"),
		failures: b.counter(metricExtractionFailures, "Failed extractions by outcome", "{failure}"),
		duration: b.histogram(metricExtractionDuration, "Time to commit one version", "s", durationBuckets...),
		drained:  b.counter(metricEntriesDrained, "Queue entries handled by result", "{entry}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return em, nil
}

// VersionExtracted records one committed version.
func (em *ExtractionMetrics) VersionExtracted(ctx context.Context, _ int64, elapsed time.Duration) {
	if em == nil {
		return
	}

	em.versions.Add(ctx, 1)
	em.duration.Record(ctx, elapsed.Seconds())
}

// ExtractionFailed records a failed extraction.
func (em *ExtractionMetrics) ExtractionFailed(ctx context.Context, outcome string) {
	if em == nil {
		return
	}

	em.failures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// EntryDrained records how a queue entry was handled.
func (em *ExtractionMetrics) EntryDrained(ctx context.Context, result string) {
	if em == nil {
		return
	}

	em.drained.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
