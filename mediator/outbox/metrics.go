package outbox

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type relayMetrics struct {
	entriesRelayed    metric.Int64Counter
	entriesFailed     metric.Int64Counter
	entriesStateStale metric.Int64Counter
	cycleLatency      metric.Float64Histogram
	queueDepth        metric.Int64Gauge
}

func newRelayMetrics(provider metric.MeterProvider) (relayMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("mediator.outbox.relay")

	var (
		metrics relayMetrics
		err     error
	)

	metrics.entriesRelayed, err = meter.Int64Counter(
		"outbox.entries.relayed",
		metric.WithDescription("Number of outbox entries successfully delivered"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.entries.relayed counter: %w", err)
	}

	metrics.entriesFailed, err = meter.Int64Counter(
		"outbox.entries.failed",
		metric.WithDescription("Number of outbox entries that failed to deliver"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.entries.failed counter: %w", err)
	}

	metrics.entriesStateStale, err = meter.Int64Counter(
		"outbox.entries.state_update_failed",
		metric.WithDescription("Number of outbox entries delivered but not persisted as processed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.entries.state_update_failed counter: %w", err)
	}

	metrics.cycleLatency, err = meter.Float64Histogram(
		"outbox.relay.cycle_latency",
		metric.WithDescription("Time taken per relay cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.relay.cycle_latency histogram: %w", err)
	}

	metrics.queueDepth, err = meter.Int64Gauge(
		"outbox.queue.depth",
		metric.WithDescription("Number of outbox entries selected in a relay cycle (pending and reclaimed)"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.queue.depth gauge: %w", err)
	}

	return metrics, nil
}
