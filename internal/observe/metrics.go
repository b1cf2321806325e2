// Package observe provides the broker's OpenTelemetry metrics and the HTTP
// endpoint that exposes them to Prometheus.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all camcast metrics.
const meterName = "github.com/phudinh153/camcast"

// Offer outcomes recorded on OffersOutcome.
const (
	OutcomeAnswered     = "answered"
	OutcomeOccupied     = "occupied"
	OutcomeInvalid      = "invalid"
	OutcomeMediaError   = "media_error"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeBackpressure = "backpressure"
	OutcomeShuttingDown = "shutting_down"
)

// Metrics holds all OpenTelemetry metric instruments for the broker.
// All fields are safe for concurrent use.
type Metrics struct {
	// OffersReceived counts offers accepted onto the intake queue.
	OffersReceived metric.Int64Counter

	// OffersOutcome counts processed offers. Use with attribute:
	//   attribute.String("outcome", ...)
	OffersOutcome metric.Int64Counter

	// SessionsActive tracks sessions currently in the table.
	SessionsActive metric.Int64UpDownCounter

	// NegotiationDuration tracks time from dequeue to emitted answer.
	NegotiationDuration metric.Float64Histogram

	// ConnectivityTransitions counts peer connection state changes. Use with
	// attribute:
	//   attribute.String("state", ...)
	ConnectivityTransitions metric.Int64Counter

	// QueueDepth tracks offers waiting for the negotiation engine.
	QueueDepth metric.Int64UpDownCounter
}

// negotiationBuckets covers a loopback answer through a slow gather.
var negotiationBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.OffersReceived, err = m.Int64Counter("camcast.offers.received",
		metric.WithDescription("Total offers accepted onto the intake queue."),
	); err != nil {
		return nil, err
	}
	if met.OffersOutcome, err = m.Int64Counter("camcast.offers.outcome",
		metric.WithDescription("Total processed offers by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionsActive, err = m.Int64UpDownCounter("camcast.sessions.active",
		metric.WithDescription("Number of sessions holding a room."),
	); err != nil {
		return nil, err
	}
	if met.NegotiationDuration, err = m.Float64Histogram("camcast.negotiation.duration",
		metric.WithDescription("Time from dequeuing an offer to emitting its answer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(negotiationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectivityTransitions, err = m.Int64Counter("camcast.connectivity.transitions",
		metric.WithDescription("Peer connection state changes by state."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("camcast.queue.depth",
		metric.WithDescription("Offers waiting for negotiation."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordOutcome counts one processed offer.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.OffersOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransition counts one peer connection state change.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.ConnectivityTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
