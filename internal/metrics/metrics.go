// Package metrics wires the process's OpenTelemetry instruments:
// station and session gauges plus finalization counters.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Sources supplies the current counts the gauges read at collection
// time. The station registry and session store do not implement it
// themselves; cmd/ocpp-server adapts them to it.
type Sources interface {
	StationsOnline() int
	ActiveSessions() int
}

// Metrics holds the process's OpenTelemetry instruments.
type Metrics struct {
	finalizations metric.Int64Counter
}

// New registers the observable gauges and counters against meter,
// reading live counts from src at each collection.
func New(meter metric.Meter, src Sources) (*Metrics, error) {
	_, err := meter.Int64ObservableGauge(
		"ocpp_stations_online",
		metric.WithDescription("Number of charging stations currently connected"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(src.StationsOnline()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"ocpp_sessions_active",
		metric.WithDescription("Number of charging transactions currently active"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(src.ActiveSessions()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	finalizations, err := meter.Int64Counter(
		"ocpp_transactions_finalized_total",
		metric.WithDescription("Transactions finalized, labeled by reason"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{finalizations: finalizations}, nil
}

// RecordFinalization increments the finalization counter for reason.
func (m *Metrics) RecordFinalization(ctx context.Context, reason string) {
	m.finalizations.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}
