// Package liveness runs the two periodic sweeps that finalize sessions
// a station never explicitly closed: the heartbeat timeout sweep and
// the ghost zero-power sweep.
package liveness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/bridge"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/clock"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/metrics"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
)

const (
	heartbeatSweepInterval  = 10 * time.Second
	defaultHeartbeatTimeout = 60 * time.Second

	ghostPowerSweepInterval  = 5 * time.Second
	defaultGhostPowerTimeout = 30 * time.Second
)

// Supervisor owns the two sweep goroutines. Both read the shared Clock
// so tests can drive them deterministically with clock.Fake instead of
// sleeping real seconds.
type Supervisor struct {
	registry *station.Registry
	sessions *session.Store
	activity *activity.Log
	bridge   *bridge.Client
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *zap.Logger

	heartbeatTimeout  time.Duration
	ghostPowerTimeout time.Duration
}

// New builds a supervisor. metrics may be nil. heartbeatTimeout and
// ghostPowerTimeout of zero fall back to the protocol defaults (60s and
// 30s respectively).
func New(registry *station.Registry, sessions *session.Store, log *activity.Log, br *bridge.Client, m *metrics.Metrics, c clock.Clock, logger *zap.Logger, heartbeatTimeout, ghostPowerTimeout time.Duration) *Supervisor {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = defaultHeartbeatTimeout
	}
	if ghostPowerTimeout <= 0 {
		ghostPowerTimeout = defaultGhostPowerTimeout
	}
	return &Supervisor{
		registry:          registry,
		sessions:          sessions,
		activity:          log,
		bridge:            br,
		metrics:           m,
		clock:             c,
		logger:            logger,
		heartbeatTimeout:  heartbeatTimeout,
		ghostPowerTimeout: ghostPowerTimeout,
	}
}

// Run starts both sweep loops and blocks until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	go s.runSweep(ctx, heartbeatSweepInterval, s.sweepHeartbeats)
	go s.runSweep(ctx, ghostPowerSweepInterval, s.sweepGhostPower)
	<-ctx.Done()
}

func (s *Supervisor) runSweep(ctx context.Context, interval time.Duration, sweep func(now time.Time)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("liveness: sweep panic recovered", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(s.clock.Now())
		}
	}
}

// sweepHeartbeats finalizes every active transaction on a station whose
// LastHeartbeat is older than heartbeatTimeout, and marks the station
// offline.
func (s *Supervisor) sweepHeartbeats(now time.Time) {
	cutoff := now.Add(-s.heartbeatTimeout)
	for _, id := range s.registry.StaleBefore(cutoff) {
		s.registry.MarkOffline(id)
		s.activity.Append(now, "station "+id+" timed out (no heartbeat)")
		s.logger.Info("liveness: heartbeat timeout", zap.String("station_id", id))

		for _, tx := range s.sessions.ActiveByStation(id) {
			if _, ok := s.sessions.Finalize(tx.TxID, session.ReasonHeartbeatStop, now, nil); ok {
				s.recordFinalization(tx, session.ReasonHeartbeatStop)
			}
		}
	}
}

// sweepGhostPower finalizes any active transaction whose power reading
// has been continuously zero for longer than ghostPowerTimeout, a
// vehicle-unplugged signal the station never reported via
// StopTransaction.
func (s *Supervisor) sweepGhostPower(now time.Time) {
	cutoff := now.Add(-s.ghostPowerTimeout)
	for _, tx := range s.sessions.AllActive() {
		if tx.ZeroPowerSince.IsZero() || !tx.ZeroPowerSince.Before(cutoff) {
			continue
		}
		if completed, ok := s.sessions.Finalize(tx.TxID, session.ReasonGhostZeroPower, now, nil); ok {
			s.activity.Append(now, "transaction "+tx.TxID+" finalized (ghost zero power)")
			s.logger.Info("liveness: ghost zero-power finalize",
				zap.String("station_id", tx.StationID), zap.String("tx_id", tx.TxID))
			s.recordFinalization(completed.Transaction, session.ReasonGhostZeroPower)
		}
	}
}

func (s *Supervisor) recordFinalization(tx session.Transaction, reason session.Reason) {
	if s.metrics != nil {
		s.metrics.RecordFinalization(context.Background(), string(reason))
	}
	s.bridge.PostAction("updateSession", map[string]any{
		"station_id":   tx.StationID,
		"connector_id": tx.ConnectorID,
		"tx_id":        tx.TxID,
		"reason":       reason,
	})
}
