// Package session owns the active-transaction map and the bounded
// completed-session history.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Reason identifies which of the four finalization paths closed a
// transaction.
type Reason string

const (
	ReasonStop           Reason = "stop"
	ReasonDisconnect     Reason = "disconnect"
	ReasonHeartbeatStop  Reason = "heartbeat_timeout"
	ReasonGhostZeroPower Reason = "ghost_zero_power"
)

const (
	// maxCompleted bounds the completed-session ring.
	maxCompleted = 1000
	// maxSamples bounds the per-transaction sample history kept only for
	// CSV aggregate stats.
	maxSamples = 500
)

// Sample is one (power, voltage, current) observation, retained only
// while a transaction is active, for the session history and CSV Avg/Max
// columns.
type Sample struct {
	At      time.Time
	Power   float64
	Voltage float64
	Current float64
}

// Transaction is an active charging session.
type Transaction struct {
	TxID             string
	StationID        string
	ConnectorID      int
	StartTime        time.Time
	PowerWatts       float64
	EnergyKWh        float64
	VoltageVolts     float64
	CurrentAmps      float64
	TemperatureC     float64
	LastNonZeroPower time.Time
	ZeroPowerSince   time.Time // zero value means "no zero-power streak in progress"
	samples          []Sample
}

func (t Transaction) clone() Transaction {
	t.samples = append([]Sample(nil), t.samples...)
	return t
}

// Samples returns a copy of the retained (power, voltage, current) history.
func (t Transaction) Samples() []Sample {
	return append([]Sample(nil), t.samples...)
}

// Completed is an immutable snapshot of a transaction at termination.
// MaxPowerWatts, AvgVoltageVolts, and AvgCurrentAmps are computed from
// the sample history at finalize time, since the history itself is
// discarded once archived.
type Completed struct {
	Transaction
	EndTime         time.Time
	DurationMinutes int64
	Reason          Reason
	Status          string
	MaxPowerWatts   float64
	AvgVoltageVolts float64
	AvgCurrentAmps  float64
}

// Store holds the active transaction map and the completed-session ring
// behind a single mutex, so finalize's check-remove-archive sequence is
// indivisible with respect to every other operation.
type Store struct {
	mu        sync.Mutex
	active    map[string]*Transaction
	completed []Completed // newest first
	nextTxID  int64
}

// New creates an empty session store.
func New() *Store {
	return &Store{active: make(map[string]*Transaction)}
}

// NextTxID returns a process-unique, monotonically increasing,
// string-encoded transaction id.
func (s *Store) NextTxID(nowMillis int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nowMillis <= s.nextTxID {
		nowMillis = s.nextTxID + 1
	}
	s.nextTxID = nowMillis
	return strconv.FormatInt(nowMillis, 10)
}

// Open creates a new active transaction. Callers (the transaction state
// machine) are responsible for ensuring connectorID has no existing
// active transaction on station first, via FindByConnector.
func (s *Store) Open(txID, stationID string, connectorID int, now time.Time) *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Transaction{
		TxID:        txID,
		StationID:   stationID,
		ConnectorID: connectorID,
		StartTime:   now,
	}
	s.active[txID] = tx
	clone := tx.clone()
	return &clone
}

// FindByConnector returns the single active transaction for
// (stationID, connectorID), if any.
func (s *Store) FindByConnector(stationID string, connectorID int) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.active {
		if tx.StationID == stationID && tx.ConnectorID == connectorID {
			return tx.clone(), true
		}
	}
	return Transaction{}, false
}

// FindByTx returns the active transaction by id, if any.
func (s *Store) FindByTx(txID string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.active[txID]
	if !ok {
		return Transaction{}, false
	}
	return tx.clone(), true
}

// UpdateMeter applies a parsed meter reading to an active transaction.
// If power > 0 the ghost-power marker is cleared; if power == 0 and no
// streak is in progress, the streak start is recorded.
func (s *Store) UpdateMeter(txID string, power, energy, voltage, current, temperature float64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.active[txID]
	if !ok {
		return false
	}
	tx.PowerWatts = power
	tx.EnergyKWh = energy
	tx.VoltageVolts = voltage
	tx.CurrentAmps = current
	tx.TemperatureC = temperature

	if power > 0 {
		tx.LastNonZeroPower = now
		tx.ZeroPowerSince = time.Time{}
	} else if tx.ZeroPowerSince.IsZero() {
		tx.ZeroPowerSince = now
	}

	tx.samples = append(tx.samples, Sample{At: now, Power: power, Voltage: voltage, Current: current})
	if len(tx.samples) > maxSamples {
		tx.samples = tx.samples[len(tx.samples)-maxSamples:]
	}
	return true
}

// ActiveByStation returns every active transaction for stationID, used
// by disconnect cleanup.
func (s *Store) ActiveByStation(stationID string) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, tx := range s.active {
		if tx.StationID == stationID {
			out = append(out, tx.clone())
		}
	}
	return out
}

// AllActive returns a snapshot of every active transaction.
func (s *Store) AllActive() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0, len(s.active))
	for _, tx := range s.active {
		out = append(out, tx.clone())
	}
	return out
}

// Finalize removes txID from the active map (if still present) and
// prepends a completed snapshot to the ring, evicting the oldest entry
// past maxCompleted. It returns (snapshot, true) on success or
// (Completed{}, false) if txID was already finalized by a racing caller,
// so two concurrent finalizers never both succeed. finalEnergyKWh, if
// non-nil, overrides the last-observed energy reading (StopTransaction's
// meterStop).
func (s *Store) Finalize(txID string, reason Reason, endTime time.Time, finalEnergyKWh *float64) (Completed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.active[txID]
	if !ok {
		return Completed{}, false
	}
	delete(s.active, txID)

	if finalEnergyKWh != nil {
		tx.EnergyKWh = *finalEnergyKWh
	}

	duration := int64(endTime.Sub(tx.StartTime) / time.Minute)
	if duration < 0 {
		duration = 0
	}

	maxPower, avgVoltage, avgCurrent := aggregateSamples(tx.samples)

	snapshot := Completed{
		Transaction:     tx.clone(),
		EndTime:         endTime,
		DurationMinutes: duration,
		Reason:          reason,
		Status:          "completed",
		MaxPowerWatts:   maxPower,
		AvgVoltageVolts: avgVoltage,
		AvgCurrentAmps:  avgCurrent,
	}
	snapshot.Transaction.samples = nil // the raw history is only needed to compute the aggregates above

	s.completed = append([]Completed{snapshot}, s.completed...)
	if len(s.completed) > maxCompleted {
		s.completed = s.completed[:maxCompleted]
	}
	return snapshot, true
}

// CompletedSessions returns a snapshot of the completed-session ring,
// optionally filtered to one station id.
func (s *Store) CompletedSessions(stationID string) []Completed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stationID == "" {
		return append([]Completed(nil), s.completed...)
	}
	var out []Completed
	for _, c := range s.completed {
		if c.StationID == stationID {
			out = append(out, c)
		}
	}
	return out
}

// aggregateSamples computes the CSV export's Max Power / Avg Voltage /
// Avg Current columns from a transaction's retained sample history.
func aggregateSamples(samples []Sample) (maxPower, avgVoltage, avgCurrent float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	powers := make([]float64, len(samples))
	voltages := make([]float64, len(samples))
	currents := make([]float64, len(samples))
	for i, s := range samples {
		powers[i] = s.Power
		voltages[i] = s.Voltage
		currents[i] = s.Current
	}
	maxPower, _ = stats.Max(powers)
	avgVoltage, _ = stats.Mean(voltages)
	avgCurrent, _ = stats.Mean(currents)
	return maxPower, avgVoltage, avgCurrent
}

// CountActive returns the number of currently active transactions.
func (s *Store) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
