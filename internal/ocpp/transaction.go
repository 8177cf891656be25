package ocpp

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/bridge"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/meter"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/metrics"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/wire"
)

// dispatcher turns one decoded CALL into exactly one response frame,
// applying its side effects to the registry and session store along the
// way.
type dispatcher struct {
	registry *station.Registry
	sessions *session.Store
	activity *activity.Log
	bridge   *bridge.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func (d *dispatcher) dispatch(stationID string, msg *wire.Message, now time.Time) []byte {
	var result any

	switch msg.Action {
	case "BootNotification":
		result = d.bootNotification(stationID, msg.Payload, now)
	case "Heartbeat":
		result = d.heartbeat(stationID, now)
	case "StatusNotification":
		result = d.statusNotification(stationID, msg.Payload, now)
	case "StartTransaction":
		result = d.startTransaction(stationID, msg.Payload, now)
	case "StopTransaction":
		result = d.stopTransaction(stationID, msg.Payload, now)
	case "MeterValues":
		result = d.meterValues(stationID, msg.Payload, now)
	case "Authorize":
		result = d.authorize(stationID, now)
	default:
		// Unsolicited or unsupported actions still get a well-formed,
		// empty CALLRESULT so the station's request/response cycle
		// completes; we simply have nothing to report back.
		d.logger.Debug("ocpp: unhandled action, replying empty", zap.String("action", msg.Action))
		result = struct{}{}
	}

	frame, err := wire.EncodeCallResult(msg.ID, result)
	if err != nil {
		d.logger.Error("ocpp: failed to encode response", zap.Error(err))
		frame, _ = wire.EncodeCallError(msg.ID, wire.ErrInternalError, "failed to encode response", nil)
	}
	return frame
}

// --- BootNotification ---

type bootNotificationRequest struct {
	ChargePointVendor string `json:"chargePointVendor"`
	ChargePointModel  string `json:"chargePointModel"`
	FirmwareVersion   string `json:"firmwareVersion"`
}

type bootNotificationResponse struct {
	Status      string `json:"status"`
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
}

const heartbeatIntervalSeconds = 300

func (d *dispatcher) bootNotification(stationID string, payload json.RawMessage, now time.Time) bootNotificationResponse {
	var req bootNotificationRequest
	_ = json.Unmarshal(payload, &req)

	d.registry.UpdateBoot(stationID, req.ChargePointVendor, req.ChargePointModel, req.FirmwareVersion, now)
	d.activity.Append(now, "station "+stationID+" sent BootNotification")
	d.bridge.PostAction("registerStation", map[string]any{
		"station_id": stationID,
		"vendor":     req.ChargePointVendor,
		"model":      req.ChargePointModel,
		"firmware":   req.FirmwareVersion,
	})

	return bootNotificationResponse{
		Status:      "Accepted",
		CurrentTime: now.UTC().Format(time.RFC3339),
		Interval:    heartbeatIntervalSeconds,
	}
}

// --- Heartbeat ---

type heartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

func (d *dispatcher) heartbeat(stationID string, now time.Time) heartbeatResponse {
	d.registry.Touch(stationID, now)
	d.bridge.PostAction("updateStation", map[string]any{
		"station_id": stationID,
		"event":      "update heartbeat",
	})
	return heartbeatResponse{CurrentTime: now.UTC().Format(time.RFC3339)}
}

// --- StatusNotification ---

type statusNotificationRequest struct {
	ConnectorID int    `json:"connectorId"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
}

// connectorBridgeStatus maps an OCPP connector status to the coarse
// state the bridge understands. Anything not explicitly Available,
// Charging, or Faulted is reported as offline, since the bridge has no
// finer-grained notion of Preparing/SuspendedEVSE/SuspendedEV/Finishing/
// Reserved/Unavailable.
func connectorBridgeStatus(status string) string {
	switch status {
	case "Available":
		return "available"
	case "Charging":
		return "charging"
	case "Faulted":
		return "error"
	case "Unavailable":
		return "offline"
	default:
		return "offline"
	}
}

func (d *dispatcher) statusNotification(stationID string, payload json.RawMessage, now time.Time) struct{} {
	var req statusNotificationRequest
	_ = json.Unmarshal(payload, &req)

	d.registry.Touch(stationID, now)
	d.activity.Append(now, "station "+stationID+" connector "+strconv.Itoa(req.ConnectorID)+" status "+req.Status)
	d.bridge.PostAction("updateStation", map[string]any{
		"station_id":   stationID,
		"connector_id": req.ConnectorID,
		"status":       connectorBridgeStatus(req.Status),
		"error_code":   req.ErrorCode,
	})
	return struct{}{}
}

// --- StartTransaction ---

type startTransactionRequest struct {
	ConnectorID int     `json:"connectorId"`
	IDTag       string  `json:"idTag"`
	MeterStart  float64 `json:"meterStart"`
	Timestamp   string  `json:"timestamp"`
}

type idTagInfo struct {
	Status string `json:"status"`
}

type startTransactionResponse struct {
	TransactionID int       `json:"transactionId"`
	IDTagInfo     idTagInfo `json:"idTagInfo"`
}

func (d *dispatcher) startTransaction(stationID string, payload json.RawMessage, now time.Time) startTransactionResponse {
	var req startTransactionRequest
	_ = json.Unmarshal(payload, &req)

	// A connector can only have one active transaction at a time. If the
	// station starts a new one without us ever seeing its StopTransaction
	// (a missed or lost message), close out the stale one first so it
	// doesn't linger as a ghost.
	if prior, ok := d.sessions.FindByConnector(stationID, req.ConnectorID); ok {
		if completed, ok := d.sessions.Finalize(prior.TxID, session.ReasonStop, now, nil); ok {
			d.activity.Append(now, "station "+stationID+" superseded transaction "+prior.TxID)
			d.bridge.PostAction("updateSession", map[string]any{
				"station_id": stationID,
				"tx_id":      prior.TxID,
				"energy_kwh": completed.EnergyKWh,
				"reason":     session.ReasonStop,
			})
		}
	}

	txID := d.sessions.NextTxID(now.UnixMilli())
	d.sessions.Open(txID, stationID, req.ConnectorID, now)
	d.sessions.UpdateMeter(txID, 0, req.MeterStart/1000, 0, 0, 0, now)

	d.registry.Touch(stationID, now)
	d.activity.Append(now, "station "+stationID+" started transaction "+txID)
	d.bridge.PostAction("createSession", map[string]any{
		"station_id":   stationID,
		"connector_id": req.ConnectorID,
		"tx_id":        txID,
		"id_tag":       req.IDTag,
	})

	intTxID, _ := strconv.Atoi(txID)
	return startTransactionResponse{
		TransactionID: intTxID,
		IDTagInfo:     idTagInfo{Status: "Accepted"},
	}
}

// --- StopTransaction ---

type stopTransactionRequest struct {
	TransactionID int     `json:"transactionId"`
	IDTag         string  `json:"idTag"`
	MeterStop     float64 `json:"meterStop"`
	Timestamp     string  `json:"timestamp"`
}

type stopTransactionResponse struct {
	IDTagInfo idTagInfo `json:"idTagInfo"`
}

func (d *dispatcher) stopTransaction(stationID string, payload json.RawMessage, now time.Time) stopTransactionResponse {
	var req stopTransactionRequest
	_ = json.Unmarshal(payload, &req)

	txID := strconv.Itoa(req.TransactionID)
	finalEnergy := req.MeterStop / 1000

	d.registry.Touch(stationID, now)
	if completed, ok := d.sessions.Finalize(txID, session.ReasonStop, now, &finalEnergy); ok {
		d.activity.Append(now, "station "+stationID+" stopped transaction "+txID)
		d.bridge.PostAction("updateSession", map[string]any{
			"station_id": stationID,
			"tx_id":      txID,
			"energy_kwh": completed.EnergyKWh,
			"reason":     session.ReasonStop,
		})
		if d.metrics != nil {
			d.metrics.RecordFinalization(context.Background(), string(session.ReasonStop))
		}
	}
	// A StopTransaction for an already-finalized id (e.g. raced by a
	// disconnect) is not an error: the station still gets Accepted.

	return stopTransactionResponse{IDTagInfo: idTagInfo{Status: "Accepted"}}
}

// --- MeterValues ---

type meterValuesRequest struct {
	ConnectorID   int           `json:"connectorId"`
	TransactionID *int          `json:"transactionId"`
	MeterValue    []meter.Value `json:"meterValue"`
}

func (d *dispatcher) meterValues(stationID string, payload json.RawMessage, now time.Time) struct{} {
	var req meterValuesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		d.logger.Warn("ocpp: malformed MeterValues payload", zap.String("station_id", stationID), zap.Error(err))
		return struct{}{}
	}

	d.registry.Touch(stationID, now)
	reading := meter.Parse(req.MeterValue)

	tx, ok := d.lookupOrRecoverTransaction(stationID, req, now)
	if !ok {
		// No known transaction and no samples to recover one from; nothing
		// to apply the reading to.
		return struct{}{}
	}
	d.sessions.UpdateMeter(tx.TxID, reading.PowerWatts, reading.EnergyKWh, reading.VoltageVolts, reading.CurrentAmps, reading.TemperatureC, now)
	d.bridge.PostTelemetry(bridge.Telemetry{
		StationID:   stationID,
		ConnectorID: tx.ConnectorID,
		Energy:      reading.EnergyKWh,
		Power:       reading.PowerWatts,
	})
	return struct{}{}
}

// lookupOrRecoverTransaction resolves the transaction a MeterValues call
// applies to: the named transaction id if it is active, otherwise the
// active transaction on (stationID, connectorId). If neither exists, a
// new "auto-" transaction is synthesized, but only when there is at
// least one meterValue entry, so an empty MeterValues on an unknown
// connector does not fabricate a session.
func (d *dispatcher) lookupOrRecoverTransaction(stationID string, req meterValuesRequest, now time.Time) (session.Transaction, bool) {
	if req.TransactionID != nil {
		txID := strconv.Itoa(*req.TransactionID)
		if tx, ok := d.sessions.FindByTx(txID); ok {
			return tx, true
		}
	}

	if tx, ok := d.sessions.FindByConnector(stationID, req.ConnectorID); ok {
		return tx, true
	}

	if len(req.MeterValue) == 0 {
		return session.Transaction{}, false
	}

	txID := "auto-" + strconv.FormatInt(now.UnixMilli(), 10)
	tx := d.sessions.Open(txID, stationID, req.ConnectorID, now)
	d.activity.Append(now, "station "+stationID+" auto-recovered transaction "+txID)
	d.bridge.PostAction("createSession", map[string]any{
		"station_id":   stationID,
		"connector_id": req.ConnectorID,
		"tx_id":        txID,
	})
	return *tx, true
}

// --- Authorize ---

type authorizeResponse struct {
	IDTagInfo idTagInfo `json:"idTagInfo"`
}

func (d *dispatcher) authorize(stationID string, now time.Time) authorizeResponse {
	d.registry.Touch(stationID, now)
	return authorizeResponse{IDTagInfo: idTagInfo{Status: "Accepted"}}
}
