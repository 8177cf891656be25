package ocpp

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/bridge"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/clock"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
)

type testHarness struct {
	t        *testing.T
	server   *httptest.Server
	registry *station.Registry
	sessions *session.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	registry := station.New()
	sessions := session.New()
	log := activity.New()
	br := bridge.New("", "", zap.NewNop())

	s := New(registry, sessions, log, br, nil, clock.Real{}, zap.NewNop())
	r := chi.NewRouter()
	s.Mount(r)
	srv := httptest.NewServer(r)

	return &testHarness{t: t, server: srv, registry: registry, sessions: sessions}
}

func (h *testHarness) dial(stationID string) *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ocpp16/" + stationID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("dial: %v", err)
	}
	return ws
}

func call(t *testing.T, ws *websocket.Conn, id, action string, payload any) map[string]any {
	t.Helper()
	body, _ := json.Marshal(payload)
	frame, _ := json.Marshal([]any{2, id, action, json.RawMessage(body)})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frameParts []json.RawMessage
	if err := json.Unmarshal(raw, &frameParts); err != nil {
		t.Fatalf("response not a JSON array: %v", err)
	}
	if len(frameParts) < 3 {
		t.Fatalf("response frame too short: %s", raw)
	}

	var result map[string]any
	json.Unmarshal(frameParts[2], &result)
	return result
}

// TestHappyPathSession covers S1: boot, start, meter values, stop.
func TestHappyPathSession(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()
	ws := h.dial("CP01")
	defer ws.Close()

	boot := call(t, ws, "1", "BootNotification", map[string]any{
		"chargePointVendor": "ACME", "chargePointModel": "X1",
	})
	if boot["status"] != "Accepted" {
		t.Fatalf("boot status = %v, want Accepted", boot["status"])
	}

	start := call(t, ws, "2", "StartTransaction", map[string]any{
		"connectorId": 1, "idTag": "tag1", "meterStart": 0,
	})
	txIDFloat, ok := start["transactionId"].(float64)
	if !ok {
		t.Fatalf("transactionId missing or wrong type: %+v", start)
	}
	txID := fmt.Sprintf("%d", int(txIDFloat))

	if active, ok := h.sessions.FindByTx(txID); !ok || active.StationID != "CP01" {
		t.Fatalf("expected active transaction for CP01, got %+v ok=%v", active, ok)
	}

	meterReq := map[string]any{
		"connectorId":   1,
		"transactionId": int(txIDFloat),
		"meterValue": []map[string]any{{
			"timestamp": time.Now().Format(time.RFC3339),
			"sampledValue": []map[string]any{
				{"measurand": "Power.Active.Import", "value": "1500"},
			},
		}},
	}
	call(t, ws, "3", "MeterValues", meterReq)

	tx, _ := h.sessions.FindByTx(txID)
	if tx.PowerWatts != 1500 {
		t.Errorf("PowerWatts = %v, want 1500", tx.PowerWatts)
	}

	stop := call(t, ws, "4", "StopTransaction", map[string]any{
		"transactionId": int(txIDFloat), "meterStop": 3600,
	})
	if stop["idTagInfo"].(map[string]any)["status"] != "Accepted" {
		t.Errorf("stop status = %+v", stop)
	}

	if _, ok := h.sessions.FindByTx(txID); ok {
		t.Error("transaction should be finalized after StopTransaction")
	}
	completed := h.sessions.CompletedSessions("CP01")
	if len(completed) != 1 || completed[0].EnergyKWh != 3.6 {
		t.Errorf("completed = %+v, want one session with 3.6 kWh", completed)
	}
}

// TestMeterValuesAutoRecovery covers S2: an orphan MeterValues with no
// preceding StartTransaction synthesizes a transaction.
func TestMeterValuesAutoRecovery(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()
	ws := h.dial("CP02")
	defer ws.Close()

	call(t, ws, "1", "BootNotification", map[string]any{"chargePointVendor": "ACME"})

	meterReq := map[string]any{
		"connectorId": 1,
		"meterValue": []map[string]any{{
			"timestamp": time.Now().Format(time.RFC3339),
			"sampledValue": []map[string]any{
				{"measurand": "Power.Active.Import", "value": "800"},
			},
		}},
	}
	call(t, ws, "2", "MeterValues", meterReq)

	active := h.sessions.ActiveByStation("CP02")
	if len(active) != 1 {
		t.Fatalf("expected one auto-recovered transaction, got %d", len(active))
	}
	if !strings.HasPrefix(active[0].TxID, "auto-") {
		t.Errorf("TxID = %q, want auto- prefix", active[0].TxID)
	}
	if active[0].PowerWatts != 800 {
		t.Errorf("PowerWatts = %v, want 800", active[0].PowerWatts)
	}
}

// TestDisconnectFinalizesActiveTransactions covers the disconnect-cleanup
// finalization path.
func TestDisconnectFinalizesActiveTransactions(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()
	ws := h.dial("CP03")

	call(t, ws, "1", "BootNotification", map[string]any{"chargePointVendor": "ACME"})
	start := call(t, ws, "2", "StartTransaction", map[string]any{
		"connectorId": 1, "idTag": "tag1", "meterStart": 0,
	})
	txID := fmt.Sprintf("%d", int(start["transactionId"].(float64)))

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.sessions.FindByTx(txID); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := h.sessions.FindByTx(txID); ok {
		t.Error("transaction should be finalized after disconnect")
	}
	completed := h.sessions.CompletedSessions("CP03")
	if len(completed) != 1 || completed[0].Reason != session.ReasonDisconnect {
		t.Errorf("completed = %+v, want one session with reason disconnect", completed)
	}

	rec, ok := h.registry.Lookup("CP03")
	if !ok || rec.Status != station.Offline {
		t.Errorf("expected CP03 marked offline, got %+v ok=%v", rec, ok)
	}
}

// TestUnknownActionGetsEmptyResult ensures unrecognized CALLs still get a
// well-formed reply instead of silence.
func TestUnknownActionGetsEmptyResult(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()
	ws := h.dial("CP04")
	defer ws.Close()

	result := call(t, ws, "1", "DiagnosticsStatusNotification", map[string]any{"status": "Idle"})
	if len(result) != 0 {
		t.Errorf("expected empty result map, got %+v", result)
	}
}
