// Package ocpp implements the OCPP 1.6J server endpoint: the WebSocket
// connection lifecycle (this file) and the per-action transaction state
// machine (transaction.go).
package ocpp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/bridge"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/clock"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/metrics"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/wire"
)

const readWait = 90 * time.Second

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"ocpp1.6"},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		http.Error(w, "upgrade required", http.StatusBadRequest)
	},
}

// Server is the OCPP 1.6J connection endpoint. It owns no domain state
// itself; everything is delegated to the registry, store, and
// dispatcher it was built with.
type Server struct {
	registry   *station.Registry
	sessions   *session.Store
	activity   *activity.Log
	bridge     *bridge.Client
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *zap.Logger
	dispatcher *dispatcher
}

// New builds the OCPP server endpoint. metrics may be nil if metrics
// collection has not been wired (e.g. during tests).
func New(registry *station.Registry, sessions *session.Store, log *activity.Log, br *bridge.Client, m *metrics.Metrics, c clock.Clock, logger *zap.Logger) *Server {
	s := &Server{
		registry: registry,
		sessions: sessions,
		activity: log,
		bridge:   br,
		metrics:  m,
		clock:    c,
		logger:   logger,
	}
	s.dispatcher = &dispatcher{
		registry: registry,
		sessions: sessions,
		activity: log,
		bridge:   br,
		metrics:  m,
		logger:   logger,
	}
	return s
}

// Mount registers the WebSocket endpoint on r.
func (s *Server) Mount(r chi.Router) {
	r.HandleFunc("/ocpp16/{id}", s.handleConnection)
	s.logger.Info("ocpp: server mounted at /ocpp16/{id}")
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "id")
	if stationID == "" || stationID == "ocpp16" {
		http.Error(w, "station id is required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ocpp: upgrade failed", zap.String("station_id", stationID), zap.Error(err))
		return
	}

	c := newConn(stationID, ws, s.logger)
	now := s.clock.Now()
	s.registry.Register(stationID, c, now)
	s.activity.Append(now, "station "+stationID+" connected")
	s.logger.Info("ocpp: station connected", zap.String("station_id", stationID))

	s.readLoop(stationID, c)
}

// readLoop processes CALL frames from the station one at a time, in
// arrival order, replying with exactly one CALLRESULT or CALLERROR per
// CALL. On disconnect it marks the station offline and finalizes every
// transaction still open on it.
func (s *Server) readLoop(stationID string, c *conn) {
	defer s.handleDisconnect(stationID, c)

	for {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Info("ocpp: connection closed", zap.String("station_id", stationID), zap.Error(err))
			}
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			s.logger.Warn("ocpp: malformed frame, ignoring", zap.String("station_id", stationID), zap.Error(err))
			continue
		}
		if msg.Type != wire.Call {
			// This gateway issues no CALLs of its own in the steady state,
			// so a CALLRESULT/CALLERROR from the station has nothing
			// pending to match; observe and move on.
			continue
		}

		reply := s.dispatcher.dispatch(stationID, msg, s.clock.Now())
		c.Send(reply)
	}
}

func (s *Server) handleDisconnect(stationID string, c *conn) {
	c.Close()
	s.registry.MarkOffline(stationID)
	now := s.clock.Now()

	for _, tx := range s.sessions.ActiveByStation(stationID) {
		if _, ok := s.sessions.Finalize(tx.TxID, session.ReasonDisconnect, now, nil); ok {
			s.recordFinalization(tx, session.ReasonDisconnect)
		}
	}

	s.activity.Append(now, "station "+stationID+" disconnected")
	s.logger.Info("ocpp: station disconnected", zap.String("station_id", stationID))
}

func (s *Server) recordFinalization(tx session.Transaction, reason session.Reason) {
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
