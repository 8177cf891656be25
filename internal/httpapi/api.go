// Package httpapi exposes the gateway's read/command JSON API and its
// operator-facing dashboard and log surfaces.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/wire"
)

// API serves the JSON read/command endpoints over the in-memory
// registry and session store; there is no database behind it.
type API struct {
	registry *station.Registry
	sessions *session.Store
	activity *activity.Log
	logger   *zap.Logger
}

// New builds the JSON API.
func New(registry *station.Registry, sessions *session.Store, log *activity.Log, logger *zap.Logger) *API {
	return &API{registry: registry, sessions: sessions, activity: log, logger: logger}
}

// Routes mounts the JSON API under its caller-chosen prefix (typically /api).
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", a.getStatus)
	r.Get("/devices", a.getDevices)
	r.Get("/sessions", a.getSessions)
	r.Get("/sessions/{stationId}", a.getSessions)
	r.Get("/activity", a.getActivity)
	return r
}

// MountCommand mounts POST /command on r directly (it is not nested
// under /api).
func (a *API) MountCommand(r chi.Router) {
	r.Post("/command", a.postCommand)
}

type statusResponse struct {
	Success       bool `json:"success"`
	Devices       int  `json:"devices"`
	Sessions      int  `json:"sessions"`
	DevicesOnline int  `json:"devices_online"`
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Success:       true,
		Devices:       a.registry.Count(),
		Sessions:      a.sessions.CountActive(),
		DevicesOnline: a.registry.CountOnline(),
	})
}

type devicesResponse struct {
	Success bool             `json:"success"`
	Devices []station.Record `json:"devices"`
}

func (a *API) getDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, devicesResponse{Success: true, Devices: a.registry.SnapshotAll()})
}

type sessionsResponse struct {
	Success  bool                  `json:"success"`
	Sessions []session.Transaction `json:"sessions"`
}

func (a *API) getSessions(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationId")
	var sessions []session.Transaction
	if stationID == "" {
		sessions = a.sessions.AllActive()
	} else {
		sessions = a.sessions.ActiveByStation(stationID)
	}
	if sessions == nil {
		sessions = []session.Transaction{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Success: true, Sessions: sessions})
}

type activityResponse struct {
	Success bool              `json:"success"`
	Entries []activity.Entry `json:"entries"`
}

func (a *API) getActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, activityResponse{Success: true, Entries: a.activity.Snapshot()})
}

type commandRequest struct {
	StationID string          `json:"station_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

type commandResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type commandErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// postCommand handles POST /command: serializes a CALL frame onto a
// station's live connection, or reports the station unreachable.
func (a *API) postCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, commandErrorResponse{Error: "invalid JSON body"})
		return
	}

	sender := a.registry.Sender(req.StationID)
	if sender == nil {
		writeJSON(w, http.StatusNotFound, commandErrorResponse{Error: "Station not connected"})
		return
	}

	messageID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	frame, err := wire.EncodeCall(messageID, req.Action, req.Payload)
	if err != nil {
		a.logger.Error("httpapi: failed to encode command", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, commandErrorResponse{Error: "failed to encode command"})
		return
	}

	if !sender.Send(frame) {
		writeJSON(w, http.StatusNotFound, commandErrorResponse{Error: "Station not connected"})
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{Success: true, MessageID: messageID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
