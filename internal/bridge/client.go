// Package bridge forwards station events and telemetry to an external
// webhook, fire-and-forget.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// ActionEvent is the envelope posted for a discrete station event
// (boot, transaction start/stop, status change).
type ActionEvent struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// Telemetry is the envelope posted for a live meter reading.
type Telemetry struct {
	StationID   string  `json:"station_id"`
	ConnectorID int     `json:"connector_id"`
	Energy      float64 `json:"energy"`
	Power       float64 `json:"power"`
}

// Client posts events to a configured bridge URL. A zero-value Client
// (empty URL) is a no-op, so wiring it is optional at startup.
type Client struct {
	url    string
	secret string
	logger *zap.Logger
	http   *http.Client
}

// New creates a bridge client. If url is empty, every Post call is a
// no-op; callers don't need to branch on configuration.
func New(url, secret string, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		secret: secret,
		logger: logger,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

// PostAction forwards an action envelope in the background. Errors are
// logged, never returned: the bridge is best-effort and must not block
// OCPP message handling.
func (c *Client) PostAction(action string, data any) {
	c.post(ActionEvent{Action: action, Data: data})
}

// PostTelemetry forwards a telemetry frame in the background.
func (c *Client) PostTelemetry(t Telemetry) {
	c.post(t)
}

func (c *Client) post(body any) {
	if c.url == "" {
		return
	}
	go func() {
		payload, err := json.Marshal(body)
		if err != nil {
			c.logger.Error("bridge: failed to marshal payload", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			c.logger.Error("bridge: failed to build request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			req.Header.Set("x-bridge-secret", c.secret)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("bridge: request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			c.logger.Warn("bridge: non-2xx response", zap.Int("status", resp.StatusCode))
		}
	}()
}
