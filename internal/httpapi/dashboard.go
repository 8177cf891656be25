package httpapi

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
)

// Dashboard renders a server-rendered operator page listing connected
// stations and active sessions. There is no prebuilt SPA bundle in this
// module, so the page is rendered with html/template (see DESIGN.md).
type Dashboard struct {
	registry *station.Registry
	sessions *session.Store
	logger   *zap.Logger
	tmpl     *template.Template
}

// NewDashboard builds the dashboard handler.
func NewDashboard(registry *station.Registry, sessions *session.Store, logger *zap.Logger) *Dashboard {
	return &Dashboard{
		registry: registry,
		sessions: sessions,
		logger:   logger,
		tmpl:     template.Must(template.New("dashboard").Parse(dashboardTemplate)),
	}
}

type dashboardData struct {
	Devices  []station.Record
	Sessions []session.Transaction
}

// ServeHTTP renders GET /.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := dashboardData{
		Devices:  d.registry.SnapshotAll(),
		Sessions: d.sessions.AllActive(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.tmpl.Execute(w, data); err != nil {
		d.logger.Error("dashboard: render failed", zap.Error(err))
	}
}

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head>
<title>OCPP Session Gateway</title>
<meta http-equiv="refresh" content="5">
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
th { background: #f0f0f0; }
.online { color: green; }
.offline { color: #999; }
</style>
</head>
<body>
<h1>OCPP Session Gateway</h1>

<h2>Stations</h2>
<table>
<tr><th>ID</th><th>Status</th><th>Vendor</th><th>Model</th><th>Firmware</th><th>Last Heartbeat</th></tr>
{{range .Devices}}
<tr>
<td>{{.ID}}</td>
<td class="{{.Status}}">{{.Status}}</td>
<td>{{.Vendor}}</td>
<td>{{.Model}}</td>
<td>{{.FirmwareVer}}</td>
<td>{{.LastHeartbeat}}</td>
</tr>
{{end}}
</table>

<h2>Active Sessions</h2>
<table>
<tr><th>Tx ID</th><th>Station</th><th>Connector</th><th>Started</th><th>Power (W)</th><th>Energy (kWh)</th></tr>
{{range .Sessions}}
<tr>
<td>{{.TxID}}</td>
<td>{{.StationID}}</td>
<td>{{.ConnectorID}}</td>
<td>{{.StartTime}}</td>
<td>{{.PowerWatts}}</td>
<td>{{.EnergyKWh}}</td>
</tr>
{{end}}
</table>

<p><a href="/logs">Session history</a></p>
</body>
</html>
`
