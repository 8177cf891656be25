package httpapi

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
)

var csvColumns = []string{
	"Date", "Station", "Port", "Start Time", "End Time", "Duration (min)",
	"Energy (kWh)", "Max Power (W)", "Avg Voltage (V)", "Avg Current (A)",
}

// Logs serves the completed-session history view and its CSV export.
type Logs struct {
	sessions *session.Store
	logger   *zap.Logger
	tmpl     *template.Template
}

// NewLogs builds the logs handler.
func NewLogs(sessions *session.Store, logger *zap.Logger) *Logs {
	return &Logs{
		sessions: sessions,
		logger:   logger,
		tmpl:     template.Must(template.New("logs").Parse(logsTemplate)),
	}
}

// Routes mounts GET /logs and GET /port/{n}.
func (l *Logs) Routes(r chi.Router) {
	r.Get("/logs", l.getLogs)
	r.Get("/port/{n}", l.getPort)
}

func (l *Logs) getLogs(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station")
	sessions := l.sessions.CompletedSessions(stationID)

	if date := r.URL.Query().Get("date"); date != "" {
		sessions = filterByDate(sessions, date)
	}

	if r.URL.Query().Get("format") == "csv" {
		l.writeCSV(w, sessions)
		return
	}
	l.writeHTML(w, sessions)
}

// filterByDate keeps only the sessions whose start date (YYYY-MM-DD,
// matching the CSV export's Date column) equals date.
func filterByDate(sessions []session.Completed, date string) []session.Completed {
	const dateFormat = "2006-01-02"
	out := make([]session.Completed, 0, len(sessions))
	for _, c := range sessions {
		if c.StartTime.Format(dateFormat) == date {
			out = append(out, c)
		}
	}
	return out
}

// getPort lists completed sessions for one connector number across
// every station, a thin filter over the same history.
func (l *Logs) getPort(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "invalid port number", http.StatusBadRequest)
		return
	}

	all := l.sessions.CompletedSessions("")
	filtered := make([]session.Completed, 0, len(all))
	for _, c := range all {
		if c.ConnectorID == n {
			filtered = append(filtered, c)
		}
	}
	l.writeHTML(w, filtered)
}

func (l *Logs) writeCSV(w http.ResponseWriter, sessions []session.Completed) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.csv"`)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		l.logger.Error("logs: failed to write CSV header", zap.Error(err))
		return
	}
	for _, c := range sessions {
		if err := writer.Write(csvRow(c)); err != nil {
			l.logger.Error("logs: failed to write CSV row", zap.Error(err))
			return
		}
	}
}

func csvRow(c session.Completed) []string {
	const dateFormat = "2006-01-02"
	const timeFormat = "15:04:05"
	return []string{
		c.StartTime.Format(dateFormat),
		c.StationID,
		strconv.Itoa(c.ConnectorID),
		c.StartTime.Format(timeFormat),
		c.EndTime.Format(timeFormat),
		strconv.FormatInt(c.DurationMinutes, 10),
		fmt.Sprintf("%.3f", c.EnergyKWh),
		fmt.Sprintf("%.0f", c.MaxPowerWatts),
		fmt.Sprintf("%.1f", c.AvgVoltageVolts),
		fmt.Sprintf("%.1f", c.AvgCurrentAmps),
	}
}

func (l *Logs) writeHTML(w http.ResponseWriter, sessions []session.Completed) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := l.tmpl.Execute(w, sessions); err != nil {
		l.logger.Error("logs: render failed", zap.Error(err))
	}
}

const logsTemplate = `<!DOCTYPE html>
<html>
<head><title>Session History</title></head>
<body>
<h1>Session History</h1>
<p><a href="?format=csv">Download CSV</a> | <a href="/">Back to dashboard</a></p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Date</th><th>Station</th><th>Port</th><th>Start</th><th>End</th><th>Duration (min)</th><th>Energy (kWh)</th><th>Max Power (W)</th><th>Avg Voltage (V)</th><th>Avg Current (A)</th><th>Reason</th></tr>
{{range .}}
<tr>
<td>{{.StartTime.Format "2006-01-02"}}</td>
<td>{{.StationID}}</td>
<td>{{.ConnectorID}}</td>
<td>{{.StartTime.Format "15:04:05"}}</td>
<td>{{.EndTime.Format "15:04:05"}}</td>
<td>{{.DurationMinutes}}</td>
<td>{{printf "%.3f" .EnergyKWh}}</td>
<td>{{printf "%.0f" .MaxPowerWatts}}</td>
<td>{{printf "%.1f" .AvgVoltageVolts}}</td>
<td>{{printf "%.1f" .AvgCurrentAmps}}</td>
<td>{{.Reason}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`
