package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"volts": func(v float64) string {
		return fmt.Sprintf("%1.3f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Mux Scanner</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
table.matrix th, table.matrix td { width: auto; text-align: right; }
tr.selected { background: #e6f4e6; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.unknown { color: orange; }
</style>
</head>
<body>
<h1>Mux Scanner</h1>

<h2>State</h2>
<table>
<tr><th>Phase</th><td id="phase">{{.Phase}}</td></tr>
<tr><th>Selected group</th><td id="group">{{if .Selection.Valid}}{{.Selection.Group}} (average {{.Selection.Average}}){{else}}<span class="unknown">none</span>{{end}}</td></tr>
<tr><th>Cycle</th><td>{{.Cycle}}</td></tr>
<tr><th>Sweeps</th><td>{{.Sweeps}}</td></tr>
<tr><th>Failures</th><td>{{.Failures}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td>{{.LastError}}</td></tr>{{end}}
</table>

{{if .HasReport}}
<h2>Last Report</h2>
<table id="report">
<tr><th>Group</th><td>{{.Report.Group}}</td></tr>
<tr><th>Time</th><td>{{.Report.Time.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
{{range $c, $v := .Report.Volts}}<tr><th>Channel {{$c}}</th><td>{{volts $v}} V</td></tr>
{{end}}</table>
{{end}}

{{if .Selection.Valid}}
<h2>Calibration Matrix</h2>
<table class="matrix" id="matrix">
<tr><th>Group</th>{{range .Channels}}<th>{{.}}</th>{{end}}<th>Avg</th></tr>
{{range .Rows}}<tr{{if .Selected}} class="selected"{{end}}><th>{{.Group}}</th>{{range .Cells}}<td>{{.}}</td>{{end}}<td>{{.Average}}</td></tr>
{{end}}</table>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Driver</th><td>{{.Config.Driver}}</td></tr>
<tr><th>Burst size</th><td>{{.Config.BurstSize}}</td></tr>
<tr><th>Cycle delay</th><td>{{.Config.CycleDelayMs}}ms</td></tr>
<tr><th>Rescan every</th><td>{{.Config.RescanEvery}} cycles</td></tr>
<tr><th>Serial</th><td>{{if .Config.SerialPort}}{{.Config.SerialPort}}{{else}}stdout{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type matrixRow struct {
	Group    int
	Cells    []uint16
	Average  uint16
	Selected bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	rows := make([]matrixRow, logic.Groups)
	for g := range rows {
		cells := snap.Matrix[g]
		rows[g] = matrixRow{
			Group:    g,
			Cells:    cells[:],
			Average:  snap.Averages[g],
			Selected: snap.Selection.Valid && int(snap.Selection.Group) == g,
		}
	}
	channels := make([]int, logic.ChannelsPerGroup)
	for c := range channels {
		channels[c] = c
	}

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Rows     []matrixRow
		Channels []int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Rows:     rows,
		Channels: channels,
	}
	return indexTmpl.Execute(w, data)
}
