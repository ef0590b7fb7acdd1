package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fireflies/internal/status"
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
	"ago": func(now, then time.Time) string {
		if then.IsZero() {
			return "never"
		}
		return now.Sub(then).Truncate(100*time.Millisecond).String() + " ago"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Fireflies</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.lit { color: #c9a400; font-weight: bold; }
.dark { color: #888; }
.faulted { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Fireflies</h1>

<h2>Fireflies ({{.Lit}} lit, {{.Faulted}} faulted)</h2>
<table>
<tr><th>Label</th><th>Pin</th><th>State</th><th>Flashes</th><th>Last lit</th></tr>
{{range .Fireflies}}<tr>
<td>{{.Label}}</td>
<td>{{.Pin}}</td>
{{if .Faulted}}<td class="faulted" title="{{.Fault}}">FAULT</td>{{else if eq (printf "%s" .State) "LIT"}}<td class="lit">LIT</td>{{else}}<td class="dark">DARK</td>{{end}}
<td>{{.Flashes}}</td>
<td>{{ago $.Now .LastLit}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>LIGHT ON</th><td>{{.Counts.LightOn}}</td></tr>
<tr><th>LIGHT OFF</th><td>{{.Counts.LightOff}}</td></tr>
<tr><th>FAULT</th><td>{{.Counts.Faults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Chip</th><td>{{.Config.Chip}}</td></tr>
<tr><th>Light</th><td>{{.Config.LightMs}}ms</td></tr>
<tr><th>Dark</th><td>{{.Config.MinDarkMs}}ms to {{.Config.MaxDarkMs}}ms</td></tr>
<tr><th>Sweep</th><td>{{if eq .Config.SweepIntervalMs 0}}busy poll{{else}}{{.Config.SweepIntervalMs}}ms{{end}}</td></tr>
<tr><th>Fault policy</th><td>{{.Config.FaultPolicy}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime, Lit and Faulted methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Lit     int
		Faulted int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Lit:      snap.Lit(),
		Faulted:  snap.Faulted(),
	}
	indexTmpl.Execute(w, data)
}
