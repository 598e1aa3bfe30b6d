package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"duration": func(d time.Duration) string {
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
	"stateClass": func(s string) string {
		switch s {
		case "ON":
			return "on"
		case "OFF":
			return "off"
		default:
			return "unknown"
		}
	},
	"temp": func(f float64) string {
		return fmt.Sprintf("%.1f°C", f)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PSU Off</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>PSU Off</h1>

<h2>Power</h2>
<table>
<tr><th>Supply</th><td id="psu-state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Relay</th><td>{{.Cfg.GPIO.Mode}} {{.Cfg.GPIO.Pin}}{{if .Cfg.GPIO.Invert}} (inverted){{end}}, {{.Power.Revision}}</td></tr>
</table>

<h2>Idle</h2>
<table>
{{if .Cfg.Idle.Enabled}}<tr><th>Timeout</th><td>{{duration .Cfg.Idle.Timeout}}</td></tr>
<tr><th>Remaining</th><td id="idle-remaining">{{if .Power.TimerArmed}}{{duration .Power.Remaining}}{{else}}not armed{{end}}</td></tr>
<tr><th>Safety temp</th><td>{{temp .Cfg.Idle.SafetyTemp}}</td></tr>
<tr><th>Ignored</th><td>{{range $i, $c := .Cfg.Idle.IgnoreCommands}}{{if $i}}, {{end}}{{$c}}{{end}}</td></tr>
{{if .Power.LastCommand}}<tr><th>Last activity</th><td>{{.Power.LastCommand}} at {{.Power.LastActivity.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
{{else}}<tr><th>Idle power off</th><td>disabled</td></tr>{{end}}
</table>

<h2>Cooldown</h2>
<table>
<tr><th>State</th><td id="cooldown-state">{{if .Power.Cooldown}}{{.Power.Cooldown}}{{else}}IDLE{{end}}</td></tr>
{{if .Power.Waiting}}<tr><th>Hottest tool</th><td>{{temp .Power.ToolTemp}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Printer</th><td class="{{if .PrinterConnected}}connected{{else}}disconnected{{end}}">{{if .PrinterConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Printer URL</th><td>{{.Info.PrinterURL}}</td></tr>
{{if .Info.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Info.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{duration .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
{{if .Info.Version}}<tr><th>Version</th><td>{{.Info.Version}}</td></tr>{{end}}
<tr><th>Heartbeat</th><td>{{if eq .Info.Heartbeat 0}}disabled{{else}}{{duration .Info.Heartbeat}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Info.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	state := string(snap.Power.State)
	if !snap.Updated || state == "" {
		state = "UNKNOWN"
	}
	data := struct {
		status.Snapshot
		State  string
		Cfg    config.Config
		Uptime time.Duration
	}{
		Snapshot: snap,
		State:    state,
		Cfg:      snap.Power.Config,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
