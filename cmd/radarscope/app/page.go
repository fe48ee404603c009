package app

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/roman-kulish/radarscope/internal/scope"
	"github.com/roman-kulish/radarscope/internal/telemetry"
)

const (
	statusOnline   = "ONLINE"
	statusOffline  = "OFFLINE"
	waitingMessage = "Waiting for telemetry..."
	noValue        = "--"
	pollInterval   = 500 // ms
)

// pageWriter remembers the first write error so the page can be written
// without checking every call.
type pageWriter struct {
	w   io.Writer
	err error
}

func (pw *pageWriter) raw(s string) {
	if pw.err == nil {
		_, pw.err = io.WriteString(pw.w, s)
	}
}

func (pw *pageWriter) text(s string) {
	pw.raw(templ.EscapeString(s))
}

func (pw *pageWriter) rawf(format string, args ...any) {
	pw.raw(fmt.Sprintf(format, args...))
}

func valueOr(v *string) string {
	if v == nil {
		return noValue
	}
	return *v
}

func statusText(connected bool) string {
	if connected {
		return statusOnline
	}
	return statusOffline
}

// controlPage renders the panel: connection status, telemetry, commands and
// the log next to the live scope stream. The page polls the JSON API to
// stay current.
func controlPage(view *telemetry.Telemetry, entries []telemetry.LogEntry, p scope.Palette) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		pw := pageWriter{w: w}

		pw.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>RADARSCOPE</title><style>`)
		pw.rawf(`body{margin:0;background:%s;color:%s;font-family:monospace;display:flex;gap:24px;padding:24px}`, scope.Hex(p.Background), scope.Hex(p.Primary))
		pw.rawf(`.danger{color:%s}.warning{color:%s}.safe{color:%s}`, scope.Hex(p.Danger), scope.Hex(p.Warning), scope.Hex(p.Safe))
		pw.raw(`.panel{min-width:280px}.row{display:flex;justify-content:space-between;margin:4px 0}.hidden{display:none}`)
		pw.rawf(`button{background:none;border:1px solid %s;color:inherit;font-family:inherit;padding:6px 10px;margin:4px 4px 0 0;cursor:pointer}`, scope.Hex(p.Primary))
		pw.raw(`ol{list-style:none;padding:0;font-size:12px}</style></head><body>`)

		pw.raw(`<img src="/stream" alt="radar scope"><div class="panel"><h2>SYSTEM STATUS: <span id="status">`)
		pw.text(statusText(view.Connected))
		pw.raw(`</span></h2>`)

		pw.raw(`<p id="waiting"`)
		if view.HasSnapshot {
			pw.raw(` class="hidden"`)
		}
		pw.raw(`>`)
		pw.text(waitingMessage)
		pw.raw(`</p>`)

		pw.raw(`<button id="initialize" data-command="start"`)
		if !view.ShowInitialize {
			pw.raw(` class="hidden"`)
		}
		pw.raw(`>INITIALIZE SIM</button>`)

		pw.raw(`<div id="telemetry"`)
		if !view.HasSnapshot {
			pw.raw(` class="hidden"`)
		}
		pw.raw(`>`)
		rows := []struct{ label, id, value, class string }{
			{"THREAT LEVEL", "threatLevel", view.ThreatLevel, string(view.ThreatStyle)},
			{"TARGET X", "targetX", valueOr(view.TargetX), ""},
			{"TARGET Y", "targetY", valueOr(view.TargetY), ""},
			{"TURRET AZIMUTH", "turretAngle", valueOr(view.TurretAngle), ""},
			{"WEAPON LOCK", "lockStatus", valueOr(view.LockStatus), ""},
			{"LAST UPDATE", "lastUpdate", view.LastUpdate, ""},
		}
		for _, row := range rows {
			pw.raw(`<div class="row"><span>`)
			pw.text(row.label)
			pw.rawf(`</span><span id="%s" class="%s">`, row.id, templ.EscapeString(row.class))
			pw.text(row.value)
			pw.raw(`</span></div>`)
		}
		pw.raw(`<button data-command="start">RESUME</button><button data-command="stop">PAUSE</button>`)
		pw.raw(`<button data-command="reset">SYSTEM RESET</button><button data-command="fire">FIRE</button></div>`)

		pw.raw(`<h3>LOG</h3><ol id="log">`)
		for _, e := range entries {
			pw.raw(`<li>[`)
			pw.text(e.Timestamp)
			pw.raw(`] `)
			pw.text(e.Message)
			pw.raw(`</li>`)
		}
		pw.raw(`</ol></div>`)

		pw.rawf(`<script>
const $ = (id) => document.getElementById(id);
const text = (v) => v === undefined || v === null || v === "" ? %q : v;
document.querySelectorAll("button[data-command]").forEach((b) => b.addEventListener("click", () =>
  fetch("/api/commands/" + b.dataset.command, {method: "POST"})));
async function refresh() {
  try {
    const s = await (await fetch("/api/status")).json();
    $("status").textContent = s.connected ? %q : %q;
    $("waiting").classList.toggle("hidden", s.hasSnapshot);
    $("initialize").classList.toggle("hidden", !s.showInitialize);
    $("telemetry").classList.toggle("hidden", !s.hasSnapshot);
    $("threatLevel").textContent = text(s.threatLevel);
    $("threatLevel").className = s.threatStyle || "";
    for (const k of ["targetX", "targetY", "turretAngle", "lockStatus", "lastUpdate"]) $(k).textContent = text(s[k]);
    const log = await (await fetch("/api/log")).json();
    $("log").replaceChildren(...log.map((e) => {
      const li = document.createElement("li");
      li.textContent = "[" + e.timestamp + "] " + e.message;
      return li;
    }));
  } catch (e) {}
}
setInterval(refresh, %d);
</script></body></html>`, noValue, statusOnline, statusOffline, pollInterval)

		return pw.err
	})
}
