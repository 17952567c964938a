package l1link

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

const consolePage = `<!doctype html>
<html><head><title>scan link</title></head>
<body>
<form id="f"><input name="command" placeholder="PP" autofocus> <button>send</button></form>
<pre id="out"></pre>
<script>
const out = document.getElementById("out");
document.getElementById("f").onsubmit = async (e) => {
  e.preventDefault();
  const r = await fetch("scan-link-command", {method: "POST", body: new FormData(e.target)});
  out.textContent += "> " + (await r.text()) + "\n";
};
new EventSource("scan-link-tail").onmessage = (e) => { out.textContent += e.data + "\n"; };
</script>
</body></html>
`

// AttachAdminRoutes attaches the sensor console to the /debug/ handler.
// These routes are accessible only over localhost or the tailnet.
func (l *Link[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("scan-link", "sensor link command console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, consolePage)
	})

	debug.HandleSilentFunc("scan-link-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := l.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to sensor", command)
	})

	debug.HandleSilentFunc("scan-link-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Stats  Stats  `json:"stats"`
			Params Params `json:"params"`
		}{l.Stats(), l.Params()})
	})

	// Server-sent events carrying every raw line from the sensor.
	debug.HandleSilentFunc("scan-link-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := l.Subscribe()
		defer l.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
