package flowserver

import (
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/poolflow/internal/httputil"
)

// AttachAdminRoutes mounts the server's status and a streaming toggle on the
// /debug/ page of mux. These routes are only reachable from localhost or
// over Tailscale.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("TCP client", func() any {
		if addr := s.ClientAddr(); addr != "" {
			return addr
		}
		return "none"
	})
	debug.KVFunc("Flow-map streaming", func() any { return s.Streaming() })

	debug.HandleFunc("flowserver", "TCP protocol server counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// POST streaming=on|off behaves like client opcodes 3 and 4.
	debug.HandleSilentFunc("flowserver-streaming", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		switch strings.TrimSpace(r.FormValue("streaming")) {
		case "on":
			s.SetStreaming(true)
		case "off":
			s.SetStreaming(false)
		default:
			httputil.BadRequest(w, "streaming must be on or off")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
