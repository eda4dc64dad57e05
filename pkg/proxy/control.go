package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getdproxy/dproxy/pkg/forward"
	"github.com/getdproxy/dproxy/pkg/httputil"
	"github.com/getdproxy/dproxy/pkg/mode"
)

// captureAdmin is the optional admin view of a capture repository.
// The in-memory repository implements it; a read-only backend may not.
type captureAdmin interface {
	Count() int
	Clear() int
	Export() ([]byte, error)
}

type modeBody struct {
	Mode string `json:"mode"`
}

type healthBody struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Uptime string `json:"uptime"`
}

type statsBody struct {
	Mode     string                `json:"mode"`
	Uptime   string                `json:"uptime"`
	Forward  forward.StatsSnapshot `json:"forward"`
	Captures int                   `json:"captures"`
}

func (s *Server) buildControlMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_dproxy/mode", s.handleGetMode)
	mux.HandleFunc("PUT /_dproxy/mode", s.handleSetMode)
	mux.HandleFunc("GET /_dproxy/health", s.handleHealth)
	mux.HandleFunc("GET /_dproxy/stats", s.handleStats)
	mux.HandleFunc("GET /_dproxy/captures", s.handleExportCaptures)
	mux.HandleFunc("DELETE /_dproxy/captures", s.handleClearCaptures)
	if s.metrics != nil {
		mux.Handle("GET /_dproxy/metrics", s.metrics.Registry.Handler())
	}
	return mux
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, modeBody{Mode: string(s.service.ActiveMode())})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body modeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequest(w, "invalid JSON body")
		return
	}
	m, err := mode.Parse(body.Mode)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.service.SetMode(m); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteOK(w, modeBody{Mode: string(m)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, healthBody{
		Status: "ok",
		Mode:   string(s.service.ActiveMode()),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	body := statsBody{
		Mode:   string(s.service.ActiveMode()),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.forwarder != nil {
		body.Forward = s.forwarder.Stats()
	}
	if admin, ok := s.repo.(captureAdmin); ok {
		body.Captures = admin.Count()
	}
	httputil.WriteOK(w, body)
}

func (s *Server) handleExportCaptures(w http.ResponseWriter, _ *http.Request) {
	admin, ok := s.repo.(captureAdmin)
	if !ok {
		httputil.WriteNotFound(w, "capture export not supported by this repository")
		return
	}
	data, err := admin.Export()
	if err != nil {
		httputil.WriteInternalError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleClearCaptures(w http.ResponseWriter, _ *http.Request) {
	admin, ok := s.repo.(captureAdmin)
	if !ok {
		httputil.WriteNotFound(w, "capture clearing not supported by this repository")
		return
	}
	cleared := admin.Clear()
	httputil.WriteOK(w, map[string]int{"cleared": cleared})
}
