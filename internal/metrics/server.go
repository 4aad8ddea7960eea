package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/acc-pipeline/internal/acc"
)

// HealthStatus represents the health state of the ACC unit
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       bool   `json:"running"`
	State         string `json:"state"`
	LastCause     string `json:"last_cause"`
	Flags         string `json:"flags"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
}

// Options configures the HTTP surface.
type Options struct {
	InstanceID string

	// MQTTConnected reports broker connectivity; nil when MQTT is disabled.
	MQTTConnected func() bool

	// Status builds the /status body; defaults to the pipeline stats.
	Status func() map[string]interface{}
}

// Server serves /health, /readiness, /metrics and /status.
type Server struct {
	source  Source
	opts    Options
	router  *httprouter.Router
	srv     *http.Server
	started time.Time
}

// NewServer builds the HTTP surface for src. Call Start to listen.
func NewServer(addr string, src Source, opts Options) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src, opts.InstanceID),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		source:  src,
		opts:    opts,
		router:  httprouter.New(),
		started: time.Now(),
	}

	s.router.GET("/health", s.liveness)
	s.router.GET("/readiness", s.readiness)
	s.router.GET("/status", s.status)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router (for tests and embedding).
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server failed", "error", err)
		}
	}()

	slog.Info("health server started", "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// HealthCheck returns the current health status.
//
// Unhealthy when the pipeline is not running or the supervisor went OFF on
// a fault or deadline miss. Degraded when the broker is configured but not
// connected.
func (s *Server) HealthCheck() HealthStatus {
	st := s.source.Stats()

	h := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Running:       st.Running,
		State:         st.State,
		LastCause:     st.LastCause,
		Flags:         st.FlagNames,
	}
	if s.opts.MQTTConnected != nil {
		connected := s.opts.MQTTConnected()
		h.MQTTConnected = &connected
	}

	tripped := st.State == acc.StateOff.String() &&
		(st.LastCause == acc.EventFaultDetected.String() || st.LastCause == acc.EventDeadlineMissed.String())

	switch {
	case !st.Running || tripped:
		h.Status = "unhealthy"
	case h.MQTTConnected != nil && !*h.MQTTConnected:
		h.Status = "degraded"
	}
	return h
}

// liveness handles /health (simple liveness check)
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness handles /readiness; 503 only when unhealthy
func (s *Server) readiness(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	health := s.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.opts.Status != nil {
		writeJSON(w, http.StatusOK, s.opts.Status())
		return
	}
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
