// Package metrics exposes Prometheus counters/gauges for the Refill
// Supervisor and a /healthz liveness endpoint, grounded on the teacher's
// internal/metrics package (registration shape, health-status struct,
// combined /metrics + /healthz server).
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the refill process exports.
type Metrics struct {
	// Transitions by (from, to, reason) — the supervisor's own audit log,
	// exported for dashboards and alerting rules.
	TransitionsTotal *prometheus.CounterVec

	// Solenoid open/close command counts. The solenoid is commanded open
	// on a tag match and again on each recovery from Interrupted; it is
	// commanded closed on every exit from Dispensing, and Faulted and a
	// failed first meter read command a close even when it is not open.
	SolenoidOpenTotal  prometheus.Counter
	SolenoidCloseTotal prometheus.Counter

	// Dispensed volume per completed refill.
	DispensedLiters prometheus.Histogram

	// Retry exhaustion, by the state whose budget ran out.
	RetryExhaustedTotal *prometheus.CounterVec

	// Health-watch expirations, by watch name (board/nozzle/operator).
	HealthExpiredTotal *prometheus.CounterVec

	// Nozzle port transport health.
	NozzlePortReconnects  prometheus.Counter
	NozzlePortFramesTotal *prometheus.CounterVec

	// Directory client.
	DirectoryRequestDur   prometheus.Histogram
	DirectoryCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open

	// Transaction store.
	StoreWriteDur prometheus.Histogram

	// Faulted dwell time, from entry to exit.
	FaultedDur prometheus.Histogram
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refilld_transitions_total",
			Help: "State transitions, by from/to/reason",
		}, []string{"from", "to", "reason"}),

		SolenoidOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refilld_solenoid_open_total",
			Help: "Times the solenoid was commanded open",
		}),
		SolenoidCloseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refilld_solenoid_close_total",
			Help: "Times the solenoid was commanded closed",
		}),

		DispensedLiters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refilld_dispensed_liters",
			Help:    "Final dispensed volume per completed refill",
			Buckets: []float64{1, 5, 10, 20, 40, 80, 150, 300, 600},
		}),

		RetryExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refilld_retry_exhausted_total",
			Help: "Retry budget exhaustion events, by state",
		}, []string{"state"}),

		HealthExpiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refilld_health_expired_total",
			Help: "Health watch expirations, by watch name",
		}, []string{"watch"}),

		NozzlePortReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refilld_nozzleport_reconnects_total",
			Help: "Nozzle serial transport reconnection attempts",
		}),
		NozzlePortFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refilld_nozzleport_frames_total",
			Help: "Inbound nozzle frames, by verb family",
		}, []string{"family"}),

		DirectoryRequestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refilld_directory_request_duration_seconds",
			Help:    "Fleet directory HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
		DirectoryCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "refilld_directory_circuit_breaker_state",
			Help: "Fleet directory circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		StoreWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refilld_store_write_duration_seconds",
			Help:    "Transaction store write latency",
			Buckets: prometheus.DefBuckets,
		}),

		FaultedDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refilld_faulted_duration_seconds",
			Help:    "Time spent in Faulted per episode",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}

	prometheus.MustRegister(
		m.TransitionsTotal,
		m.SolenoidOpenTotal,
		m.SolenoidCloseTotal,
		m.DispensedLiters,
		m.RetryExhaustedTotal,
		m.HealthExpiredTotal,
		m.NozzlePortReconnects,
		m.NozzlePortFramesTotal,
		m.DirectoryRequestDur,
		m.DirectoryCircuitState,
		m.StoreWriteDur,
		m.FaultedDur,
	)

	return m
}

// RecordTransition updates TransitionsTotal. The solenoid counters are
// updated by InstrumentedPort instead. Called from metrics.Sink so the
// supervisor itself stays free of metrics-library imports, the same
// separation the teacher keeps between its engines and internal/metrics.
func (m *Metrics) RecordTransition(from, to, reason string) {
	m.TransitionsTotal.WithLabelValues(from, to, reason).Inc()
}

// HealthStatus tracks process-level liveness for /healthz, independent of
// the Prometheus registry above.
type HealthStatus struct {
	mu sync.RWMutex

	NozzlePortConnected bool      `json:"nozzle_port_connected"`
	DirectoryReachable  bool      `json:"directory_reachable"`
	StoreOK             bool      `json:"store_ok"`
	LastTransitionAt    time.Time `json:"last_transition_at"`
	StartedAt           time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetNozzlePortConnected(v bool) {
	h.mu.Lock()
	h.NozzlePortConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetDirectoryReachable(v bool) {
	h.mu.Lock()
	h.DirectoryReachable = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) MarkTransition(at time.Time) {
	h.mu.Lock()
	h.LastTransitionAt = at
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.NozzlePortConnected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	resp := struct {
		Status              string `json:"status"`
		Uptime              string `json:"uptime"`
		NozzlePortConnected bool   `json:"nozzle_port_connected"`
		DirectoryReachable  bool   `json:"directory_reachable"`
		StoreOK             bool   `json:"store_ok"`
		LastTransitionAt    string `json:"last_transition_at"`
	}{
		Status:              status,
		Uptime:              time.Since(h.StartedAt).Round(time.Second).String(),
		NozzlePortConnected: h.NozzlePortConnected,
		DirectoryReachable:  h.DirectoryReachable,
		StoreOK:             h.StoreOK,
		LastTransitionAt:    h.LastTransitionAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(resp)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
