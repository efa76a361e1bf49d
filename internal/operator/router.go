// Package operator implements the operator HTTP surface (spec §6
// "bit-contract"): the handful of REST endpoints and the websocket event
// stream the legacy operator application speaks. Grounded on the
// teacher's internal/gateway package — a plain net/http.ServeMux, a
// setCORS helper applied uniformly, manual json.NewEncoder/Decoder at
// every handler boundary, no web framework.
package operator

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetops/refilld/config"
	"github.com/fleetops/refilld/internal/auth"
	"github.com/fleetops/refilld/internal/eventbus"
	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/internal/supervisor"
)

// Server wires the Refill Supervisor's public command API, the nozzle
// port (for the two raw passthrough endpoints), and the event bus onto
// one HTTP mux.
type Server struct {
	cfg   *config.Config
	sup   *supervisor.Supervisor
	port  model.NozzlePort
	bus   *eventbus.Bus
	authr auth.Authenticator
	tokens *auth.TokenStore
	log   *slog.Logger

	httpSrv *http.Server
}

// New constructs the operator HTTP server. Token storage is process-local
// (spec §9: an accepted limitation for a single-nozzle deployment — a
// second replica would need its own /api/auth round trip).
func New(cfg *config.Config, sv *supervisor.Supervisor, port model.NozzlePort, bus *eventbus.Bus, authr auth.Authenticator, tokens *auth.TokenStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, sup: sv, port: port, bus: bus, authr: authr, tokens: tokens, log: log}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:         cfg.OperatorAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/fill", s.handleFill)
	mux.HandleFunc("/api/drf-submit", s.handleDRFSubmit)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/operation", s.requireToken(s.handleOperation))
	mux.HandleFunc("/api/auth", s.handleAuth)
	mux.HandleFunc("/api/hls/", s.handleHLS)
	mux.HandleFunc("/api/uart", s.requireToken(s.handleUART))
	mux.HandleFunc("/api/upload", s.requireToken(s.handleUpload))
	mux.HandleFunc("/ws/events", s.handleWS)
}

// Start launches the HTTP server in a goroutine, mirroring the teacher's
// metrics.Server.Start.
func (s *Server) Start() {
	go func() {
		s.log.Info("operator: listening", "addr", s.cfg.OperatorAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("operator: server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the operator HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// allowedOrigins mirrors the teacher's ALLOWED_ORIGINS env var handling.
var allowedOrigins = parseAllowedOrigins(os.Getenv("ALLOWED_ORIGINS"))

func parseAllowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func setCORS(w http.ResponseWriter) {
	origin := "*"
	for _, o := range allowedOrigins {
		if o != "*" {
			origin = strings.Join(allowedOrigins, ", ")
			break
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func checkWSOrigin(r *http.Request) bool {
	for _, o := range allowedOrigins {
		if o == "*" {
			return true
		}
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: checkWSOrigin}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("operator: ws upgrade failed", "err", err)
		return
	}
	s.bus.Serve(conn)
}
