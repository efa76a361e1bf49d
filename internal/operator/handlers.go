package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetops/refilld/internal/nozzleport"
	"github.com/fleetops/refilld/internal/supervisor"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// handleFill serves "POST /api/fill" (spec §6): requires Idle, transitions
// to Starting.
func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	res := s.sup.Start(r.Context())
	if !res.OK {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:        "refill already in progress",
			CurrentState: res.State,
			AllowedState: res.AllowedState,
		})
		return
	}
	writeJSON(w, http.StatusOK, fillResponse{State: res.State})
}

// handleDRFSubmit serves "POST /api/drf-submit".
func (s *Server) handleDRFSubmit(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	var req drfSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	res := s.sup.SubmitOdometer(r.Context(), int(req.Kilometers))
	if !res.OK {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: res.Error, CurrentState: res.State})
		return
	}
	writeJSON(w, http.StatusOK, fillResponse{State: res.State})
}

// handleState serves "GET /api/state".
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	snap := s.sup.Status(r.Context())
	writeJSON(w, http.StatusOK, stateResponse{
		State:         snap.State,
		PreviousState: snap.PreviousState,
		Timestamp:     snap.Timestamp,
		Transaction:   snap.Transaction,
		Vehicle:       snap.Vehicle,
		Meter:         snap.Meter,
		Message:       snap.Message,
	})
}

// handleOperation serves "POST /api/operation", gated by requireToken.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, supervisor.OperationResult{Response: supervisor.RespInvalid, Message: "invalid JSON"})
		return
	}
	res := s.sup.Operation(r.Context(), req.Request, req.Kilometers)
	writeJSON(w, http.StatusOK, res)
}

// handleHLS serves "GET /api/hls/:socketId" (spec §6): a raw passthrough
// to the nozzle port, bypassing the supervisor entirely — hls_read is
// never gated on refill state.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	socketID := strings.TrimPrefix(r.URL.Path, "/api/hls/")
	if socketID != "3" && socketID != "4" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "socketId must be 3 or 4"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UARTResponseTimeout)
	defer cancel()
	ev, err := s.port.Send(ctx, nozzleport.VerbHLSRead, "500", socketID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := hlsResponse{Timestamp: time.Now().UnixNano()}
	if len(ev.Args) > 0 {
		resp.HLSID = ev.Args[0]
	}
	if len(ev.Args) > 1 {
		resp.MeterRead = ev.Args[1]
	}
	if len(ev.Args) > 2 {
		resp.Denominator = ev.Args[2]
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUART serves "POST /api/uart": a diagnostic fire-and-forget
// passthrough straight to the nozzle port.
func (s *Server) handleUART(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	var req uartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Verb == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON or missing verb"})
		return
	}
	if err := s.port.Fire(req.Verb, req.Args...); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const maxUploadBytes = 16 << 20 // 16 MiB

// handleUpload serves "POST /api/upload": multipart image upload saved
// under UploadDir with a Unix-millis filename prefix.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "upload dir unavailable"})
		return
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(header.Filename))
	dest := filepath.Join(s.cfg.UploadDir, name)

	out, err := os.Create(dest)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not save upload"})
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "upload write failed"})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Path: dest})
}
