package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/service"
	"github.com/audiolibrelab/fieldcapture/internal/state"
)

// Server exposes the recorder controls over HTTP
type Server struct {
	service service.Service
	listen  string
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message string `json:"message"`
}

// TriggerRequest represents a soft button press
type TriggerRequest struct {
	Kind string `json:"kind"` // "short" or "long"
}

// AdvertRequest carries one raw command payload in hex
type AdvertRequest struct {
	Payload string `json:"payload"`
}

// AdvertResponse reports the decoded command
type AdvertResponse struct {
	Success   bool   `json:"success"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

// RecordingsResponse represents the JSON response for recordings endpoint
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	TotalCount int                     `json:"total_count"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, listen string) *Server {
	s := &Server{
		service: svc,
		listen:  listen,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/trigger", s.handleTrigger)
	s.mux.HandleFunc("/api/advert", s.handleAdvert)
	s.mux.HandleFunc("/api/recordings", s.handleRecordings)
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	slog.Info("Starting control API", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control API stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Control API stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := s.service.Status()
	response := StatusResponse{
		Status:  status,
		Message: generateStatusMessage(status),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON request", "error", err)
		return
	}

	var kind state.Press
	switch strings.ToLower(req.Kind) {
	case "short":
		kind = state.ShortPress
	case "long":
		kind = state.LongPress
	default:
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown trigger kind %q, use short or long", req.Kind))
		return
	}

	before := s.service.Status().State
	s.service.Press(kind)
	after := s.service.Status().State

	message := fmt.Sprintf("%s press ignored in %s", kind, before)
	if before != after {
		message = fmt.Sprintf("%s -> %s", before, after)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: message,
	})
}

func (s *Server) handleAdvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AdvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON request", "error", err)
		return
	}

	cmd, err := s.service.SubmitAdvertisement(req.Payload)
	if err != nil {
		s.sendErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AdvertResponse{
		Success:   true,
		Kind:      cmd.Kind().String(),
		Timestamp: cmd.Timestamp,
		State:     s.service.Status().State,
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.service.Recordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to list recordings", "error", err)
		return
	}
	if recordings == nil {
		recordings = []service.RecordingInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RecordingsResponse{
		Recordings: recordings,
		TotalCount: len(recordings),
	})
}

func generateStatusMessage(status service.Status) string {
	switch {
	case status.Session != nil && status.State == state.Paused.String():
		return fmt.Sprintf("Paused session %d", status.Session.Index)
	case status.Session != nil:
		return fmt.Sprintf("Recording session %d to %s", status.Session.Index, status.Session.AudioPath)
	case status.LastError != "":
		return status.LastError
	case status.Last != nil:
		return fmt.Sprintf("Ready, last session %d ran %ds", status.Last.Index, status.Last.Seconds)
	}
	return "Ready"
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericResponse{
		Success: false,
		Error:   errorMsg,
	})
}
