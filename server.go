package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/FactbirdHQ/atat/modem"
)

// Server handles incoming HTTP requests for interacting with the attached
// modem
type Server struct {
	Logger *slog.Logger
	Client *modem.Client
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/command":
		s.handleCommand(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/stats":
		s.handleStats(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// handleCommand sends one raw AT command line and returns the response body
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	type CommandRequest struct {
		Command string `json:"command"`
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Command == "" {
		s.sendError(w, "the 'command' field is required", http.StatusBadRequest)
		return
	}

	body, err := s.Client.SendRaw(r.Context(), req.Command)
	if err != nil {
		s.Logger.Error("Command failed", "error", err, "command", req.Command)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	type CommandResponse struct {
		Response string `json:"response"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CommandResponse{Response: body})
}

// handleStats reports the runtime drop counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Client.Stats())
}
