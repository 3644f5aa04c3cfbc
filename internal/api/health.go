package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database  string `json:"database"`
	Optimizer string `json:"optimizer"`
	Candles   int    `json:"candles"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.deps.DB != nil {
		dbStatus = "connected"
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	optStatus := "unavailable"
	if s.deps.Jobs != nil {
		optStatus = "idle"
		if s.deps.Jobs.Running() {
			optStatus = "running"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services: healthServices{
			Database:  dbStatus,
			Optimizer: optStatus,
			Candles:   len(s.deps.Candles),
		},
	})
}
