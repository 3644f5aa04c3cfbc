package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
)

const maxBodyBytes = 64 << 10

type startOptimizationRequest struct {
	Ranges json.RawMessage `json:"ranges"`
}

type startOptimizationResponse struct {
	ID     string `json:"id"`
	Runs   int    `json:"runs"`
	Status string `json:"status"`
}

func (s *Server) handleStartOptimization(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil || len(s.deps.Candles) == 0 {
		writeError(w, http.StatusServiceUnavailable, "optimizer is not available (no candles loaded)")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ranges := config.DefaultRanges()
	if len(body) > 0 {
		var req startOptimizationRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Ranges) > 0 {
			if ranges, err = config.DecodeRanges(req.Ranges); err != nil {
				writeError(w, http.StatusBadRequest, "invalid ranges: "+err.Error())
				return
			}
		}
	}

	id, err := s.deps.Jobs.Start(r.Context(), s.deps.Candles, ranges)
	switch {
	case errors.Is(err, optimizer.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, config.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Errorf("Error starting optimization: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start optimization")
		return
	}

	writeJSON(w, http.StatusAccepted, startOptimizationResponse{
		ID:     id.String(),
		Runs:   ranges.Size(),
		Status: string(optimizer.JobRunning),
	})
}

func (s *Server) handleListOptimizations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Optimizations == nil {
		persistenceDisabled(w)
		return
	}
	list, err := s.deps.Optimizations.List(r.Context(), parseLimit(r, 50))
	if err != nil {
		s.log.Errorf("Error listing optimizations: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch optimizations")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetOptimization answers from the in-memory job table first, so a
// running or unpersisted job is visible, then falls back to storage.
func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if s.deps.Jobs != nil {
		if job, found := s.deps.Jobs.Job(id); found {
			writeJSON(w, http.StatusOK, job)
			return
		}
	}
	if s.deps.Optimizations == nil {
		writeError(w, http.StatusNotFound, "optimization not found")
		return
	}

	o, err := s.deps.Optimizations.Get(r.Context(), id)
	if err != nil {
		s.log.Errorf("Error fetching optimization %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch optimization")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "optimization not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOptimizationRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Optimizations == nil {
		persistenceDisabled(w)
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	runs, err := s.deps.Optimizations.Runs(r.Context(), id, parseLimit(r, 100))
	if err != nil {
		s.log.Errorf("Error fetching runs of optimization %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch optimization runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type jobJSON struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Runs      int      `json:"runs"`
	StartedAt string   `json:"startedAt"`
	BestScore *float64 `json:"bestScore,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []jobJSON{})
		return
	}
	jobs := s.deps.Jobs.Jobs()
	out := make([]jobJSON, len(jobs))
	for i, j := range jobs {
		out[i] = jobJSON{
			ID:        j.ID.String(),
			Status:    string(j.Status),
			Runs:      j.Runs,
			StartedAt: j.StartedAt.Format(time.RFC3339),
			Error:     j.Error,
		}
		if j.Outcome != nil && j.Outcome.Best != nil {
			score := j.Outcome.Best.Score
			out[i].BestScore = &score
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil || !s.deps.Jobs.Cancel() {
		writeError(w, http.StatusNotFound, "no optimization is running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
