package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-gridsim/internal/ledger"
)

var tradeReasons = map[string]ledger.Reason{
	"":                               "",
	string(ledger.ReasonTakeProfit):  ledger.ReasonTakeProfit,
	string(ledger.ReasonStopLoss):    ledger.ReasonStopLoss,
	string(ledger.ReasonLiquidation): ledger.ReasonLiquidation,
	string(ledger.ReasonManual):      ledger.ReasonManual,
	string(ledger.ReasonGridExit):    ledger.ReasonGridExit,
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		persistenceDisabled(w)
		return
	}

	var optID *uuid.UUID
	if v := r.URL.Query().Get("optimization"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid optimization id")
			return
		}
		optID = &id
	}

	runs, err := s.deps.Runs.List(r.Context(), parseLimit(r, 50), optID)
	if err != nil {
		s.log.Errorf("Error listing runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		persistenceDisabled(w)
		return
	}
	stats, err := s.deps.Runs.Stats(r.Context())
	if err != nil {
		s.log.Errorf("Error fetching run stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		persistenceDisabled(w)
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	run, err := s.deps.Runs.Get(r.Context(), id)
	if err != nil {
		s.log.Errorf("Error fetching run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		persistenceDisabled(w)
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	reasonParam := r.URL.Query().Get("reason")
	reason, known := tradeReasons[reasonParam]
	if !known {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reason %q", reasonParam))
		return
	}

	trades, err := s.deps.Trades.GetByRun(r.Context(), id, reason, parseLimit(r, maxQueryLimit))
	if err != nil {
		s.log.Errorf("Error fetching trades for run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleRunEquity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Equity == nil {
		persistenceDisabled(w)
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	stride := 1
	if v := r.URL.Query().Get("stride"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "stride must be a positive integer")
			return
		}
		stride = n
	}

	curve, err := s.deps.Equity.GetByRun(r.Context(), id, stride)
	if err != nil {
		s.log.Errorf("Error fetching equity for run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch equity curve")
		return
	}
	writeJSON(w, http.StatusOK, curve)
}
