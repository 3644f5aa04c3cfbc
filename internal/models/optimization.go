package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Optimization struct {
	ID          uuid.UUID       `json:"id"`
	Status      string          `json:"status"`
	Scorer      string          `json:"scorer"`
	Ranges      json.RawMessage `json:"ranges"`
	TotalRuns   int             `json:"totalRuns"`
	OKRuns      int             `json:"okRuns"`
	FailedRuns  int             `json:"failedRuns"`
	SkippedRuns int             `json:"skippedRuns"`
	BestIndex   *int            `json:"bestIndex,omitempty"`
	BestScore   *float64        `json:"bestScore,omitempty"`
	BestParams  json.RawMessage `json:"bestParams,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       *string         `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// OptimizationRun is one combination of a stored optimization.
type OptimizationRun struct {
	Index    int             `json:"index"`
	Params   json.RawMessage `json:"params"`
	Status   string          `json:"status"`
	Score    float64         `json:"score"`
	Report   json.RawMessage `json:"report,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration int64           `json:"durationMs"`
}
