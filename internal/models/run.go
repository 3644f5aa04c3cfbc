package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run is one stored backtest. Config and Report keep the full JSON; the
// flat columns exist for listing and sorting.
type Run struct {
	ID             uuid.UUID       `json:"id"`
	OptimizationID *uuid.UUID      `json:"optimizationId,omitempty"`
	Source         string          `json:"source"`
	Mode           string          `json:"mode"`
	Candles        int             `json:"candles"`
	Config         json.RawMessage `json:"config"`
	Report         json.RawMessage `json:"report"`
	TotalReturn    float64         `json:"totalReturn"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	TotalTrades    int             `json:"totalTrades"`
	FinalBalance   decimal.Decimal `json:"finalBalance"`
	Interrupted    bool            `json:"interrupted"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type RunStats struct {
	TotalRuns   int64    `json:"totalRuns"`
	AvgReturn   *float64 `json:"avgReturn"`
	BestReturn  *float64 `json:"bestReturn"`
	WorstReturn *float64 `json:"worstReturn"`
	Liquidated  int64    `json:"liquidatedRuns"`
}
