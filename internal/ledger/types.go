package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Action is the direction of a single fill.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

type Reason string

const (
	ReasonTakeProfit  Reason = "take_profit"
	ReasonStopLoss    Reason = "stop_loss"
	ReasonLiquidation Reason = "liquidation"
	ReasonManual      Reason = "manual"
	ReasonGridExit    Reason = "grid_exit"
)

type OrderKind string

const (
	Entry OrderKind = "entry"
	Exit  OrderKind = "exit"
)

// Order is a resting limit order. Side is the side of the position the order
// opens or closes.
type Order struct {
	Kind       OrderKind
	Side       Side
	Price      float64
	Size       float64
	Leverage   float64
	Level      int
	Generation int
	PositionID int64 // exit orders only
}

// Action is the fill direction: long entries and short exits buy.
func (o Order) Action() Action {
	if (o.Kind == Entry) == (o.Side == Long) {
		return ActionBuy
	}
	return ActionSell
}

func (o Order) Notional() float64 { return o.Price * o.Size }

func (o Order) Margin() float64 {
	if o.Leverage <= 0 {
		return o.Notional()
	}
	return o.Notional() / o.Leverage
}

type Position struct {
	ID               int64           `json:"id"`
	Side             Side            `json:"side"`
	EntryPrice       float64         `json:"entry_price"`
	Size             float64         `json:"size"`
	Leverage         float64         `json:"leverage"`
	LiquidationPrice float64         `json:"liquidation_price"` // 0 when the position cannot be liquidated
	OpenedAt         time.Time       `json:"opened_at"`
	EntryFee         decimal.Decimal `json:"entry_fee"`
	Funding          decimal.Decimal `json:"funding"` // accrued, positive when paid
	Level            int             `json:"level"`
	Generation       int             `json:"generation"`
}

func (p Position) Notional(price float64) float64 { return p.Size * price }

func (p Position) Margin() float64 { return p.Size * p.EntryPrice / p.Leverage }

func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Side.sign()
}

// Trade is an immutable fill record. Opening fills carry zero PnL and the
// entry fee; closing fills carry the position's net PnL and the exit fee.
type Trade struct {
	Seq        int             `json:"seq"`
	PositionID int64           `json:"position_id"`
	Side       Action          `json:"side"`
	Price      float64         `json:"price"`
	Size       float64         `json:"size"`
	Fee        decimal.Decimal `json:"fee"`
	PnL        decimal.Decimal `json:"pnl"`
	Reason     Reason          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (t Trade) Closing() bool { return t.Reason != "" }

type FillResult int

const (
	NotFilled FillResult = iota
	Filled
	FillFailed
)

func (r FillResult) String() string {
	switch r {
	case Filled:
		return "filled"
	case FillFailed:
		return "failed"
	default:
		return "not_filled"
	}
}
