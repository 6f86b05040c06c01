// Package domain defines the core types shared across the trading system:
// positions, closed-position ledger rows, trade log entries, watchlist
// candidates, and the views of broker state the engines consume.
package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitProfitTarget   ExitReason = "PROFIT_TARGET"
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitEODLiquidation ExitReason = "EOD_LIQUIDATION"
	// ExitEODUntracked marks a position found in the broker account but not
	// in the store during the end-of-day safety-net pass. It indicates
	// bookkeeping drift and is always logged as a warning.
	ExitEODUntracked ExitReason = "EOD_LIQUIDATION_UNTRACKED"
)

// ActivePosition is one row of the shared position store: a symbol currently
// owned by the system. At most one row exists per symbol; the row is deleted
// on close (never soft-deleted), atomically with the insertion of a
// ClosedPosition row.
type ActivePosition struct {
	Symbol       string
	Quantity     int64
	EntryPrice   float64
	EntryTime    time.Time
	Owner        string // which engine registered the position
	ProfitTarget float64
	StopLoss     float64

	// Bracket state. CancelGroup links the take-profit and stop orders of
	// this position. Empty order IDs mean the bracket is not (fully) placed
	// and the exit engine must retry placement on its next resync.
	CancelGroup string
	TPOrderID   string
	StopOrderID string

	LastUpdated time.Time
}

// BracketPlaced reports whether a take-profit order is resting for this
// position. A position without one is still owned (the shares exist) but
// needs bracket repair.
func (p *ActivePosition) BracketPlaced() bool {
	return p.TPOrderID != ""
}

// ClosedPosition is one row of the same-day closed ledger. Uniqueness on
// (Symbol, CloseDate) guarantees at most one re-entry-blocking record per
// symbol per trading day. Rows are purged at the start of the next session.
type ClosedPosition struct {
	Symbol        string
	CloseDate     string // YYYY-MM-DD
	ExitPrice     float64
	ExitReason    ExitReason
	ProfitLossPct float64
	Owner         string
	ClosedAt      time.Time
}

// TradeLogEntry is one append-only audit record. It is never mutated or
// deleted and is consumed only by post-hoc analysis tooling, never by
// lifecycle decisions.
type TradeLogEntry struct {
	ID            int64
	Timestamp     time.Time
	Symbol        string
	Action        Side
	Quantity      int64
	Price         float64
	Owner         string
	Reason        string
	ProfitLoss    float64
	ProfitLossPct float64
	Metadata      string // free-form JSON
}

// Candidate is one entry of the session watchlist, produced by the external
// candidate-generation pipeline and consumed read-only by the entry engine.
type Candidate struct {
	Symbol          string  `json:"ticker"`
	Confidence      float64 `json:"confidence_score"`
	PremarketChange float64 `json:"premarket_change"` // percent, e.g. 3.2 for +3.2%
	Reasoning       string  `json:"reasoning,omitempty"`
}

// BrokerPosition is the broker's authoritative view of one holding.
type BrokerPosition struct {
	Symbol  string
	Qty     int64
	AvgCost float64
}

// AccountSnapshot is the broker's per-symbol account view used for manual
// stop-loss detection. No streaming quote subscription is required.
type AccountSnapshot struct {
	Symbol       string
	Qty          int64
	MarketValue  float64
	UnrealizedPL float64
	CostBasis    float64
}

// UnrealizedPLPct returns the unrealized profit/loss as a percentage of cost
// basis, or zero when the cost basis is unknown.
func (s AccountSnapshot) UnrealizedPLPct() float64 {
	if s.CostBasis == 0 {
		return 0
	}
	return s.UnrealizedPL / s.CostBasis * 100
}

// OrderState is the terminal-or-pending state of a broker order.
type OrderState string

const (
	OrderStateNew             OrderState = "new"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "canceled"
	OrderStateRejected        OrderState = "rejected"
)

// Terminal reports whether the order can no longer change state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// OrderStatus is a poll result for a single broker order.
type OrderStatus struct {
	ID           string
	Symbol       string
	State        OrderState
	FilledQty    int64
	AvgFillPrice float64
	// Reason carries the broker's explanation for cancelled/rejected orders
	// (e.g. a short-sale restriction).
	Reason string
}

// Bar is one OHLCV bar of intraday market data, used to compute entry
// indicators.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}
