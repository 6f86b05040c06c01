package domain

// Order is the closed set of order variants the engines place. Each variant
// carries only the fields its type requires, rather than one struct with
// many optional fields.
type Order interface {
	// Contract returns the symbol, side, and share count common to every
	// order variant.
	Contract() (symbol string, side Side, qty int64)

	isOrder()
}

// MarketOrder executes immediately at the prevailing price.
type MarketOrder struct {
	Symbol string
	Side   Side
	Qty    int64
	// Immediate requests immediate-or-cancel handling, used by stop-loss
	// sells and the liquidation sweep.
	Immediate bool
}

// LimitOrder rests at Price until filled or cancelled.
type LimitOrder struct {
	Symbol string
	Side   Side
	Qty    int64
	Price  float64
	// CancelGroup links this order to its bracket sibling: a fill on either
	// member cancels the rest of the group.
	CancelGroup string
}

// StopOrder triggers a market sell once the price crosses Trigger. Only
// placed when the gateway supports native stops.
type StopOrder struct {
	Symbol      string
	Side        Side
	Qty         int64
	Trigger     float64
	CancelGroup string
}

func (o MarketOrder) Contract() (string, Side, int64) { return o.Symbol, o.Side, o.Qty }
func (o LimitOrder) Contract() (string, Side, int64)  { return o.Symbol, o.Side, o.Qty }
func (o StopOrder) Contract() (string, Side, int64)   { return o.Symbol, o.Side, o.Qty }

func (MarketOrder) isOrder() {}
func (LimitOrder) isOrder()  {}
func (StopOrder) isOrder()   {}
