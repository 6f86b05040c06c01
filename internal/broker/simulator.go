package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"daytrader/internal/domain"
)

// Compile-time interface checks.
var _ Gateway = (*SimulatorGateway)(nil)
var _ MarketData = (*SimulatorGateway)(nil)

type simOrder struct {
	id     string
	symbol string
	side   domain.Side
	qty    int64
	state  domain.OrderState

	limitPrice float64 // 0 for market orders
	stopPrice  float64 // 0 unless stop order
	group      string

	filledQty    int64
	avgFillPrice float64
	reason       string
}

type simHolding struct {
	qty     int64
	avgCost float64
}

// SimulatorGateway implements Gateway and MarketData in memory. Market
// orders fill immediately at the current price; resting limit and stop
// orders fill when SetPrice crosses them. A fill in a cancel group cancels
// the group's other members, mirroring OCO behavior.
type SimulatorGateway struct {
	mu       sync.Mutex
	nextID   int
	prices   map[string]float64
	bars     map[string][]domain.Bar
	orders   map[string]*simOrder
	holdings map[string]*simHolding

	// rejections maps symbol to an error injected on the next order.
	rejections map[string]error

	nativeStops bool
}

// NewSimulatorGateway creates an empty simulator.
func NewSimulatorGateway(nativeStops bool) *SimulatorGateway {
	return &SimulatorGateway{
		prices:      make(map[string]float64),
		bars:        make(map[string][]domain.Bar),
		orders:      make(map[string]*simOrder),
		holdings:    make(map[string]*simHolding),
		rejections:  make(map[string]error),
		nativeStops: nativeStops,
	}
}

// Name returns "simulator".
func (g *SimulatorGateway) Name() string { return "simulator" }

// NativeStops reports whether the simulator was created with OCO support.
func (g *SimulatorGateway) NativeStops() bool { return g.nativeStops }

// Connect is a no-op; the simulator is always reachable.
func (g *SimulatorGateway) Connect(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// SetPrice updates the current price and fills any resting orders the new
// price crosses.
func (g *SimulatorGateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price

	for _, o := range g.orders {
		if o.symbol != symbol || o.state.Terminal() {
			continue
		}
		switch {
		case o.limitPrice > 0 && o.side == domain.SideSell && price >= o.limitPrice:
			g.fill(o, o.limitPrice)
		case o.limitPrice > 0 && o.side == domain.SideBuy && price <= o.limitPrice:
			g.fill(o, o.limitPrice)
		case o.stopPrice > 0 && o.side == domain.SideSell && price <= o.stopPrice:
			g.fill(o, price)
		}
	}
}

// SetBars installs the bar history returned by IntradayBars.
func (g *SimulatorGateway) SetBars(symbol string, bars []domain.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bars[symbol] = bars
}

// RejectNext makes the next order for the symbol fail with err.
func (g *SimulatorGateway) RejectNext(symbol string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejections[symbol] = err
}

// InstallHolding seeds an account position without an order, simulating
// shares acquired outside the system.
func (g *SimulatorGateway) InstallHolding(symbol string, qty int64, avgCost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdings[symbol] = &simHolding{qty: qty, avgCost: avgCost}
}

// Holding returns the current simulated position for the symbol (0 if none).
func (g *SimulatorGateway) Holding(symbol string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holdings[symbol]; ok {
		return h.qty
	}
	return 0
}

// OpenOrders returns the IDs of all non-terminal orders.
func (g *SimulatorGateway) OpenOrders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, o := range g.orders {
		if !o.state.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// ---------------------------------------------------------------------------
// Gateway implementation
// ---------------------------------------------------------------------------

// PlaceOrder records the order and, for market orders, fills it immediately
// at the current price.
func (g *SimulatorGateway) PlaceOrder(_ context.Context, order domain.Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	symbol, side, qty := order.Contract()
	if err, ok := g.rejections[symbol]; ok {
		delete(g.rejections, symbol)
		return "", err
	}

	o := &simOrder{
		id:     g.newID(),
		symbol: symbol,
		side:   side,
		qty:    qty,
		state:  domain.OrderStateNew,
	}
	switch v := order.(type) {
	case domain.MarketOrder:
		// Market orders need a known price to fill.
		price, ok := g.prices[symbol]
		if !ok {
			return "", domain.NewOrderError(domain.ErrTransient, symbol, "no market price", nil)
		}
		g.orders[o.id] = o
		g.fill(o, price)
		return o.id, nil
	case domain.LimitOrder:
		o.limitPrice = v.Price
		o.group = v.CancelGroup
	case domain.StopOrder:
		o.stopPrice = v.Trigger
		o.group = v.CancelGroup
	}
	g.orders[o.id] = o

	// A resting order may already be crossed at the current price.
	if price, ok := g.prices[symbol]; ok {
		switch {
		case o.limitPrice > 0 && side == domain.SideSell && price >= o.limitPrice:
			g.fill(o, o.limitPrice)
		case o.stopPrice > 0 && side == domain.SideSell && price <= o.stopPrice:
			g.fill(o, price)
		}
	}
	return o.id, nil
}

// PlaceExitBracket places a linked limit and stop pair sharing one group.
func (g *SimulatorGateway) PlaceExitBracket(ctx context.Context, symbol string, qty int64, takeProfit, stopLoss float64, group string) (string, string, error) {
	tpID, err := g.PlaceOrder(ctx, domain.LimitOrder{
		Symbol: symbol, Side: domain.SideSell, Qty: qty,
		Price: takeProfit, CancelGroup: group,
	})
	if err != nil {
		return "", "", err
	}
	stopID, err := g.PlaceOrder(ctx, domain.StopOrder{
		Symbol: symbol, Side: domain.SideSell, Qty: qty,
		Trigger: stopLoss, CancelGroup: group,
	})
	if err != nil {
		return tpID, "", err
	}
	return tpID, stopID, nil
}

// CancelOrder marks the order cancelled. Terminal and unknown orders are
// left alone.
func (g *SimulatorGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok && !o.state.Terminal() {
		o.state = domain.OrderStateCancelled
	}
	return nil
}

// OrderStatus returns the current state of an order.
func (g *SimulatorGateway) OrderStatus(_ context.Context, orderID string) (*domain.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &domain.OrderStatus{
		ID:           o.id,
		Symbol:       o.symbol,
		State:        o.state,
		FilledQty:    o.filledQty,
		AvgFillPrice: o.avgFillPrice,
		Reason:       o.reason,
	}, nil
}

// AccountPositions returns all simulated holdings.
func (g *SimulatorGateway) AccountPositions(_ context.Context) ([]domain.BrokerPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.BrokerPosition
	for symbol, h := range g.holdings {
		if h.qty == 0 {
			continue
		}
		out = append(out, domain.BrokerPosition{Symbol: symbol, Qty: h.qty, AvgCost: h.avgCost})
	}
	return out, nil
}

// AccountSnapshot returns the simulated account view of one symbol.
func (g *SimulatorGateway) AccountSnapshot(_ context.Context, symbol string) (*domain.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holdings[symbol]
	if !ok || h.qty == 0 {
		return nil, nil
	}
	price := g.prices[symbol]
	costBasis := float64(h.qty) * h.avgCost
	marketValue := float64(h.qty) * price
	return &domain.AccountSnapshot{
		Symbol:       symbol,
		Qty:          h.qty,
		MarketValue:  marketValue,
		UnrealizedPL: marketValue - costBasis,
		CostBasis:    costBasis,
	}, nil
}

// ---------------------------------------------------------------------------
// MarketData implementation
// ---------------------------------------------------------------------------

// LatestPrice returns the price set by SetPrice.
func (g *SimulatorGateway) LatestPrice(_ context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

// IntradayBars returns the bars installed by SetBars, filtered to start.
func (g *SimulatorGateway) IntradayBars(_ context.Context, symbol string, start time.Time) ([]domain.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Bar
	for _, b := range g.bars[symbol] {
		if !b.Timestamp.Before(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Internals (callers hold g.mu)
// ---------------------------------------------------------------------------

func (g *SimulatorGateway) newID() string {
	g.nextID++
	return fmt.Sprintf("sim-%d", g.nextID)
}

// fill transitions an order to filled, applies it to holdings, and cancels
// its cancel-group siblings.
func (g *SimulatorGateway) fill(o *simOrder, price float64) {
	o.state = domain.OrderStateFilled
	o.filledQty = o.qty
	o.avgFillPrice = price

	h, ok := g.holdings[o.symbol]
	if !ok {
		h = &simHolding{}
		g.holdings[o.symbol] = h
	}
	if o.side == domain.SideBuy {
		total := float64(h.qty)*h.avgCost + float64(o.qty)*price
		h.qty += o.qty
		h.avgCost = total / float64(h.qty)
	} else {
		h.qty -= o.qty
		if h.qty <= 0 {
			delete(g.holdings, o.symbol)
		}
	}

	if o.group != "" {
		for _, sibling := range g.orders {
			if sibling.group == o.group && sibling.id != o.id && !sibling.state.Terminal() {
				sibling.state = domain.OrderStateCancelled
				sibling.reason = "oco sibling filled"
			}
		}
	}
}
