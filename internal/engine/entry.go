// Package engine implements the position lifecycle: the entry engine that
// opens positions, the exit engine that closes them, and the end-of-day
// liquidation sweep. The two engines run as separate processes and
// coordinate only through the shared position store and the broker account.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// OwnerEntry and OwnerExit identify which engine wrote a row or log entry.
const (
	OwnerEntry = "entry-engine"
	OwnerExit  = "exit-engine"
)

// CandidateSource supplies the session watchlist.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]domain.Candidate, error)
}

// EntryOutcome is the result class of one entry attempt.
type EntryOutcome int

const (
	// Entered means shares were bought and the position registered.
	Entered EntryOutcome = iota
	// Skipped means a precondition ruled the symbol out without any order.
	Skipped
	// Failed means an order was attempted but no position resulted.
	Failed
)

// EntryResult is the outcome of one TryEnter call.
type EntryResult struct {
	Outcome EntryOutcome
	Reason  string
}

// EntryConfig holds the entry engine tunables.
type EntryConfig struct {
	CapitalPerSymbol float64
	MaxPositions     int
	ProfitTargetPct  float64 // fraction, e.g. 0.018
	StopLossPct      float64 // fraction, e.g. 0.009
	FillWait         time.Duration
	PollInterval     time.Duration
	OrderCooldown    time.Duration
}

// EntryEngine buys watchlist candidates that pass the policy and registers
// them in the shared store. It never sells.
type EntryEngine struct {
	gw        broker.Gateway
	data      broker.MarketData
	positions store.PositionStore
	trades    store.TradeLog
	policy    EntryPolicy
	cfg       EntryConfig
	log       *slog.Logger

	cooldowns map[string]time.Time
	now       func() time.Time
}

// NewEntryEngine wires an entry engine from its collaborators.
func NewEntryEngine(gw broker.Gateway, data broker.MarketData, positions store.PositionStore, trades store.TradeLog, policy EntryPolicy, cfg EntryConfig, log *slog.Logger) *EntryEngine {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &EntryEngine{
		gw:        gw,
		data:      data,
		positions: positions,
		trades:    trades,
		policy:    policy,
		cfg:       cfg,
		log:       log,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// StartSession purges closed-ledger rows left over from prior trading days
// so yesterday's exits do not block today's entries.
func (e *EntryEngine) StartSession(ctx context.Context) error {
	day := util.TradingDay(e.now())
	purged, err := e.positions.ClearClosedToday(ctx, day)
	if err != nil {
		return fmt.Errorf("clearing stale closed ledger: %w", err)
	}
	e.log.Info("session started", "day", day, "purged_closed_rows", purged)
	return nil
}

// Run evaluates the watchlist every interval until the context ends.
func (e *EntryEngine) Run(ctx context.Context, source CandidateSource, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !util.IsMarketHours(e.now()) {
			continue
		}

		candidates, err := source.Candidates(ctx)
		if err != nil {
			e.log.Warn("watchlist unavailable", "error", err)
			continue
		}
		for _, c := range candidates {
			res, err := e.TryEnter(ctx, c)
			if err != nil {
				e.log.Error("entry attempt failed", "symbol", c.Symbol, "error", err)
				continue
			}
			if res.Outcome == Entered {
				e.log.Info("position opened", "symbol", c.Symbol)
			}
		}
	}
}

// TryEnter attempts to open a position in the candidate's symbol. All
// preconditions are re-checked here even if the caller checked them, since
// the store may have changed between ticks.
func (e *EntryEngine) TryEnter(ctx context.Context, c domain.Candidate) (EntryResult, error) {
	day := util.TradingDay(e.now())

	active, err := e.positions.ListActive(ctx)
	if err != nil {
		return EntryResult{}, fmt.Errorf("listing active positions: %w", err)
	}
	if e.cfg.MaxPositions > 0 && len(active) >= e.cfg.MaxPositions {
		return EntryResult{Skipped, "max positions reached"}, nil
	}
	for _, p := range active {
		if p.Symbol == c.Symbol {
			return EntryResult{Skipped, "already active"}, nil
		}
	}

	closed, err := e.positions.WasClosedToday(ctx, c.Symbol, day)
	if err != nil {
		return EntryResult{}, fmt.Errorf("checking closed ledger: %w", err)
	}
	if closed {
		return EntryResult{Skipped, "closed today"}, nil
	}

	if until, ok := e.cooldowns[c.Symbol]; ok {
		if e.now().Before(until) {
			return EntryResult{Skipped, "cooldown"}, nil
		}
		delete(e.cooldowns, c.Symbol)
	}

	price, err := e.data.LatestPrice(ctx, c.Symbol)
	if err != nil {
		return EntryResult{}, fmt.Errorf("getting price for %s: %w", c.Symbol, err)
	}
	bars, err := e.data.IntradayBars(ctx, c.Symbol, util.SessionOpen(e.now()))
	if err != nil {
		return EntryResult{}, fmt.Errorf("getting bars for %s: %w", c.Symbol, err)
	}
	if ok, reason := e.policy.Evaluate(c, price, bars); !ok {
		return EntryResult{Skipped, reason}, nil
	}

	qty := int64(e.cfg.CapitalPerSymbol / price)
	if qty < 1 {
		return EntryResult{Skipped, "price exceeds per-symbol capital"}, nil
	}

	return e.executeEntry(ctx, c, qty)
}

// executeEntry places the buy, waits for the fill, registers the position,
// and arms the exit bracket.
func (e *EntryEngine) executeEntry(ctx context.Context, c domain.Candidate, qty int64) (EntryResult, error) {
	orderID, err := e.gw.PlaceOrder(ctx, domain.MarketOrder{
		Symbol: c.Symbol, Side: domain.SideBuy, Qty: qty,
	})
	if err != nil {
		e.startCooldown(c.Symbol)
		e.log.Warn("buy rejected", "symbol", c.Symbol, "kind", domain.KindOf(err).String(), "error", err)
		return EntryResult{Failed, "buy rejected"}, nil
	}

	status, err := e.awaitFill(ctx, orderID)
	if err != nil {
		return EntryResult{}, err
	}
	if status.State != domain.OrderStateFilled {
		e.startCooldown(c.Symbol)
		e.log.Warn("buy did not fill", "symbol", c.Symbol, "state", string(status.State))
		return EntryResult{Failed, "buy did not fill"}, nil
	}

	fillPrice := status.AvgFillPrice
	pos := &domain.ActivePosition{
		Symbol:       c.Symbol,
		Quantity:     status.FilledQty,
		EntryPrice:   fillPrice,
		EntryTime:    e.now(),
		Owner:        OwnerEntry,
		ProfitTarget: roundPrice(fillPrice * (1 + e.cfg.ProfitTargetPct)),
		StopLoss:     roundPrice(fillPrice * (1 - e.cfg.StopLossPct)),
	}
	if err := e.positions.AddActive(ctx, pos); err != nil {
		if errors.Is(err, store.ErrAlreadyActive) {
			// Lost a cross-process race after the shares filled. The broker
			// holds more shares than the store knows about; the liquidation
			// sweep will flush the excess.
			e.log.Error("entry race lost after fill", "symbol", c.Symbol, "qty", status.FilledQty)
			return EntryResult{Failed, "entry race lost"}, nil
		}
		return EntryResult{}, fmt.Errorf("registering position %s: %w", c.Symbol, err)
	}

	if err := e.trades.LogTrade(ctx, &domain.TradeLogEntry{
		Timestamp: e.now(),
		Symbol:    c.Symbol,
		Action:    domain.SideBuy,
		Quantity:  status.FilledQty,
		Price:     fillPrice,
		Owner:     OwnerEntry,
		Reason:    "ENTRY",
		Metadata:  fmt.Sprintf(`{"confidence":%.2f,"premarket_change":%.2f}`, c.Confidence, c.PremarketChange),
	}); err != nil {
		e.log.Error("trade log write failed", "symbol", c.Symbol, "error", err)
	}

	if err := placeExits(ctx, e.gw, pos); err != nil {
		// Position stays registered with empty bracket ids; the exit engine
		// repairs it on its next reconciliation.
		e.log.Warn("exit placement failed, position unprotected until resync",
			"symbol", c.Symbol, "error", err)
		return EntryResult{Entered, "entered, bracket pending"}, nil
	}
	if err := e.positions.UpdateBracket(ctx, pos); err != nil {
		return EntryResult{}, fmt.Errorf("saving bracket for %s: %w", c.Symbol, err)
	}
	return EntryResult{Entered, "entered"}, nil
}

// awaitFill polls the order until it reaches a terminal state or the fill
// window expires, cancelling on expiry. A fill that lands during the cancel
// round-trip still counts.
func (e *EntryEngine) awaitFill(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	deadline := e.now().Add(e.cfg.FillWait)
	for {
		status, err := e.gw.OrderStatus(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("polling order %s: %w", orderID, err)
		}
		if status.State.Terminal() {
			return status, nil
		}
		if !e.now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}

	if err := e.gw.CancelOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("cancelling stale order %s: %w", orderID, err)
	}
	status, err := e.gw.OrderStatus(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("polling order %s after cancel: %w", orderID, err)
	}
	return status, nil
}

func (e *EntryEngine) startCooldown(symbol string) {
	if e.cfg.OrderCooldown > 0 {
		e.cooldowns[symbol] = e.now().Add(e.cfg.OrderCooldown)
	}
}
