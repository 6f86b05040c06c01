package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// OwnerSweep identifies the end-of-day liquidation as the writer of a row.
const OwnerSweep = "eod-sweep"

// Sweeper flattens the account at end of day in two passes: first every
// position the store claims, then anything the broker still holds. After a
// successful sweep the account is flat, no matter how the day's bookkeeping
// went.
type Sweeper struct {
	gw        broker.Gateway
	positions store.PositionStore
	trades    store.TradeLog
	log       *slog.Logger

	// universe bounds the untracked pass and the flat check. Nil means the
	// account is dedicated to this system.
	universe CandidateSource

	fillWait     time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewSweeper wires a sweeper from its collaborators. universe may be nil
// for accounts dedicated to this system.
func NewSweeper(gw broker.Gateway, positions store.PositionStore, trades store.TradeLog, universe CandidateSource, fillWait time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		gw:           gw,
		positions:    positions,
		trades:       trades,
		log:          log,
		universe:     universe,
		fillWait:     fillWait,
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
	}
}

// Run executes the sweep and verifies the account ends flat. The returned
// error is non-nil when any shares remain.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("end-of-day sweep starting")

	if err := s.sweepTracked(ctx); err != nil {
		s.log.Error("tracked sweep pass failed", "error", err)
	}
	if err := s.sweepUntracked(ctx); err != nil {
		s.log.Error("untracked sweep pass failed", "error", err)
	}

	// Postcondition: nothing managed is still held.
	holdings, err := s.gw.AccountPositions(ctx)
	if err != nil {
		return fmt.Errorf("verifying flat account: %w", err)
	}
	universe := s.universeSymbols(ctx)
	var symbols []string
	for _, p := range holdings {
		if s.managed(ctx, universe, p.Symbol) {
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) > 0 {
		return fmt.Errorf("account not flat after sweep: %v", symbols)
	}
	s.log.Info("end-of-day sweep complete, account flat")
	return nil
}

// sweepTracked liquidates every position the store claims: cancel its
// bracket, sell at market, move it to the closed ledger.
func (s *Sweeper) sweepTracked(ctx context.Context) error {
	rows, err := s.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active positions: %w", err)
	}

	for i := range rows {
		pos := rows[i]
		for _, orderID := range []string{pos.TPOrderID, pos.StopOrderID} {
			if orderID == "" {
				continue
			}
			if err := s.gw.CancelOrder(ctx, orderID); err != nil {
				s.log.Warn("cancelling bracket order failed", "symbol", pos.Symbol, "error", err)
			}
		}

		snap, err := s.gw.AccountSnapshot(ctx, pos.Symbol)
		if err != nil {
			s.log.Error("account snapshot failed", "symbol", pos.Symbol, "error", err)
			continue
		}
		if snap == nil || snap.Qty == 0 {
			// Shares already gone; clear the row so it cannot linger.
			if dropped, err := s.positions.DropActive(ctx, pos.Symbol); err != nil {
				s.log.Error("dropping stale row failed", "symbol", pos.Symbol, "error", err)
			} else if dropped {
				s.log.Warn("stale store row dropped during sweep", "symbol", pos.Symbol)
			}
			continue
		}

		fillPrice, err := s.sellAll(ctx, pos.Symbol, snap.Qty)
		if err != nil {
			s.log.Error("liquidation sell failed", "symbol", pos.Symbol, "error", err)
			continue
		}

		removed, err := s.positions.RemoveActive(ctx, pos.Symbol, fillPrice, domain.ExitEODLiquidation, OwnerSweep)
		if err != nil {
			s.log.Error("closing swept position failed", "symbol", pos.Symbol, "error", err)
			continue
		}
		if removed {
			s.logSell(ctx, pos.Symbol, snap.Qty, fillPrice, pos.EntryPrice, domain.ExitEODLiquidation)
		}
		s.log.Info("position liquidated", "symbol", pos.Symbol, "qty", snap.Qty, "price", fillPrice)
	}
	return nil
}

// sweepUntracked liquidates broker holdings the store knows nothing about.
// These indicate bookkeeping drift and are recorded with a distinct reason
// so they stand out in the ledger.
func (s *Sweeper) sweepUntracked(ctx context.Context) error {
	holdings, err := s.gw.AccountPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing broker positions: %w", err)
	}

	day := util.TradingDay(s.now())
	universe := s.universeSymbols(ctx)
	for _, h := range holdings {
		active, err := s.positions.IsActive(ctx, h.Symbol)
		if err != nil {
			s.log.Error("store check failed", "symbol", h.Symbol, "error", err)
			continue
		}
		if active {
			// Tracked pass missed it (e.g. sell failed); leave evidence.
			s.log.Error("tracked position survived first pass", "symbol", h.Symbol, "qty", h.Qty)
			continue
		}
		if universe != nil && !universe[h.Symbol] {
			// Not ours. Long-term holdings in a shared account stay put.
			s.log.Info("holding outside managed universe left alone", "symbol", h.Symbol, "qty", h.Qty)
			continue
		}

		s.log.Warn("liquidating untracked holding", "symbol", h.Symbol, "qty", h.Qty)
		fillPrice, err := s.sellAll(ctx, h.Symbol, h.Qty)
		if err != nil {
			s.log.Error("untracked liquidation failed", "symbol", h.Symbol, "error", err)
			continue
		}

		if err := s.positions.RecordClosed(ctx, &domain.ClosedPosition{
			Symbol:     h.Symbol,
			CloseDate:  day,
			ExitPrice:  fillPrice,
			ExitReason: domain.ExitEODUntracked,
			Owner:      OwnerSweep,
			ClosedAt:   s.now(),
		}); err != nil {
			s.log.Error("recording untracked close failed", "symbol", h.Symbol, "error", err)
		}
		s.logSell(ctx, h.Symbol, h.Qty, fillPrice, h.AvgCost, domain.ExitEODUntracked)
	}
	return nil
}

// universeSymbols returns the managed symbol set, or nil when no universe
// source is configured (dedicated account, everything is managed).
func (s *Sweeper) universeSymbols(ctx context.Context) map[string]bool {
	if s.universe == nil {
		return nil
	}
	candidates, err := s.universe.Candidates(ctx)
	if err != nil {
		// Without the universe the safe reading is that only store rows are
		// ours. The empty set expresses that.
		s.log.Warn("loading managed universe failed", "error", err)
		return map[string]bool{}
	}
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c.Symbol] = true
	}
	return set
}

// managed reports whether a holding is this system's responsibility: any
// symbol in the universe, plus anything the store still claims.
func (s *Sweeper) managed(ctx context.Context, universe map[string]bool, symbol string) bool {
	if universe == nil || universe[symbol] {
		return true
	}
	active, err := s.positions.IsActive(ctx, symbol)
	return err == nil && active
}

// sellAll market-sells qty shares and waits for the fill.
func (s *Sweeper) sellAll(ctx context.Context, symbol string, qty int64) (float64, error) {
	orderID, err := s.gw.PlaceOrder(ctx, domain.MarketOrder{
		Symbol: symbol, Side: domain.SideSell, Qty: qty, Immediate: true,
	})
	if err != nil {
		return 0, err
	}

	deadline := s.now().Add(s.fillWait)
	for {
		status, err := s.gw.OrderStatus(ctx, orderID)
		if err != nil {
			return 0, fmt.Errorf("polling order %s: %w", orderID, err)
		}
		if status.State == domain.OrderStateFilled {
			return status.AvgFillPrice, nil
		}
		if status.State.Terminal() {
			return 0, fmt.Errorf("sell order %s ended %s", orderID, status.State)
		}
		if !s.now().Before(deadline) {
			return 0, fmt.Errorf("sell order %s unfilled after %s", orderID, s.fillWait)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Sweeper) logSell(ctx context.Context, symbol string, qty int64, price, entryPrice float64, reason domain.ExitReason) {
	plPct := 0.0
	if entryPrice > 0 {
		plPct = (price - entryPrice) / entryPrice * 100
	}
	if err := s.trades.LogTrade(ctx, &domain.TradeLogEntry{
		Timestamp:     s.now(),
		Symbol:        symbol,
		Action:        domain.SideSell,
		Quantity:      qty,
		Price:         price,
		Owner:         OwnerSweep,
		Reason:        string(reason),
		ProfitLoss:    (price - entryPrice) * float64(qty),
		ProfitLossPct: plPct,
	}); err != nil {
		s.log.Error("trade log write failed", "symbol", symbol, "error", err)
	}
}
