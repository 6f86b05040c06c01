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
)

// ExitConfig holds the exit engine tunables.
type ExitConfig struct {
	CheckInterval   time.Duration // how often tracked positions are checked
	ResyncInterval  time.Duration // how often store and broker are reconciled
	ProfitTargetPct float64       // fraction, e.g. 0.018, used for adopted positions
	StopLossPct     float64       // fraction, e.g. 0.009
	FillWait        time.Duration
	PollInterval    time.Duration
}

// ExitEngine owns every position registered in the store: it arms and
// repairs exit brackets, detects fills, enforces stop-losses from account
// snapshots, and writes the close-out records. It never buys, and it never
// sells shares the store does not claim.
type ExitEngine struct {
	gw        broker.Gateway
	positions store.PositionStore
	trades    store.TradeLog
	cfg       ExitConfig
	log       *slog.Logger

	// universe bounds which untracked broker holdings may be adopted. Nil
	// means the account is dedicated to this system and everything held is
	// managed.
	universe CandidateSource

	// tracked mirrors the store's active rows between reconciliations.
	tracked map[string]*domain.ActivePosition
	// failed holds symbols whose sells were rejected terminally. They stay
	// in the store (still our responsibility) but are skipped until the
	// end-of-day sweep retries them.
	failed map[string]string

	now func() time.Time
}

// NewExitEngine wires an exit engine from its collaborators. universe may
// be nil for accounts dedicated to this system.
func NewExitEngine(gw broker.Gateway, positions store.PositionStore, trades store.TradeLog, universe CandidateSource, cfg ExitConfig, log *slog.Logger) *ExitEngine {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &ExitEngine{
		gw:        gw,
		positions: positions,
		trades:    trades,
		cfg:       cfg,
		log:       log,
		universe:  universe,
		tracked:   make(map[string]*domain.ActivePosition),
		failed:    make(map[string]string),
		now:       time.Now,
	}
}

// Run reconciles immediately, then alternates fast checks and slower
// reconciliations until the context ends. Errors are logged, never fatal: a
// broker hiccup must not stop stop-loss enforcement.
func (e *ExitEngine) Run(ctx context.Context) error {
	if err := e.Resync(ctx); err != nil {
		e.log.Error("initial reconciliation failed", "error", err)
	}

	check := time.NewTicker(e.cfg.CheckInterval)
	defer check.Stop()
	resync := time.NewTicker(e.cfg.ResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resync.C:
			if err := e.Resync(ctx); err != nil {
				e.log.Error("reconciliation failed", "error", err)
			}
		case <-check.C:
			e.Check(ctx)
		}
	}
}

// Tracked returns the symbols currently under management.
func (e *ExitEngine) Tracked() []string {
	out := make([]string, 0, len(e.tracked))
	for s := range e.tracked {
		out = append(out, s)
	}
	return out
}

// Resync reconciles the in-memory tracking set against the store and the
// broker account. The store decides what is ours; the broker decides what
// actually exists.
func (e *ExitEngine) Resync(ctx context.Context) error {
	rows, err := e.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active positions: %w", err)
	}
	brokerPositions, err := e.gw.AccountPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing broker positions: %w", err)
	}
	held := make(map[string]domain.BrokerPosition, len(brokerPositions))
	for _, p := range brokerPositions {
		held[p.Symbol] = p
	}

	inStore := make(map[string]bool, len(rows))
	for i := range rows {
		row := rows[i]
		inStore[row.Symbol] = true
		if _, bad := e.failed[row.Symbol]; bad {
			continue
		}

		if held[row.Symbol].Qty == 0 {
			e.resolveVanished(ctx, &row)
			continue
		}

		if _, ok := e.tracked[row.Symbol]; !ok {
			e.log.Info("adopted position", "symbol", row.Symbol, "qty", row.Quantity, "owner", row.Owner)
		}
		e.tracked[row.Symbol] = &row

		if !row.BracketPlaced() {
			e.repairBracket(ctx, e.tracked[row.Symbol])
		}
	}

	// Anything tracked but no longer in the store was closed elsewhere.
	for symbol := range e.tracked {
		if !inStore[symbol] {
			e.log.Info("released position", "symbol", symbol)
			delete(e.tracked, symbol)
		}
	}

	// Broker holdings missing from the store: adopt the ones inside our
	// managed universe (a crashed entry engine, or manual intervention),
	// leave everything else alone until the end-of-day sweep.
	universe := e.universeSymbols(ctx)
	for symbol, p := range held {
		if inStore[symbol] {
			continue
		}
		if universe == nil || universe[symbol] {
			e.adopt(ctx, p)
		} else {
			e.log.Warn("untracked broker holding outside managed universe",
				"symbol", symbol, "qty", p.Qty)
		}
	}
	return nil
}

// universeSymbols returns the set of symbols this engine may adopt, or nil
// when no universe source is configured (dedicated account).
func (e *ExitEngine) universeSymbols(ctx context.Context) map[string]bool {
	if e.universe == nil {
		return nil
	}
	candidates, err := e.universe.Candidates(ctx)
	if err != nil {
		e.log.Warn("loading managed universe failed, skipping adoption", "error", err)
		return map[string]bool{}
	}
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c.Symbol] = true
	}
	return set
}

// adopt registers a broker holding that has no store row, reconstructing the
// bracket from the reported average cost. Shares left behind by an entry
// engine crash between fill and persist land here.
func (e *ExitEngine) adopt(ctx context.Context, p domain.BrokerPosition) {
	pos := &domain.ActivePosition{
		Symbol:       p.Symbol,
		Quantity:     p.Qty,
		EntryPrice:   p.AvgCost,
		EntryTime:    e.now(),
		ProfitTarget: roundPrice(p.AvgCost * (1 + e.cfg.ProfitTargetPct)),
		StopLoss:     roundPrice(p.AvgCost * (1 - e.cfg.StopLossPct)),
		Owner:        OwnerExit,
	}
	if err := e.positions.AddActive(ctx, pos); err != nil {
		if errors.Is(err, store.ErrAlreadyActive) {
			return
		}
		e.log.Error("adopting broker position failed", "symbol", p.Symbol, "error", err)
		return
	}
	e.log.Warn("adopted untracked broker position", "symbol", p.Symbol,
		"qty", p.Qty, "avg_cost", p.AvgCost)
	e.tracked[p.Symbol] = pos
	e.repairBracket(ctx, pos)
}

// resolveVanished handles a store row whose shares are gone from the
// broker: either the resting take-profit filled while we were not looking,
// or someone sold the shares out from under us.
func (e *ExitEngine) resolveVanished(ctx context.Context, pos *domain.ActivePosition) {
	if pos.TPOrderID != "" {
		status, err := e.gw.OrderStatus(ctx, pos.TPOrderID)
		if err == nil && status.State == domain.OrderStateFilled {
			e.finalize(ctx, pos, status.AvgFillPrice, domain.ExitProfitTarget)
			return
		}
	}
	if e.stopFilled(ctx, pos) {
		return
	}

	dropped, err := e.positions.DropActive(ctx, pos.Symbol)
	if err != nil {
		e.log.Error("dropping vanished position failed", "symbol", pos.Symbol, "error", err)
		return
	}
	if dropped {
		e.log.Warn("position vanished from broker, dropped without ledger entry",
			"symbol", pos.Symbol, "qty", pos.Quantity)
	}
	delete(e.tracked, pos.Symbol)
}

// repairBracket re-arms exits for a position persisted without them, such
// as after a crash between the buy fill and the bracket placement.
func (e *ExitEngine) repairBracket(ctx context.Context, pos *domain.ActivePosition) {
	if err := placeExits(ctx, e.gw, pos); err != nil {
		e.log.Warn("bracket repair failed, will retry", "symbol", pos.Symbol, "error", err)
		return
	}
	if err := e.positions.UpdateBracket(ctx, pos); err != nil {
		e.log.Error("saving repaired bracket failed", "symbol", pos.Symbol, "error", err)
		return
	}
	e.log.Info("bracket repaired", "symbol", pos.Symbol,
		"take_profit", pos.ProfitTarget, "stop_loss", pos.StopLoss)
}

// Check runs one pass over tracked positions: detect take-profit fills, and
// when the gateway has no native stops, enforce the stop-loss from the
// account snapshot.
func (e *ExitEngine) Check(ctx context.Context) {
	for symbol, pos := range e.tracked {
		if _, bad := e.failed[symbol]; bad {
			continue
		}
		e.checkOne(ctx, pos)
	}
}

func (e *ExitEngine) checkOne(ctx context.Context, pos *domain.ActivePosition) {
	if pos.TPOrderID != "" {
		status, err := e.gw.OrderStatus(ctx, pos.TPOrderID)
		if err != nil {
			e.log.Warn("take-profit poll failed", "symbol", pos.Symbol, "error", err)
			return
		}
		switch status.State {
		case domain.OrderStateFilled:
			e.finalize(ctx, pos, status.AvgFillPrice, domain.ExitProfitTarget)
			return
		case domain.OrderStateCancelled, domain.OrderStateRejected:
			// A stop fill OCO-cancels the take-profit. Check the sibling
			// before declaring the bracket dead.
			if e.stopFilled(ctx, pos) {
				return
			}
			e.log.Warn("take-profit order dead", "symbol", pos.Symbol, "state", string(status.State))
			pos.TPOrderID = ""
			pos.StopOrderID = ""
			if err := e.positions.UpdateBracket(ctx, pos); err != nil {
				e.log.Error("clearing dead bracket failed", "symbol", pos.Symbol, "error", err)
			}
			return
		}
	}

	if e.stopFilled(ctx, pos) {
		return
	}

	if !e.gw.NativeStops() {
		e.checkManualStop(ctx, pos)
	}
}

// stopFilled polls the stop leg and finalizes the position when it filled.
func (e *ExitEngine) stopFilled(ctx context.Context, pos *domain.ActivePosition) bool {
	if pos.StopOrderID == "" {
		return false
	}
	status, err := e.gw.OrderStatus(ctx, pos.StopOrderID)
	if err != nil || status.State != domain.OrderStateFilled {
		return false
	}
	e.finalize(ctx, pos, status.AvgFillPrice, domain.ExitStopLoss)
	return true
}

// checkManualStop enforces the stop-loss by polling the account snapshot
// instead of market data: one request per position, no quote subscription.
func (e *ExitEngine) checkManualStop(ctx context.Context, pos *domain.ActivePosition) {
	snap, err := e.gw.AccountSnapshot(ctx, pos.Symbol)
	if err != nil {
		e.log.Warn("account snapshot failed", "symbol", pos.Symbol, "error", err)
		return
	}
	if snap == nil {
		// Shares gone but TP not filled (checked above). Resolved as a
		// vanished position on the next reconciliation.
		return
	}
	if snap.UnrealizedPLPct() > -e.cfg.StopLossPct*100 {
		return
	}

	e.log.Info("stop-loss triggered", "symbol", pos.Symbol,
		"unrealized_pl_pct", snap.UnrealizedPLPct(), "threshold", -e.cfg.StopLossPct*100)
	e.executeStop(ctx, pos, snap.Qty)
}

// executeStop cancels the resting take-profit and sells at market.
func (e *ExitEngine) executeStop(ctx context.Context, pos *domain.ActivePosition, qty int64) {
	if pos.TPOrderID != "" {
		if err := e.gw.CancelOrder(ctx, pos.TPOrderID); err != nil {
			e.log.Warn("cancelling take-profit failed", "symbol", pos.Symbol, "error", err)
			return
		}
	}

	orderID, err := e.gw.PlaceOrder(ctx, domain.MarketOrder{
		Symbol: pos.Symbol, Side: domain.SideSell, Qty: qty, Immediate: true,
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrRejectedTerminal {
			e.failed[pos.Symbol] = err.Error()
			e.log.Error("stop-loss sell rejected terminally, parked until end of day",
				"symbol", pos.Symbol, "error", err)
		} else {
			e.log.Warn("stop-loss sell failed, retrying next check", "symbol", pos.Symbol, "error", err)
		}
		return
	}

	status, err := e.awaitFill(ctx, orderID)
	if err != nil || status.State != domain.OrderStateFilled {
		e.log.Warn("stop-loss sell did not fill", "symbol", pos.Symbol, "error", err)
		return
	}
	e.finalize(ctx, pos, status.AvgFillPrice, domain.ExitStopLoss)
}

// finalize cancels leftover bracket orders, moves the position to the
// closed ledger, and writes the audit record. Safe to call twice for the
// same symbol: the store reports whether this caller actually closed it.
func (e *ExitEngine) finalize(ctx context.Context, pos *domain.ActivePosition, exitPrice float64, reason domain.ExitReason) {
	for _, orderID := range []string{pos.TPOrderID, pos.StopOrderID} {
		if orderID == "" {
			continue
		}
		if status, err := e.gw.OrderStatus(ctx, orderID); err == nil && !status.State.Terminal() {
			if err := e.gw.CancelOrder(ctx, orderID); err != nil {
				e.log.Warn("cancelling bracket leftover failed", "symbol", pos.Symbol, "error", err)
			}
		}
	}

	removed, err := e.positions.RemoveActive(ctx, pos.Symbol, exitPrice, reason, OwnerExit)
	if err != nil {
		e.log.Error("closing position failed", "symbol", pos.Symbol, "error", err)
		return
	}
	delete(e.tracked, pos.Symbol)
	if !removed {
		// Someone else closed it first; nothing to record.
		return
	}

	plPct := 0.0
	if pos.EntryPrice > 0 {
		plPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	if err := e.trades.LogTrade(ctx, &domain.TradeLogEntry{
		Timestamp:     e.now(),
		Symbol:        pos.Symbol,
		Action:        domain.SideSell,
		Quantity:      pos.Quantity,
		Price:         exitPrice,
		Owner:         OwnerExit,
		Reason:        string(reason),
		ProfitLoss:    (exitPrice - pos.EntryPrice) * float64(pos.Quantity),
		ProfitLossPct: plPct,
	}); err != nil {
		e.log.Error("trade log write failed", "symbol", pos.Symbol, "error", err)
	}
	e.log.Info("position closed", "symbol", pos.Symbol, "reason", string(reason),
		"exit_price", exitPrice, "pl_pct", plPct)
}

// awaitFill polls until the order is terminal or the fill window expires.
func (e *ExitEngine) awaitFill(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
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
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}
}
