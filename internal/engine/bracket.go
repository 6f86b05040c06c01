package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
)

// placeExits places the exit orders for a position and fills in its bracket
// fields. With native stops the gateway holds a linked take-profit/stop pair
// server-side; otherwise only the take-profit limit rests at the broker and
// the exit engine enforces the stop itself from account snapshots.
//
// On failure the position's bracket fields are left empty, which marks it
// for repair on the next reconciliation.
func placeExits(ctx context.Context, gw broker.Gateway, pos *domain.ActivePosition) error {
	group := uuid.NewString()

	if gw.NativeStops() {
		tpID, stopID, err := gw.PlaceExitBracket(ctx, pos.Symbol, pos.Quantity, pos.ProfitTarget, pos.StopLoss, group)
		if err != nil {
			return fmt.Errorf("placing exit bracket for %s: %w", pos.Symbol, err)
		}
		pos.CancelGroup = group
		pos.TPOrderID = tpID
		pos.StopOrderID = stopID
		return nil
	}

	tpID, err := gw.PlaceOrder(ctx, domain.LimitOrder{
		Symbol:      pos.Symbol,
		Side:        domain.SideSell,
		Qty:         pos.Quantity,
		Price:       pos.ProfitTarget,
		CancelGroup: group,
	})
	if err != nil {
		return fmt.Errorf("placing take-profit for %s: %w", pos.Symbol, err)
	}
	pos.CancelGroup = group
	pos.TPOrderID = tpID
	pos.StopOrderID = ""
	return nil
}

// roundPrice rounds to whole cents, the brokerage's minimum increment for
// orders above $1.
func roundPrice(p float64) float64 {
	return float64(int(p*100+0.5)) / 100
}
