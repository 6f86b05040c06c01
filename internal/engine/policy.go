package engine

import (
	"fmt"

	"daytrader/internal/domain"
)

// EntryPolicy decides whether a watchlist candidate is worth buying right
// now. Implementations must be pure: no orders, no store writes.
type EntryPolicy interface {
	// Evaluate returns ok=false with a human-readable reason when the
	// candidate fails the policy.
	Evaluate(c domain.Candidate, price float64, bars []domain.Bar) (ok bool, reason string)
}

// Compile-time interface check.
var _ EntryPolicy = (*MomentumPolicy)(nil)

// MomentumPolicy requires price above session VWAP, RSI below MaxRSI, and
// intraday ATR of at least MinATRPct percent. Candidates that gapped up at
// least GapBypassPct percent in the premarket skip the VWAP trend check,
// since a strong gap often opens below VWAP before momentum resumes.
type MomentumPolicy struct {
	MaxRSI       float64
	MinATRPct    float64
	GapBypassPct float64

	// RSIPeriod and ATRPeriod default to 14 when zero.
	RSIPeriod int
	ATRPeriod int
}

// MinPolicyBars is the fewest one-minute bars Evaluate accepts. Below this
// the indicators are too noisy to act on.
const MinPolicyBars = 15

// Evaluate applies the momentum entry rules.
func (p *MomentumPolicy) Evaluate(c domain.Candidate, price float64, bars []domain.Bar) (bool, string) {
	if len(bars) < MinPolicyBars {
		return false, fmt.Sprintf("insufficient bars (%d < %d)", len(bars), MinPolicyBars)
	}

	rsiPeriod := p.RSIPeriod
	if rsiPeriod == 0 {
		rsiPeriod = 14
	}
	atrPeriod := p.ATRPeriod
	if atrPeriod == 0 {
		atrPeriod = 14
	}

	gapBypass := p.GapBypassPct > 0 && c.PremarketChange >= p.GapBypassPct
	if !gapBypass {
		if vwap := VWAP(bars); price <= vwap {
			return false, fmt.Sprintf("price %.2f below vwap %.2f", price, vwap)
		}
	}

	if rsi := RSI(bars, rsiPeriod); rsi >= p.MaxRSI {
		return false, fmt.Sprintf("rsi %.1f above limit %.1f", rsi, p.MaxRSI)
	}
	if atr := ATRPct(bars, atrPeriod); atr < p.MinATRPct {
		return false, fmt.Sprintf("atr %.2f%% below minimum %.2f%%", atr, p.MinATRPct)
	}
	return true, ""
}
