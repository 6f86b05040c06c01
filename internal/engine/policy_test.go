package engine

import (
	"strings"
	"testing"

	"daytrader/internal/domain"
)

func balancedCloses(n int, base float64) []float64 {
	closes := make([]float64, n)
	closes[0] = base
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 0.08
		} else {
			closes[i] = closes[i-1] - 0.06
		}
	}
	return closes
}

func TestMomentumPolicy(t *testing.T) {
	policy := &MomentumPolicy{MaxRSI: 60, MinATRPct: 1.5, GapBypassPct: 3.0}
	goodBars := barsFromCloses(balancedCloses(30, 10), 0.2)
	lastClose := goodBars[len(goodBars)-1].Close

	tests := []struct {
		name       string
		candidate  domain.Candidate
		price      float64
		bars       []domain.Bar
		wantOK     bool
		wantReason string
	}{
		{
			name:      "passes all checks",
			candidate: domain.Candidate{Symbol: "ABCD"},
			price:     lastClose + 0.5,
			bars:      goodBars,
			wantOK:    true,
		},
		{
			name:       "below vwap",
			candidate:  domain.Candidate{Symbol: "ABCD"},
			price:      9.0,
			bars:       goodBars,
			wantReason: "vwap",
		},
		{
			name:      "gap bypasses vwap check",
			candidate: domain.Candidate{Symbol: "ABCD", PremarketChange: 5.0},
			price:     9.0,
			bars:      goodBars,
			wantOK:    true,
		},
		{
			name:       "overbought rsi",
			candidate:  domain.Candidate{Symbol: "ABCD"},
			price:      13.0,
			bars:       barsFromCloses(risingCloses(30, 10), 0.3),
			wantReason: "rsi",
		},
		{
			name:       "flat range",
			candidate:  domain.Candidate{Symbol: "ABCD"},
			price:      lastFlatClose + 0.5,
			bars:       barsFromCloses(balancedFlatCloses(30, 10), 0.01),
			wantReason: "atr",
		},
		{
			name:       "insufficient bars",
			candidate:  domain.Candidate{Symbol: "ABCD"},
			price:      11.0,
			bars:       goodBars[:5],
			wantReason: "insufficient",
		},
	}

	for _, tt := range tests {
		ok, reason := policy.Evaluate(tt.candidate, tt.price, tt.bars)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v (reason %q), want %v", tt.name, ok, reason, tt.wantOK)
			continue
		}
		if !ok && !strings.Contains(reason, tt.wantReason) {
			t.Errorf("%s: reason = %q, want mention of %q", tt.name, reason, tt.wantReason)
		}
	}
}

func risingCloses(n int, base float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base + 0.1*float64(i)
	}
	return closes
}

// balancedFlatCloses keeps RSI mid-range with moves too small to register
// on ATR.
func balancedFlatCloses(n int, base float64) []float64 {
	closes := make([]float64, n)
	closes[0] = base
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 0.004
		} else {
			closes[i] = closes[i-1] - 0.003
		}
	}
	return closes
}

var lastFlatClose = balancedFlatCloses(30, 10)[29]
