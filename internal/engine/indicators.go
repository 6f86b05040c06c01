package engine

import "daytrader/internal/domain"

// VWAP returns the session volume-weighted average price over bars, using
// the typical price (H+L+C)/3 per bar. Returns 0 when no volume traded.
func VWAP(bars []domain.Bar) float64 {
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		vol += float64(b.Volume)
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// RSI returns the Wilder relative strength index of the bar closes over the
// given period. Returns 50 (neutral) when there are not enough bars.
func RSI(bars []domain.Bar, period int) float64 {
	if len(bars) <= period {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATRPct returns the average true range over the given period as a
// percentage of the last close. Returns 0 when there are not enough bars.
func ATRPct(bars []domain.Bar, period int) float64 {
	if len(bars) <= period {
		return 0
	}

	var sum float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		if prev := bars[i-1].Close; prev > 0 {
			if hc := abs(bars[i].High - prev); hc > tr {
				tr = hc
			}
			if lc := abs(bars[i].Low - prev); lc > tr {
				tr = lc
			}
		}
		sum += tr
	}
	atr := sum / float64(period)

	last := bars[len(bars)-1].Close
	if last == 0 {
		return 0
	}
	return atr / last * 100
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
