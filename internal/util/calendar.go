// Package util provides shared helpers: structured logging setup, retry and
// rate-limit primitives, and US equity market calendar math.
package util

import "time"

// eastern is the US equity market time zone. time.LoadLocation reads the
// system zone database; falling back to fixed EST keeps the engines usable
// on hosts without tzdata, at the cost of DST accuracy.
var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}()

// TradingDay returns the trading-day key (YYYY-MM-DD) for t in market time.
// A fill at 19:00 ET belongs to that date, not the UTC date.
func TradingDay(t time.Time) string {
	return t.In(eastern).Format("2006-01-02")
}

// SessionOpen returns 09:30 ET on t's trading day.
func SessionOpen(t time.Time) time.Time {
	et := t.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, eastern)
}

// SessionClose returns 16:00 ET on t's trading day.
func SessionClose(t time.Time) time.Time {
	et := t.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, eastern)
}

// IsMarketHours reports whether t falls inside the regular session,
// 09:30-16:00 ET on a weekday. Exchange holidays are not modeled; on a
// holiday the engines idle because no orders fill and no watchlist appears.
func IsMarketHours(t time.Time) bool {
	et := t.In(eastern)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !et.Before(SessionOpen(t)) && et.Before(SessionClose(t))
}
