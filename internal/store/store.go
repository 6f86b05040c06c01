// Package store defines the shared persistent state the entry and exit
// engines coordinate through: the active-position table, the same-day closed
// ledger, and the append-only trade log.
package store

import (
	"context"
	"errors"

	"daytrader/internal/domain"
)

// ErrAlreadyActive is returned by AddActive when a row for the symbol
// already exists. The storage layer enforces this even when two processes
// race on the same symbol.
var ErrAlreadyActive = errors.New("position already active")

// PositionStore is the single source of truth for "is this symbol mine to
// manage". The broker account remains the source of truth for "do I actually
// hold shares"; a mismatch between the two is a signal to reconcile.
type PositionStore interface {
	// AddActive inserts a new active position. Returns ErrAlreadyActive if a
	// row for the symbol exists.
	AddActive(ctx context.Context, pos *domain.ActivePosition) error

	// UpdateBracket refreshes the bracket state (cancel group, order IDs,
	// target/stop prices) of an existing row.
	UpdateBracket(ctx context.Context, pos *domain.ActivePosition) error

	// RemoveActive deletes the active row and inserts the matching
	// closed-today row in one transaction, so a crash between the two steps
	// cannot leave the symbol eligible for re-entry under both old and new
	// state. Returns false if no active row existed.
	RemoveActive(ctx context.Context, symbol string, exitPrice float64, reason domain.ExitReason, owner string) (bool, error)

	// DropActive deletes the active row without writing a closed-today row.
	// Used when a position disappeared from the broker for an ambiguous
	// reason (e.g. manual intervention); such exits are logged, not ledgered.
	DropActive(ctx context.Context, symbol string) (bool, error)

	// RecordClosed inserts or replaces a closed-today row directly, without
	// touching the active table. Used by the safety-net liquidation pass for
	// positions that were never tracked.
	RecordClosed(ctx context.Context, closed *domain.ClosedPosition) error

	// IsActive reports whether an active row exists for the symbol.
	IsActive(ctx context.Context, symbol string) (bool, error)

	// WasClosedToday reports whether the symbol has a closed row for the
	// given trading day (YYYY-MM-DD).
	WasClosedToday(ctx context.Context, symbol, day string) (bool, error)

	// ListActive returns all active positions.
	ListActive(ctx context.Context) ([]domain.ActivePosition, error)

	// ListClosedToday returns all closed rows for the given trading day.
	ListClosedToday(ctx context.Context, day string) ([]domain.ClosedPosition, error)

	// ClearClosedToday purges closed rows from trading days before the given
	// day. Called once at the start of each session.
	ClearClosedToday(ctx context.Context, day string) (int64, error)
}

// TradeLog is the append-only audit trail. Entries are never mutated or
// deleted and are consumed only by post-hoc analysis tooling.
type TradeLog interface {
	// LogTrade appends one audit record.
	LogTrade(ctx context.Context, entry *domain.TradeLogEntry) error

	// ListTrades returns all entries for the given trading day in
	// chronological order.
	ListTrades(ctx context.Context, day string) ([]domain.TradeLogEntry, error)
}
