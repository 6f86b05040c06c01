package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"daytrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PositionStore = (*SQLiteStore)(nil)
var _ TradeLog = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS active_positions (
	symbol        TEXT PRIMARY KEY,
	quantity      INTEGER NOT NULL,
	entry_price   REAL NOT NULL,
	entry_time    TEXT NOT NULL,
	owner         TEXT NOT NULL,
	profit_target REAL NOT NULL,
	stop_loss     REAL NOT NULL,
	cancel_group  TEXT NOT NULL DEFAULT '',
	tp_order_id   TEXT NOT NULL DEFAULT '',
	stop_order_id TEXT NOT NULL DEFAULT '',
	last_updated  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_positions_today (
	symbol          TEXT NOT NULL,
	close_date      TEXT NOT NULL,
	exit_price      REAL NOT NULL,
	exit_reason     TEXT NOT NULL,
	profit_loss_pct REAL NOT NULL DEFAULT 0,
	owner           TEXT NOT NULL,
	closed_at       TEXT NOT NULL,
	PRIMARY KEY (symbol, close_date)
);

CREATE TABLE IF NOT EXISTS trades (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	action          TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	price           REAL NOT NULL,
	owner           TEXT NOT NULL,
	reason          TEXT,
	profit_loss     REAL,
	profit_loss_pct REAL,
	metadata        TEXT
);
`

// SQLiteStore implements PositionStore and TradeLog backed by a single
// SQLite database shared by both engine processes. Cross-process safety
// comes from the primary-key constraints and short single-statement
// transactions, not from in-process locking.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath, applies the
// schema, and returns a ready-to-use store. WAL mode plus a busy timeout let
// the entry and exit engines share the file without "database is locked"
// failures under normal polling load.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// AddActive inserts a new active position. The primary key on symbol makes
// this the authoritative at-most-once check: if two processes race, exactly
// one insert succeeds and the other gets ErrAlreadyActive.
func (s *SQLiteStore) AddActive(ctx context.Context, pos *domain.ActivePosition) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO active_positions
			(symbol, quantity, entry_price, entry_time, owner,
			 profit_target, stop_loss, cancel_group, tp_order_id, stop_order_id, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.Symbol, pos.Quantity, pos.EntryPrice, pos.EntryTime.UTC().Format(time.RFC3339Nano),
		pos.Owner, pos.ProfitTarget, pos.StopLoss,
		pos.CancelGroup, pos.TPOrderID, pos.StopOrderID,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting active position %s: %w", pos.Symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", pos.Symbol, ErrAlreadyActive)
	}
	return nil
}

// UpdateBracket refreshes bracket state for an existing row. The only
// legitimate mutation of an active row is refreshing its bracket after
// reconciliation.
func (s *SQLiteStore) UpdateBracket(ctx context.Context, pos *domain.ActivePosition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_positions
		SET profit_target = ?, stop_loss = ?, cancel_group = ?,
		    tp_order_id = ?, stop_order_id = ?, last_updated = ?
		WHERE symbol = ?`,
		pos.ProfitTarget, pos.StopLoss, pos.CancelGroup,
		pos.TPOrderID, pos.StopOrderID,
		time.Now().UTC().Format(time.RFC3339Nano), pos.Symbol)
	if err != nil {
		return fmt.Errorf("updating bracket for %s: %w", pos.Symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("updating bracket for %s: no active row", pos.Symbol)
	}
	return nil
}

// RemoveActive deletes the active row and inserts the closed-today row in
// one transaction.
func (s *SQLiteStore) RemoveActive(ctx context.Context, symbol string, exitPrice float64, reason domain.ExitReason, owner string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning close transaction for %s: %w", symbol, err)
	}
	defer tx.Rollback()

	var entryPrice float64
	err = tx.QueryRowContext(ctx,
		`SELECT entry_price FROM active_positions WHERE symbol = ?`, symbol).Scan(&entryPrice)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading active position %s: %w", symbol, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_positions WHERE symbol = ?`, symbol); err != nil {
		return false, fmt.Errorf("deleting active position %s: %w", symbol, err)
	}

	plPct := 0.0
	if entryPrice > 0 {
		plPct = (exitPrice - entryPrice) / entryPrice * 100
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO closed_positions_today
			(symbol, close_date, exit_price, exit_reason, profit_loss_pct, owner, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		symbol, now.Format("2006-01-02"), exitPrice, string(reason), plPct, owner,
		now.Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("inserting closed row for %s: %w", symbol, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing close for %s: %w", symbol, err)
	}
	return true, nil
}

// DropActive deletes the active row without writing a closed-today row.
func (s *SQLiteStore) DropActive(ctx context.Context, symbol string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM active_positions WHERE symbol = ?`, symbol)
	if err != nil {
		return false, fmt.Errorf("dropping active position %s: %w", symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordClosed inserts or replaces a closed-today row directly.
func (s *SQLiteStore) RecordClosed(ctx context.Context, closed *domain.ClosedPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO closed_positions_today
			(symbol, close_date, exit_price, exit_reason, profit_loss_pct, owner, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		closed.Symbol, closed.CloseDate, closed.ExitPrice, string(closed.ExitReason),
		closed.ProfitLossPct, closed.Owner, closed.ClosedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording closed position %s: %w", closed.Symbol, err)
	}
	return nil
}

// IsActive reports whether an active row exists for the symbol.
func (s *SQLiteStore) IsActive(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM active_positions WHERE symbol = ?`, symbol).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking active position %s: %w", symbol, err)
	}
	return true, nil
}

// WasClosedToday reports whether the symbol already closed on the given day.
func (s *SQLiteStore) WasClosedToday(ctx context.Context, symbol, day string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM closed_positions_today WHERE symbol = ? AND close_date = ?`,
		symbol, day).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking closed ledger for %s: %w", symbol, err)
	}
	return true, nil
}

// ListActive returns all active positions ordered by symbol.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]domain.ActivePosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, entry_price, entry_time, owner,
		       profit_target, stop_loss, cancel_group, tp_order_id, stop_order_id, last_updated
		FROM active_positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing active positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.ActivePosition
	for rows.Next() {
		var p domain.ActivePosition
		var entryTime, lastUpdated string
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice, &entryTime, &p.Owner,
			&p.ProfitTarget, &p.StopLoss, &p.CancelGroup, &p.TPOrderID, &p.StopOrderID,
			&lastUpdated); err != nil {
			return nil, fmt.Errorf("scanning active position: %w", err)
		}
		p.EntryTime, _ = time.Parse(time.RFC3339Nano, entryTime)
		p.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListClosedToday returns all closed rows for the given trading day.
func (s *SQLiteStore) ListClosedToday(ctx context.Context, day string) ([]domain.ClosedPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, close_date, exit_price, exit_reason, profit_loss_pct, owner, closed_at
		FROM closed_positions_today WHERE close_date = ? ORDER BY symbol`, day)
	if err != nil {
		return nil, fmt.Errorf("listing closed positions: %w", err)
	}
	defer rows.Close()

	var closed []domain.ClosedPosition
	for rows.Next() {
		var c domain.ClosedPosition
		var reason, closedAt string
		if err := rows.Scan(&c.Symbol, &c.CloseDate, &c.ExitPrice, &reason,
			&c.ProfitLossPct, &c.Owner, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning closed position: %w", err)
		}
		c.ExitReason = domain.ExitReason(reason)
		c.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		closed = append(closed, c)
	}
	return closed, rows.Err()
}

// ClearClosedToday purges closed rows from trading days before day.
func (s *SQLiteStore) ClearClosedToday(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM closed_positions_today WHERE close_date < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("clearing closed ledger: %w", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// TradeLog implementation
// ---------------------------------------------------------------------------

// LogTrade appends one audit record.
func (s *SQLiteStore) LogTrade(ctx context.Context, entry *domain.TradeLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(timestamp, symbol, action, quantity, price, owner, reason,
			 profit_loss, profit_loss_pct, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), entry.Symbol, string(entry.Action),
		entry.Quantity, entry.Price, entry.Owner, entry.Reason,
		entry.ProfitLoss, entry.ProfitLossPct, entry.Metadata)
	if err != nil {
		return fmt.Errorf("logging trade for %s: %w", entry.Symbol, err)
	}
	return nil
}

// ListTrades returns all entries whose timestamp falls on the given day.
func (s *SQLiteStore) ListTrades(ctx context.Context, day string) ([]domain.TradeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, symbol, action, quantity, price, owner,
		       COALESCE(reason, ''), COALESCE(profit_loss, 0),
		       COALESCE(profit_loss_pct, 0), COALESCE(metadata, '')
		FROM trades WHERE substr(timestamp, 1, 10) = ? ORDER BY id`, day)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var entries []domain.TradeLogEntry
	for rows.Next() {
		var e domain.TradeLogEntry
		var ts, action string
		if err := rows.Scan(&e.ID, &ts, &e.Symbol, &action, &e.Quantity, &e.Price,
			&e.Owner, &e.Reason, &e.ProfitLoss, &e.ProfitLossPct, &e.Metadata); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Action = domain.Side(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
