package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"daytrader/internal/domain"
)

// ParquetArchive exports the trade log to Parquet files for post-hoc
// analysis. One file per trading day.
type ParquetArchive struct {
	Dir string
}

// NewParquetArchive creates an archive rooted at the given directory.
func NewParquetArchive(dir string) *ParquetArchive {
	return &ParquetArchive{Dir: dir}
}

// tradeLogRecord is the Parquet schema for archived trade log entries.
type tradeLogRecord struct {
	ID            int64   `parquet:"id"`
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Symbol        string  `parquet:"symbol"`
	Action        string  `parquet:"action"`
	Quantity      int64   `parquet:"quantity"`
	Price         float64 `parquet:"price"`
	Owner         string  `parquet:"owner"`
	Reason        string  `parquet:"reason"`
	ProfitLoss    float64 `parquet:"profit_loss"`
	ProfitLossPct float64 `parquet:"profit_loss_pct"`
	Metadata      string  `parquet:"metadata"`
}

// ExportDay writes all trade log entries for the given day (YYYY-MM-DD) to
// the archive, merging with any records exported earlier the same day.
// Returns the file path and the number of records written.
func (a *ParquetArchive) ExportDay(ctx context.Context, log TradeLog, day string) (string, int, error) {
	entries, err := log.ListTrades(ctx, day)
	if err != nil {
		return "", 0, fmt.Errorf("reading trade log for %s: %w", day, err)
	}

	records := make([]tradeLogRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, tradeLogRecord{
			ID:            e.ID,
			Timestamp:     e.Timestamp.UnixMilli(),
			Symbol:        e.Symbol,
			Action:        string(e.Action),
			Quantity:      e.Quantity,
			Price:         e.Price,
			Owner:         e.Owner,
			Reason:        e.Reason,
			ProfitLoss:    e.ProfitLoss,
			ProfitLossPct: e.ProfitLossPct,
			Metadata:      e.Metadata,
		})
	}

	path := a.dayPath(day)
	existing, _ := readParquetFile[tradeLogRecord](path)
	merged := mergeTradeLogRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return "", 0, fmt.Errorf("writing trade archive for %s: %w", day, err)
	}
	return path, len(merged), nil
}

// ReadDay reads archived trade log entries for the given day.
func (a *ParquetArchive) ReadDay(day string) ([]domain.TradeLogEntry, error) {
	records, err := readParquetFile[tradeLogRecord](a.dayPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading trade archive for %s: %w", day, err)
	}

	entries := make([]domain.TradeLogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, domain.TradeLogEntry{
			ID:            r.ID,
			Timestamp:     time.UnixMilli(r.Timestamp),
			Symbol:        r.Symbol,
			Action:        domain.Side(r.Action),
			Quantity:      r.Quantity,
			Price:         r.Price,
			Owner:         r.Owner,
			Reason:        r.Reason,
			ProfitLoss:    r.ProfitLoss,
			ProfitLossPct: r.ProfitLossPct,
			Metadata:      r.Metadata,
		})
	}
	return entries, nil
}

// dayPath returns the archive path for one trading day.
// Layout: <Dir>/trades/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) dayPath(day string) string {
	return filepath.Join(a.Dir, "trades", day+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTradeLogRecords deduplicates records by ID, preferring incoming over
// existing. Results are sorted by ID, which matches insertion order.
func mergeTradeLogRecords(existing, incoming []tradeLogRecord) []tradeLogRecord {
	seen := make(map[int64]tradeLogRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]tradeLogRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID < merged[j].ID
	})
	return merged
}
