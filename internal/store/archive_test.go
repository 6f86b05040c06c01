package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"daytrader/internal/domain"
)

func TestParquetArchiveExportDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, e := range []*domain.TradeLogEntry{
		{Symbol: "ABCD", Action: domain.SideBuy, Quantity: 100, Price: 10.0, Owner: "entry-engine", Reason: "ENTRY"},
		{Symbol: "ABCD", Action: domain.SideSell, Quantity: 100, Price: 10.26, Owner: "exit-engine", Reason: "PROFIT_TARGET", ProfitLossPct: 2.6},
	} {
		e.Timestamp = time.Date(2025, 6, 2, 14, 31+i, 0, 0, time.UTC)
		if err := s.LogTrade(ctx, e); err != nil {
			t.Fatalf("LogTrade: %v", err)
		}
	}

	archive := NewParquetArchive(t.TempDir())
	path, n, err := archive.ExportDay(ctx, s, "2025-06-02")
	if err != nil {
		t.Fatalf("ExportDay: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d records, want 2", n)
	}
	if filepath.Base(path) != "2025-06-02.parquet" {
		t.Errorf("unexpected archive path %s", path)
	}

	got, err := archive.ReadDay("2025-06-02")
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadDay returned %d entries, want 2", len(got))
	}
	if got[1].Reason != "PROFIT_TARGET" || got[1].ProfitLossPct != 2.6 {
		t.Errorf("archived entry mismatch: %+v", got[1])
	}
}

// A second export of the same day must merge by ID, not duplicate.
func TestParquetArchiveExportIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &domain.TradeLogEntry{
		Timestamp: time.Date(2025, 6, 2, 14, 31, 0, 0, time.UTC),
		Symbol:    "ABCD", Action: domain.SideBuy, Quantity: 100, Price: 10.0,
		Owner: "entry-engine", Reason: "ENTRY",
	}
	if err := s.LogTrade(ctx, e); err != nil {
		t.Fatalf("LogTrade: %v", err)
	}

	archive := NewParquetArchive(t.TempDir())
	if _, _, err := archive.ExportDay(ctx, s, "2025-06-02"); err != nil {
		t.Fatalf("first ExportDay: %v", err)
	}

	// New entry appended between exports.
	e2 := &domain.TradeLogEntry{
		Timestamp: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC),
		Symbol:    "ABCD", Action: domain.SideSell, Quantity: 100, Price: 9.91,
		Owner: "exit-engine", Reason: "STOP_LOSS",
	}
	if err := s.LogTrade(ctx, e2); err != nil {
		t.Fatalf("LogTrade: %v", err)
	}

	_, n, err := archive.ExportDay(ctx, s, "2025-06-02")
	if err != nil {
		t.Fatalf("second ExportDay: %v", err)
	}
	if n != 2 {
		t.Fatalf("merged archive has %d records, want 2", n)
	}
}

func TestParquetArchiveReadMissingDay(t *testing.T) {
	archive := NewParquetArchive(t.TempDir())
	got, err := archive.ReadDay("2025-01-01")
	if err != nil {
		t.Fatalf("ReadDay on missing file: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil entries, got %v", got)
	}
}
