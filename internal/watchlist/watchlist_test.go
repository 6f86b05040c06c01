package watchlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCandidatesFiltersAndSorts(t *testing.T) {
	path := writeList(t, `[
		{"ticker": "LOWC", "confidence_score": 0.72, "premarket_change": 1.0},
		{"ticker": "NEGM", "confidence_score": 0.95, "premarket_change": -2.1},
		{"ticker": "HIGH", "confidence_score": 0.91, "premarket_change": 4.5},
		{"ticker": "", "confidence_score": 0.99, "premarket_change": 1.0}
	]`)

	wl := NewFile(path, 0)
	got, err := wl.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (negative momentum and blank symbols dropped)", len(got))
	}
	if got[0].Symbol != "HIGH" || got[1].Symbol != "LOWC" {
		t.Errorf("order = %s, %s; want HIGH, LOWC", got[0].Symbol, got[1].Symbol)
	}
}

func TestCandidatesCachesWithinRefresh(t *testing.T) {
	path := writeList(t, `[{"ticker": "ABCD", "confidence_score": 0.8, "premarket_change": 2.0}]`)

	wl := NewFile(path, time.Hour)
	first, err := wl.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d candidates, want 1", len(first))
	}

	// Replace the file; within the refresh window the cache wins.
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := wl.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(second) != 1 {
		t.Errorf("cache should survive refresh window, got %d candidates", len(second))
	}
}

func TestCandidatesMissingFile(t *testing.T) {
	wl := NewFile(filepath.Join(t.TempDir(), "nope.json"), 0)
	if _, err := wl.Candidates(context.Background()); err == nil {
		t.Fatal("expected an error for a missing watchlist file")
	}
}
