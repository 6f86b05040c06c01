// Package watchlist loads the session candidate list produced by the
// external screening pipeline. The file is read-only input: this system
// never writes or ranks candidates.
package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"daytrader/internal/domain"
)

// File reads candidates from a JSON array on disk, re-reading at most once
// per Refresh interval so the screening pipeline can replace the file
// mid-session.
type File struct {
	Path    string
	Refresh time.Duration

	mu       sync.Mutex
	cached   []domain.Candidate
	loadedAt time.Time
}

// NewFile creates a watchlist over the given path.
func NewFile(path string, refresh time.Duration) *File {
	return &File{Path: path, Refresh: refresh}
}

// Candidates returns the current watchlist sorted by descending confidence.
// Candidates with negative premarket momentum are filtered out.
func (f *File) Candidates(_ context.Context) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil && f.Refresh > 0 && time.Since(f.loadedAt) < f.Refresh {
		return f.cached, nil
	}

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading watchlist %s: %w", f.Path, err)
	}

	var all []domain.Candidate
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("parsing watchlist %s: %w", f.Path, err)
	}

	candidates := make([]domain.Candidate, 0, len(all))
	for _, c := range all {
		if c.Symbol == "" {
			continue
		}
		if c.PremarketChange < 0 {
			continue
		}
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	f.cached = candidates
	f.loadedAt = time.Now()
	return candidates, nil
}
