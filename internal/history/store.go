// Package history records finished generations and aggregates statistics
// over them.
//
// Two [Store] implementations exist: [MemStore] keeps a bounded window of
// recent entries in process, [PostgresStore] persists every entry through
// pgx.
package history

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one finished generation, successful or not.
type Entry struct {
	// AssetID is the id of the generated asset; empty for failures.
	AssetID    string          `json:"assetId,omitempty"`
	Kind       string          `json:"type"`
	Title      string          `json:"title,omitempty"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"-"`
	TokensUsed int             `json:"tokensUsed"`
	CacheHit   bool            `json:"cacheHit"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// MarshalJSON adds the duration in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"durationMs"`
	}{plain(e), e.Duration.Milliseconds()})
}

// Query selects recent entries.
type Query struct {
	// Limit caps the number of entries. Zero means DefaultLimit; values
	// above MaxLimit are clamped.
	Limit int

	// Kind, if set, only returns entries of that content type.
	Kind string

	// SuccessOnly drops failed generations.
	SuccessOnly bool
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	}
	return q.Limit
}

// KindStats aggregates the generations of one content type.
type KindStats struct {
	Kind          string  `json:"type"`
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	CacheHits     int     `json:"cacheHits"`
	AvgDurationMS float64 `json:"averageDurationMs"`
}

// Stats aggregates every recorded generation.
type Stats struct {
	Total         int         `json:"total"`
	Succeeded     int         `json:"succeeded"`
	Failed        int         `json:"failed"`
	CacheHits     int         `json:"cacheHits"`
	SuccessRate   float64     `json:"successRate"`
	CacheHitRate  float64     `json:"cacheHitRate"`
	AvgDurationMS float64     `json:"averageDurationMs"`
	ByKind        []KindStats `json:"byType"`
}

// Store persists generation entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends e. A zero CreatedAt is set to the current time.
	Record(ctx context.Context, e Entry) error

	// Recent returns matching entries, newest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)

	// Stats aggregates all entries.
	Stats(ctx context.Context) (Stats, error)
}

// summarize derives the totals of a Stats from its per-kind rows, which
// must be sorted by kind.
func summarize(byKind []KindStats) Stats {
	s := Stats{ByKind: byKind}
	if s.ByKind == nil {
		s.ByKind = []KindStats{}
	}
	var weighted float64
	for _, k := range byKind {
		s.Total += k.Total
		s.Succeeded += k.Succeeded
		s.Failed += k.Failed
		s.CacheHits += k.CacheHits
		weighted += k.AvgDurationMS * float64(k.Total)
	}
	if s.Total > 0 {
		s.SuccessRate = percent(s.Succeeded, s.Total)
		s.CacheHitRate = percent(s.CacheHits, s.Total)
		s.AvgDurationMS = round1(weighted / float64(s.Total))
	}
	return s
}

func percent(n, total int) float64 {
	return round1(float64(n) / float64(total) * 100)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
