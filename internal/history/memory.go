package history

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries a MemStore keeps by default.
const DefaultCapacity = 1000

var _ Store = (*MemStore)(nil)

// MemStore keeps the most recent entries in a ring buffer. Statistics cover
// every entry ever recorded, not only the retained window.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	kinds   map[string]*kindAcc
	now     func() time.Time
}

type kindAcc struct {
	total, ok, hits int
	duration        time.Duration
}

// NewMemStore returns a MemStore retaining up to capacity entries. A
// non-positive capacity uses DefaultCapacity.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemStore{
		entries: make([]Entry, capacity),
		kinds:   make(map[string]*kindAcc),
		now:     time.Now,
	}
}

// Record implements [Store].
func (s *MemStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}

	acc, ok := s.kinds[e.Kind]
	if !ok {
		acc = &kindAcc{}
		s.kinds[e.Kind] = acc
	}
	acc.total++
	acc.duration += e.Duration
	if e.Success {
		acc.ok++
	}
	if e.CacheHit {
		acc.hits++
	}
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.entries)
	}
	limit := q.limit()
	out := make([]Entry, 0, min(limit, n))
	for i := range n {
		idx := (s.next - 1 - i + len(s.entries)) % len(s.entries)
		e := s.entries[idx]
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if q.SuccessOnly && !e.Success {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats implements [Store].
func (s *MemStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind := make([]KindStats, 0, len(s.kinds))
	for kind, acc := range s.kinds {
		byKind = append(byKind, KindStats{
			Kind:          kind,
			Total:         acc.total,
			Succeeded:     acc.ok,
			Failed:        acc.total - acc.ok,
			CacheHits:     acc.hits,
			AvgDurationMS: round1(float64(acc.duration.Milliseconds()) / float64(acc.total)),
		})
	}
	slices.SortFunc(byKind, func(a, b KindStats) int { return cmp.Compare(a.Kind, b.Kind) })
	return summarize(byKind), nil
}
