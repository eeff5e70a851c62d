// Package market holds the latest top-of-book snapshot per venue and pair.
// Writers are the market-data feeds; readers get copies, never live state.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Store is a concurrency-safe map of snapshots keyed by (venue, pair). An
// update replaces the stored snapshot only when its sequence is strictly
// greater than the stored one.
type Store struct {
	mu         sync.RWMutex
	snaps      map[domain.SnapshotKey]domain.MarketSnapshot
	generation uint64
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		snaps: make(map[domain.SnapshotKey]domain.MarketSnapshot),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Update applies snap if it is newer than what is stored and reports whether
// it did. A first snapshot for a key is always applied.
func (s *Store) Update(snap domain.MarketSnapshot) bool {
	key := domain.SnapshotKey{Venue: snap.Venue, Pair: snap.Pair}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.snaps[key]; ok && snap.Sequence <= cur.Sequence {
		return false
	}
	s.snaps[key] = snap
	s.generation++
	return true
}

// Push is the feed entry point. It returns *domain.StaleDataError when the
// snapshot was discarded.
func (s *Store) Push(venue string, pair domain.Pair, bid, ask, bidSize, askSize decimal.Decimal, seq uint64, ts time.Time) error {
	snap := domain.MarketSnapshot{
		Venue:     venue,
		Pair:      pair,
		BidPrice:  bid,
		BidSize:   bidSize,
		AskPrice:  ask,
		AskSize:   askSize,
		Sequence:  seq,
		Timestamp: ts,
	}
	if s.Update(snap) {
		return nil
	}
	cur, _ := s.Get(venue, pair)
	return &domain.StaleDataError{Venue: venue, Pair: pair, Sequence: seq, Current: cur.Sequence}
}

// Get returns the snapshot for venue and pair.
func (s *Store) Get(venue string, pair domain.Pair) (domain.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[domain.SnapshotKey{Venue: venue, Pair: pair}]
	return snap, ok
}

// ReadAll returns a consistent copy of every snapshot, ordered by pair then
// venue.
func (s *Store) ReadAll() domain.SnapshotSet {
	s.mu.RLock()
	set := domain.SnapshotSet{
		Generation: s.generation,
		ReadAt:     s.now(),
		Snapshots:  make([]domain.MarketSnapshot, 0, len(s.snaps)),
	}
	for _, snap := range s.snaps {
		set.Snapshots = append(set.Snapshots, snap)
	}
	s.mu.RUnlock()

	sort.Slice(set.Snapshots, func(i, j int) bool {
		a, b := set.Snapshots[i], set.Snapshots[j]
		if a.Pair != b.Pair {
			return a.Pair.String() < b.Pair.String()
		}
		return a.Venue < b.Venue
	})
	return set
}

// Generation returns the number of updates applied so far.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
