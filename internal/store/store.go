// Package store keeps the latest quote per (exchange, symbol) in
// memory. Writers apply batches; readers take consistent snapshots.
package store

import (
	"sync"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

// Key identifies one quote slot.
type Key struct {
	Exchange string
	Symbol   string
}

// Store is the shared quote table. Last write wins per slot, where
// "last" means the quote timestamp: a strictly older quote never
// replaces a newer one. Equal timestamps overwrite, so replays are
// idempotent.
type Store struct {
	mu        sync.RWMutex
	quotes    map[Key]market.Quote
	batchSize int

	staleDrops int64 // strictly-older quotes discarded
}

// New creates an empty store. batchSize bounds how many quotes one
// lock acquisition applies; larger batches are chunked so readers are
// never starved by a burst.
func New(batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Store{
		quotes:    make(map[Key]market.Quote),
		batchSize: batchSize,
	}
}

// Upsert applies a single quote under the last-write-wins rule and
// reports whether it was stored.
func (s *Store) Upsert(q market.Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(q)
}

// UpsertBatch applies quotes in chunks of at most batchSize per lock
// hold. Returns the number of quotes stored.
func (s *Store) UpsertBatch(quotes []market.Quote) int {
	stored := 0
	for len(quotes) > 0 {
		n := len(quotes)
		if n > s.batchSize {
			n = s.batchSize
		}
		s.mu.Lock()
		for _, q := range quotes[:n] {
			if s.apply(q) {
				stored++
			}
		}
		s.mu.Unlock()
		quotes = quotes[n:]
	}
	return stored
}

// apply is the single write path. Caller holds mu.
func (s *Store) apply(q market.Quote) bool {
	k := Key{Exchange: q.Exchange, Symbol: q.Symbol}
	if prev, ok := s.quotes[k]; ok && q.TimestampMs < prev.TimestampMs {
		s.staleDrops++
		return false
	}
	s.quotes[k] = q
	return true
}

// Snapshot returns a copy of every stored quote. The copy is consistent
// at one lock acquisition; callers may retain it freely.
func (s *Store) Snapshot() map[Key]market.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]market.Quote, len(s.quotes))
	for k, q := range s.quotes {
		out[k] = q
	}
	return out
}

// SymbolQuotes returns the fresh quotes for one canonical symbol across
// exchanges.
func (s *Store) SymbolQuotes(symbol string, nowMs, ttlMs int64) []market.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Quote
	for k, q := range s.quotes {
		if k.Symbol == symbol && !q.Stale(nowMs, ttlMs) {
			out = append(out, q)
		}
	}
	return out
}

// CountFresh returns the number of distinct fresh symbols per exchange.
func (s *Store) CountFresh(nowMs, ttlMs int64) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for k, q := range s.quotes {
		if !q.Stale(nowMs, ttlMs) {
			out[k.Exchange]++
		}
	}
	return out
}

// Len returns the total number of stored slots, fresh or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// StaleDrops returns how many strictly-older quotes were discarded.
func (s *Store) StaleDrops() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staleDrops
}
