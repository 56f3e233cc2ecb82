// Package status tracks per-exchange health: connectivity, last update
// time, fresh quote counts and error history.
package status

import (
	"sort"
	"sync"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

// Tracker holds the mutable health record for each registered exchange.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*market.ExchangeStatus
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]*market.ExchangeStatus)}
}

// Register creates the record for an exchange. Until its first
// successful poll the exchange reports as disconnected.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.statuses[name]; !ok {
		t.statuses[name] = &market.ExchangeStatus{Name: name}
	}
}

// RecordUpdate marks a successful poll: the exchange is connected and
// its last-update time advances.
func (t *Tracker) RecordUpdate(name string, tsMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.Connected = true
	if tsMs > st.LastUpdateMs {
		st.LastUpdateMs = tsMs
	}
	st.LastError = ""
}

// RecordError marks a failed poll. The exchange reports disconnected
// until the next successful one.
func (t *Tracker) RecordError(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.Connected = false
	st.ErrorCount++
	if err != nil {
		st.LastError = err.Error()
	}
}

// SetQuoteCounts refreshes the distinct fresh symbol count per
// exchange. Exchanges absent from counts read as zero.
func (t *Tracker) SetQuoteCounts(counts map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, st := range t.statuses {
		st.QuoteCount = counts[name]
	}
}

// get returns the record, creating it for unregistered names. Caller
// holds mu.
func (t *Tracker) get(name string) *market.ExchangeStatus {
	st, ok := t.statuses[name]
	if !ok {
		st = &market.ExchangeStatus{Name: name}
		t.statuses[name] = st
	}
	return st
}

// Snapshot returns copies of all records, sorted by exchange name.
func (t *Tracker) Snapshot() []market.ExchangeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]market.ExchangeStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectedCount returns how many exchanges are currently connected.
func (t *Tracker) ConnectedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, st := range t.statuses {
		if st.Connected {
			n++
		}
	}
	return n
}
