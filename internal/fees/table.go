// Package fees resolves the taker/maker schedule per exchange. Venue
// APIs that publish per-symbol commissions override the configured
// documentation defaults; everything else falls back to them.
package fees

import (
	"strings"
	"sync"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

// Table is the process-wide fee registry. Discovery populates the
// per-symbol overrides at startup and on refresh; the engine reads it
// on every pairing.
type Table struct {
	mu        sync.RWMutex
	defaults  map[string]market.FeeSchedule            // exchange -> configured fallback
	overrides map[string]map[string]market.FeeSchedule // exchange -> venueSymbol -> fetched
}

// NewTable seeds the table with the configured per-exchange defaults.
func NewTable(defaults map[string]market.FeeSchedule) *Table {
	if defaults == nil {
		defaults = map[string]market.FeeSchedule{}
	}
	return &Table{
		defaults:  defaults,
		overrides: make(map[string]map[string]market.FeeSchedule),
	}
}

// SetVenueFees replaces the fetched per-symbol schedules for one
// exchange. A nil or empty map clears them back to the defaults.
func (t *Table) SetVenueFees(exchange string, fetched map[string]market.FeeSchedule) {
	exchange = strings.ToLower(exchange)
	normalized := make(map[string]market.FeeSchedule, len(fetched))
	for sym, fee := range fetched {
		normalized[strings.ToUpper(sym)] = fee
	}
	t.mu.Lock()
	t.overrides[exchange] = normalized
	t.mu.Unlock()
}

// Lookup returns the schedule for one venue symbol on one exchange:
// the fetched value when the venue published one, the configured
// default otherwise.
func (t *Table) Lookup(exchange, venueSymbol string) market.FeeSchedule {
	exchange = strings.ToLower(exchange)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fee, ok := t.overrides[exchange][strings.ToUpper(venueSymbol)]; ok {
		return fee
	}
	return t.defaults[exchange]
}

// Overrides returns the count of fetched per-symbol schedules for an
// exchange.
func (t *Table) Overrides(exchange string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.overrides[strings.ToLower(exchange)])
}
