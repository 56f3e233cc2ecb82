// Package symbols maintains bidirectional mappings between canonical
// symbols (uppercase BASEUSDT, no separator) and venue-native spellings
// (BASE-USDT, BASE_USDT, BASE/USDT or bare).
package symbols

import (
	"sort"
	"strings"
	"sync"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

// Mapper is the process-wide symbol registry. Discovery populates it at
// startup and on each refresh; adapters and the engine read it
// concurrently.
type Mapper struct {
	mu sync.RWMutex

	// overrides[exchange][venueSymbol] -> canonical, for pairs whose
	// rule-derived canonical collides with a different asset elsewhere
	// (e.g. bitget ZKSYNCUSDT is the same coin as ZKUSDT on other venues).
	overrides map[string]map[string]string

	forward map[string]map[string]string // exchange -> venueSymbol -> canonical
	reverse map[string]map[string]string // exchange -> canonical -> venueSymbol
}

// DefaultOverrides carries the venue spellings known to canonicalize
// wrongly under the plain BASE+QUOTE rule.
func DefaultOverrides() map[string]map[string]string {
	return map[string]map[string]string{
		"bitget": {"ZKSYNCUSDT": "ZKUSDT"},
	}
}

// NewMapper creates an empty mapper with the given overrides table.
// A nil table means no overrides.
func NewMapper(overrides map[string]map[string]string) *Mapper {
	if overrides == nil {
		overrides = map[string]map[string]string{}
	}
	return &Mapper{
		overrides: overrides,
		forward:   make(map[string]map[string]string),
		reverse:   make(map[string]map[string]string),
	}
}

// CanonicalFromParts builds the canonical form from a base/quote pair.
func CanonicalFromParts(base, quote string) string {
	return strings.ToUpper(base) + strings.ToUpper(quote)
}

// Register records the discovered markets for one exchange, replacing
// any previous registration for that exchange. Non-USDT pairs are
// rejected at this boundary. Returns the number of pairs registered.
func (m *Mapper) Register(exchange string, markets []market.Market) int {
	exchange = strings.ToLower(exchange)
	fwd := make(map[string]string, len(markets))
	rev := make(map[string]string, len(markets))
	for _, mk := range markets {
		if strings.ToUpper(mk.QuoteAsset) != "USDT" {
			continue
		}
		venue := strings.ToUpper(mk.VenueSymbol)
		if venue == "" || mk.BaseAsset == "" {
			continue
		}
		canonical := CanonicalFromParts(mk.BaseAsset, mk.QuoteAsset)
		if ov, ok := m.overrides[exchange][venue]; ok {
			canonical = ov
		}
		fwd[venue] = canonical
		rev[canonical] = venue
	}
	m.mu.Lock()
	m.forward[exchange] = fwd
	m.reverse[exchange] = rev
	m.mu.Unlock()
	return len(fwd)
}

// Canonical maps an exchange-native symbol to its canonical form.
func (m *Mapper) Canonical(exchange, venueSymbol string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.forward[strings.ToLower(exchange)][strings.ToUpper(venueSymbol)]
	return c, ok
}

// Venue maps a canonical symbol back to the exchange-native spelling.
func (m *Mapper) Venue(exchange, canonical string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.reverse[strings.ToLower(exchange)][strings.ToUpper(canonical)]
	return v, ok
}

// Intersection returns the canonical symbols tradable on at least two
// registered exchanges, sorted. This is the target universe handed to
// the adapters.
func (m *Mapper) Intersection() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, rev := range m.reverse {
		for canonical := range rev {
			counts[canonical]++
		}
	}
	out := make([]string, 0, len(counts))
	for canonical, n := range counts {
		if n >= 2 {
			out = append(out, canonical)
		}
	}
	sort.Strings(out)
	return out
}

// WatchSet returns venueSymbol -> canonical for the exchange, limited
// to symbols in the cross-exchange intersection. Adapters consult it on
// every poll, so a discovery refresh takes effect without restarting
// the stream.
func (m *Mapper) WatchSet(exchange string) map[string]string {
	intersection := make(map[string]bool)
	for _, s := range m.Intersection() {
		intersection[s] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for venue, canonical := range m.forward[strings.ToLower(exchange)] {
		if intersection[canonical] {
			out[venue] = canonical
		}
	}
	return out
}

// Exchanges returns the names of exchanges with registered markets.
func (m *Mapper) Exchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.forward))
	for name := range m.forward {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
