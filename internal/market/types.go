// Package market holds the shared data model: quotes, fee schedules,
// exchange health records and arbitrage opportunities.
package market

// Quote is the latest best bid/ask observed for one pair on one venue.
// A zero bid, ask or last means "absent" and must never be used as a
// price. Quotes are immutable once constructed.
type Quote struct {
	Exchange    string  `json:"exchange"`
	VenueSymbol string  `json:"venue_symbol"`
	Symbol      string  `json:"symbol"` // canonical BASEUSDT form
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Last        float64 `json:"last"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Stale reports whether the quote is older than ttlMs at nowMs.
func (q Quote) Stale(nowMs, ttlMs int64) bool {
	return nowMs-q.TimestampMs > ttlMs
}

// BuyPrice returns the price to buy at on this venue: the ask, falling
// back to last and then bid. Zero means no usable price.
func (q Quote) BuyPrice() float64 {
	switch {
	case q.Ask > 0:
		return q.Ask
	case q.Last > 0:
		return q.Last
	default:
		return q.Bid
	}
}

// SellPrice returns the price to sell at on this venue: the bid,
// falling back to last and then ask. Zero means no usable price.
func (q Quote) SellPrice() float64 {
	switch {
	case q.Bid > 0:
		return q.Bid
	case q.Last > 0:
		return q.Last
	default:
		return q.Ask
	}
}

// RefPrice is the representative price used for cross-venue identity
// comparison: the bid/ask mid when both sides exist, otherwise last,
// otherwise whichever side is present.
func (q Quote) RefPrice() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Ask
}

// FeeSchedule holds per-exchange trading fees as fractions
// (0.001 = 0.1%). The engine prices opportunities with the taker side.
type FeeSchedule struct {
	TakerPct float64 `json:"taker_pct" yaml:"taker_pct"`
	MakerPct float64 `json:"maker_pct" yaml:"maker_pct"`
}

// Market describes one tradable USDT spot pair on a venue.
type Market struct {
	VenueSymbol string
	BaseAsset   string
	QuoteAsset  string
}

// ExchangeStatus is the mutable per-venue health record.
type ExchangeStatus struct {
	Name         string `json:"name"`
	Connected    bool   `json:"connected"`
	LastUpdateMs int64  `json:"last_update_ms"`
	QuoteCount   int    `json:"quote_count"` // distinct fresh canonical symbols
	ErrorCount   int64  `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Opportunity is one buy-low/sell-high pairing across two venues for a
// canonical symbol, computed on a fixed notional and net of taker fees.
// Fee percentages are expressed in percent (0.1 = 0.1%).
type Opportunity struct {
	Symbol          string  `json:"canonical_symbol"`
	BuyExchange     string  `json:"buy_exchange"`
	BuyVenueSymbol  string  `json:"buy_venue_symbol"`
	BuyPrice        float64 `json:"buy_price"`
	BuyFeePct       float64 `json:"buy_fee_pct"`
	SellExchange    string  `json:"sell_exchange"`
	SellVenueSymbol string  `json:"sell_venue_symbol"`
	SellPrice       float64 `json:"sell_price"`
	SellFeePct      float64 `json:"sell_fee_pct"`
	GrossProfitUSDT float64 `json:"gross_profit_usdt"`
	TotalFeesUSDT   float64 `json:"total_fees_usdt"`
	SpreadUSDT      float64 `json:"spread_usdt"` // net of fees and slippage
	SpreadPct       float64 `json:"spread_pct"`
	TimestampMs     int64   `json:"timestamp_ms"`
	IsStable        bool    `json:"is_stable"`
}

// OpportunityGroup is a display grouping of opportunities that share a
// group key. When the identity filter decides a canonical symbol hides
// several distinct assets, it emits one group per synthetic key instead
// of discarding anything.
type OpportunityGroup struct {
	Key           string        `json:"key"`
	Symbol        string        `json:"canonical_symbol"`
	Suspicious    bool          `json:"suspicious"`
	Opportunities []Opportunity `json:"opportunities"`
}

// Snapshot is one immutable engine tick result. The flat Opportunities
// slice keeps the ranking order; Groups carry the identity-filter view
// of the same opportunities.
type Snapshot struct {
	Opportunities []Opportunity      `json:"opportunities"`
	Groups        []OpportunityGroup `json:"groups"`
	TimestampMs   int64              `json:"timestamp_ms"`
}
