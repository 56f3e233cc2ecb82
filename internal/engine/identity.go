package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/market"
)

// priceStats summarizes the cross-venue reference prices for one
// canonical symbol. Prices below the configured threshold count as
// zero; a zero next to a normal price makes the ratio infinite.
type priceStats struct {
	avg, min, max float64
	diff          float64 // (max-min)/avg
	ratio         float64 // max/min, +Inf on zero-alongside-normal
	zeroAndNormal bool
}

func computeStats(prices []float64, minThreshold float64) priceStats {
	var st priceStats
	if len(prices) == 0 {
		return st
	}
	var sum float64
	zeroish, normal := 0, 0
	st.min = math.MaxFloat64
	for _, p := range prices {
		if p < minThreshold {
			p = 0
			zeroish++
		} else {
			normal++
		}
		sum += p
		if p < st.min {
			st.min = p
		}
		if p > st.max {
			st.max = p
		}
	}
	st.avg = sum / float64(len(prices))
	st.zeroAndNormal = zeroish > 0 && normal > 0
	if st.avg > 0 {
		st.diff = (st.max - st.min) / st.avg
	}
	if st.zeroAndNormal || st.min == 0 {
		st.ratio = math.Inf(1)
	} else {
		st.ratio = st.max / st.min
	}
	return st
}

// band places a price relative to the group average. lo and hi are
// multipliers of avg.
func band(price, avg, lo, hi float64) string {
	switch {
	case avg <= 0:
		return "normal"
	case price < lo*avg:
		return "low"
	case price > hi*avg:
		return "high"
	default:
		return "normal"
	}
}

// venueBase strips the quote asset and separators from a venue symbol,
// leaving the base spelling the venue actually lists. Distinct bases
// under one canonical symbol are the primary hint of a ticker collision.
func venueBase(venueSymbol string) string {
	s := strings.ToUpper(venueSymbol)
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	s = strings.TrimSuffix(s, "USDT")
	return s
}

// pairBase combines the buy and sell side bases into one grouping key.
func pairBase(o market.Opportunity) string {
	b, s := venueBase(o.BuyVenueSymbol), venueBase(o.SellVenueSymbol)
	if b == s {
		return b
	}
	return b + "/" + s
}

// splitGroups applies the identity filter to one symbol's opportunities.
// prices are the per-exchange reference prices the symbol traded at this
// tick. Nothing is discarded: a symbol judged to hide several distinct
// assets is emitted as several groups under synthetic keys.
func splitGroups(symbol string, opps []market.Opportunity, prices []float64, cfg config.FilteringConfig) []market.OpportunityGroup {
	st := computeStats(prices, cfg.MinPriceThreshold)
	suspicious := st.diff > cfg.PriceDiffSuspicious || st.ratio > cfg.PriceRatioSuspicious

	switch {
	case st.ratio > 100 || st.zeroAndNormal:
		// definitively different tokens sharing a ticker
		return groupBy(symbol, opps, true, func(o market.Opportunity) string {
			key := o.BuyExchange + "-" + o.SellExchange
			bb := band(o.BuyPrice, st.avg, 0.5, 1.5)
			sb := band(o.SellPrice, st.avg, 0.5, 1.5)
			if bb == sb {
				return key + "#" + bb
			}
			return key + "#" + bb + "-" + sb
		})

	case (st.diff > cfg.PriceDiffThreshold || st.ratio > cfg.PriceRatioThreshold) && len(opps) >= 2:
		return groupBy(symbol, opps, true, func(o market.Opportunity) string {
			key := pairBase(o)
			bb := band(o.BuyPrice, st.avg, 0.7, 1.3)
			sb := band(o.SellPrice, st.avg, 0.7, 1.3)
			if bb != "normal" || sb != "normal" {
				key += "#" + bb + "-" + sb
			}
			return key
		})

	case suspicious && distinctBases(opps):
		return groupBy(symbol, opps, true, pairBase)

	default:
		return []market.OpportunityGroup{{
			Key:           symbol,
			Symbol:        symbol,
			Suspicious:    suspicious,
			Opportunities: opps,
		}}
	}
}

func distinctBases(opps []market.Opportunity) bool {
	seen := ""
	for _, o := range opps {
		for _, b := range []string{venueBase(o.BuyVenueSymbol), venueBase(o.SellVenueSymbol)} {
			if seen == "" {
				seen = b
			} else if b != seen {
				return true
			}
		}
	}
	return false
}

// groupBy partitions opportunities by the key function and emits one
// group per partition under a symbol#subkey synthetic key. Group order
// is deterministic; opportunity order within a group follows the input.
func groupBy(symbol string, opps []market.Opportunity, suspicious bool, keyFn func(market.Opportunity) string) []market.OpportunityGroup {
	parts := make(map[string][]market.Opportunity)
	for _, o := range opps {
		k := keyFn(o)
		parts[k] = append(parts[k], o)
	}
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]market.OpportunityGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, market.OpportunityGroup{
			Key:           fmt.Sprintf("%s#%s", symbol, k),
			Symbol:        symbol,
			Suspicious:    suspicious,
			Opportunities: parts[k],
		})
	}
	return out
}
