package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/market"
)

func filterCfg() config.FilteringConfig {
	return config.Default().Filtering
}

func TestComputeStats(t *testing.T) {
	st := computeStats([]float64{100, 110}, 1e-6)
	assert.InDelta(t, 105, st.avg, 1e-9)
	assert.InDelta(t, 0.0952, st.diff, 1e-3)
	assert.InDelta(t, 1.1, st.ratio, 1e-9)
	assert.False(t, st.zeroAndNormal)

	st = computeStats([]float64{0.0000001, 100}, 1e-6)
	assert.True(t, st.zeroAndNormal, "sub-threshold price counts as zero")
	assert.True(t, math.IsInf(st.ratio, 1))
}

func TestBand(t *testing.T) {
	avg := 100.0
	assert.Equal(t, "low", band(10, avg, 0.5, 1.5))
	assert.Equal(t, "normal", band(100, avg, 0.5, 1.5))
	assert.Equal(t, "high", band(200, avg, 0.5, 1.5))
}

func TestVenueBase(t *testing.T) {
	assert.Equal(t, "GAME", venueBase("GAME-USDT"))
	assert.Equal(t, "GAME", venueBase("GAMEUSDT"))
	assert.Equal(t, "ZKSYNC", venueBase("ZKSYNC_USDT"))
}

func opp(buyEx, sellEx string, buyPrice, sellPrice float64) market.Opportunity {
	return market.Opportunity{
		Symbol:          "GAMEUSDT",
		BuyExchange:     buyEx,
		BuyVenueSymbol:  "GAMEUSDT",
		BuyPrice:        buyPrice,
		SellExchange:    sellEx,
		SellVenueSymbol: "GAMEUSDT",
		SellPrice:       sellPrice,
		SpreadUSDT:      1,
	}
}

// Prices {0.01, 0.01, 250} make ratio 25000: definitively different
// tokens under one ticker. The filter must split by exchange pair and
// price band instead of discarding anything.
func TestDefinitiveSplitByPriceBand(t *testing.T) {
	opps := []market.Opportunity{
		opp("a", "c", 0.01, 250), // low -> high
		opp("b", "c", 0.01, 250),
		opp("a", "b", 0.01, 0.01), // low -> low
	}
	groups := splitGroups("GAMEUSDT", opps, []float64{0.01, 0.01, 250}, filterCfg())

	require.GreaterOrEqual(t, len(groups), 2)
	total := 0
	crossBand := false
	for _, g := range groups {
		assert.True(t, g.Suspicious)
		assert.Contains(t, g.Key, "GAMEUSDT#")
		total += len(g.Opportunities)
		if len(g.Opportunities) > 0 && g.Opportunities[0].BuyPrice < 1 && g.Opportunities[0].SellPrice > 1 {
			crossBand = true
			assert.Contains(t, g.Key, "low")
			assert.Contains(t, g.Key, "high")
		}
	}
	assert.Equal(t, len(opps), total, "no opportunity discarded")
	assert.True(t, crossBand, "cross-band pair isolated in its own group")
}

func TestCleanGroupStaysWhole(t *testing.T) {
	opps := []market.Opportunity{opp("a", "b", 100, 100.5)}
	groups := splitGroups("GAMEUSDT", opps, []float64{100, 100.5}, filterCfg())

	require.Len(t, groups, 1)
	assert.Equal(t, "GAMEUSDT", groups[0].Key)
	assert.False(t, groups[0].Suspicious)
	assert.Len(t, groups[0].Opportunities, 1)
}

func TestSuspiciousSplitByVenueBase(t *testing.T) {
	a := opp("a", "b", 100, 160)
	a.BuyVenueSymbol = "ZK-USDT"
	a.SellVenueSymbol = "ZK-USDT"
	b := opp("b", "a", 100, 160)
	b.BuyVenueSymbol = "ZKSYNCUSDT"
	b.SellVenueSymbol = "ZKSYNCUSDT"

	// ratio 1.6: suspicious but not definitive; distinct bases split
	groups := splitGroups("ZKUSDT", []market.Opportunity{a, b}, []float64{100, 160}, filterCfg())
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.True(t, g.Suspicious)
		assert.Len(t, g.Opportunities, 1)
	}
}

func TestGroupKeysDeterministic(t *testing.T) {
	opps := []market.Opportunity{
		opp("a", "c", 0.01, 250),
		opp("a", "b", 0.01, 0.01),
	}
	first := splitGroups("GAMEUSDT", opps, []float64{0.01, 0.01, 250}, filterCfg())
	second := splitGroups("GAMEUSDT", opps, []float64{0.01, 0.01, 250}, filterCfg())
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Key, second[i].Key)
	}
}
