package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/fees"
	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/stability"
	"github.com/spreadwatch/spreadwatch/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Evaluation.SlippageBps = 0
	return cfg
}

func newEngine(cfg *config.Config, sink Sink) (*Engine, *store.Store) {
	st := store.New(cfg.Store.BatchSize)
	stab := stability.NewTracker(cfg.StabilityWindow())
	return New(st, stab, nil, cfg, sink), st
}

func storeQuote(st *store.Store, ex, sym string, bid, ask float64, ts int64) {
	st.Upsert(market.Quote{
		Exchange: ex, VenueSymbol: sym, Symbol: sym,
		Bid: bid, Ask: ask, TimestampMs: ts,
	})
}

// Cross-venue pairing on a spread wide enough to clear fees: every
// field must follow from notional, prices and the taker schedule.
func TestTickComputesOpportunityMath(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	// bybit and bitget both run 0.001 taker
	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	snap := eng.Tick(now)
	require.Len(t, snap.Opportunities, 1)
	o := snap.Opportunities[0]

	assert.Equal(t, "bybit", o.BuyExchange)
	assert.Equal(t, "bitget", o.SellExchange)
	assert.Equal(t, 60010.0, o.BuyPrice)
	assert.Equal(t, 60200.0, o.SellPrice)

	qty := 100.0 / 60010.0
	gross := qty * (60200.0 - 60010.0)
	roundTrip := qty*60010.0*0.001 + qty*60200.0*0.001
	assert.InDelta(t, gross, o.GrossProfitUSDT, 1e-9)
	assert.InDelta(t, roundTrip, o.TotalFeesUSDT, 1e-9)
	assert.InDelta(t, gross-roundTrip, o.SpreadUSDT, 1e-9)
	assert.InDelta(t, (60200.0-60010.0)/60010.0*100, o.SpreadPct, 1e-9)
	assert.Equal(t, 0.1, o.BuyFeePct)
	assert.Equal(t, 0.1, o.SellFeePct)
	assert.False(t, o.IsStable, "first observation cannot be stable")
}

// A spread narrower than the round-trip fees nets out negative and is
// never emitted.
func TestFeesSwallowNarrowSpread(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60050, 60055, now)

	snap := eng.Tick(now)
	assert.Empty(t, snap.Opportunities)
}

func TestStaleQuoteExcluded(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now-20000) // past 15s ttl
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	snap := eng.Tick(now)
	assert.Empty(t, snap.Opportunities)
}

func TestMinSpreadPctGate(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.MinSpreadPct = 1.0
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	// 0.32% spread: profitable but below the gate
	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	snap := eng.Tick(now)
	assert.Empty(t, snap.Opportunities)
}

func TestSlippageReducesNet(t *testing.T) {
	base := testConfig()
	engNoSlip, st1 := newEngine(base, nil)

	withSlip := testConfig()
	withSlip.Evaluation.SlippageBps = 3
	engSlip, st2 := newEngine(withSlip, nil)

	now := time.Now().UnixMilli()
	for _, st := range []*store.Store{st1, st2} {
		storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
		storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)
	}

	a := engNoSlip.Tick(now)
	b := engSlip.Tick(now)
	require.Len(t, a.Opportunities, 1)
	require.Len(t, b.Opportunities, 1)
	assert.Less(t, b.Opportunities[0].SpreadUSDT, a.Opportunities[0].SpreadUSDT)
}

func TestSnapshotSortedBySpreadDesc(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	storeQuote(st, "bybit", "AUSDT", 100, 100.1, now)
	storeQuote(st, "bitget", "AUSDT", 103, 103.1, now)
	storeQuote(st, "bybit", "BUSDT", 100, 100.1, now)
	storeQuote(st, "bitget", "BUSDT", 110, 110.1, now)
	storeQuote(st, "bybit", "CUSDT", 100, 100.1, now)
	storeQuote(st, "bitget", "CUSDT", 101, 101.1, now)

	snap := eng.Tick(now)
	require.NotEmpty(t, snap.Opportunities)
	for i := 1; i < len(snap.Opportunities); i++ {
		assert.GreaterOrEqual(t,
			snap.Opportunities[i-1].SpreadUSDT,
			snap.Opportunities[i].SpreadUSDT,
			"flat list non-increasing by net spread")
	}
	assert.Equal(t, "BUSDT", snap.Opportunities[0].Symbol)
}

func TestEmittedOpportunityInvariants(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	storeQuote(st, "bybit", "AUSDT", 100, 100.1, now)
	storeQuote(st, "bitget", "AUSDT", 103, 103.1, now)
	storeQuote(st, "okx", "AUSDT", 102, 102.1, now)

	snap := eng.Tick(now)
	require.NotEmpty(t, snap.Opportunities)
	for _, o := range snap.Opportunities {
		assert.Greater(t, o.BuyPrice, 0.0)
		assert.Greater(t, o.SellPrice, 0.0)
		assert.Greater(t, o.SpreadUSDT, 0.0)
		assert.NotEqual(t, o.BuyExchange, o.SellExchange)
	}
}

func TestIdentitySplitEndToEnd(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	// one ticker, two different assets: two venues around 0.01, one at 250
	storeQuote(st, "bybit", "GAMEUSDT", 0.0099, 0.01, now)
	storeQuote(st, "mexc", "GAMEUSDT", 0.0099, 0.01, now)
	storeQuote(st, "bitget", "GAMEUSDT", 250.0, 250.2, now)

	snap := eng.Tick(now)
	require.NotEmpty(t, snap.Opportunities, "suspicious pairings still emitted")
	require.GreaterOrEqual(t, len(snap.Groups), 2, "split into synthetic groups")

	grouped := 0
	for _, g := range snap.Groups {
		assert.True(t, g.Suspicious)
		assert.Equal(t, "GAMEUSDT", g.Symbol)
		grouped += len(g.Opportunities)
	}
	assert.Equal(t, len(snap.Opportunities), grouped)
}

func TestZeroPricesNeverUsed(t *testing.T) {
	cfg := testConfig()
	eng, st := newEngine(cfg, nil)
	now := time.Now().UnixMilli()

	st.Upsert(market.Quote{Exchange: "bybit", Symbol: "XUSDT", TimestampMs: now}) // all prices absent
	storeQuote(st, "bitget", "XUSDT", 100, 100.1, now)

	snap := eng.Tick(now)
	assert.Empty(t, snap.Opportunities)
}

func TestSinkReceivesPublishedSnapshot(t *testing.T) {
	cfg := testConfig()
	var got market.Snapshot
	eng, st := newEngine(cfg, func(s market.Snapshot) { got = s })
	now := time.Now().UnixMilli()

	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	eng.Tick(now)
	assert.Equal(t, eng.Latest(), got)
	assert.Equal(t, now, got.TimestampMs)
}

// Stability flips on only after the full window of positive samples and
// off immediately on a losing one.
func TestStabilityAcrossTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Stability.WindowMinutes = 1
	eng, st := newEngine(cfg, nil)

	start := time.Now().UnixMilli()
	var snap market.Snapshot
	for i := int64(0); i <= 60; i++ {
		now := start + i*1000
		storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
		storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)
		snap = eng.Tick(now)
		require.Len(t, snap.Opportunities, 1)
		if i < 60 {
			assert.False(t, snap.Opportunities[0].IsStable, "tick %d", i)
		}
	}
	assert.True(t, snap.Opportunities[0].IsStable)

	// losing tick: pairing observed negative, stability gone
	now := start + 61*1000
	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60011, 60012, now)
	eng.Tick(now)

	now = start + 62*1000
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)
	snap = eng.Tick(now)
	require.Len(t, snap.Opportunities, 1)
	assert.False(t, snap.Opportunities[0].IsStable)
}

func TestFilteringConfigRuntimeSwap(t *testing.T) {
	cfg := testConfig()
	eng, _ := newEngine(cfg, nil)

	f := eng.Filtering()
	f.PriceRatioSuspicious = 9.9
	eng.SetFiltering(f)
	assert.Equal(t, 9.9, eng.Filtering().PriceRatioSuspicious)
}

// A venue-published per-symbol fee must override the configured
// schedule in the profit math; the other leg stays on its default.
func TestVenueFeeOverrideChangesMath(t *testing.T) {
	cfg := testConfig()
	table := fees.NewTable(cfg.Fees())
	table.SetVenueFees("bitget", map[string]market.FeeSchedule{
		"BTCUSDT": {TakerPct: 0.0005, MakerPct: 0.0005},
	})

	st := store.New(cfg.Store.BatchSize)
	stab := stability.NewTracker(cfg.StabilityWindow())
	eng := New(st, stab, table, cfg, nil)

	now := time.Now().UnixMilli()
	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	snap := eng.Tick(now)
	require.Len(t, snap.Opportunities, 1)
	o := snap.Opportunities[0]
	assert.Equal(t, 0.1, o.BuyFeePct, "bybit stays on the configured taker")
	assert.Equal(t, 0.05, o.SellFeePct, "bitget uses the fetched per-symbol taker")

	qty := 100.0 / 60010.0
	wantFees := qty*60010.0*0.001 + qty*60200.0*0.0005
	assert.InDelta(t, wantFees, o.TotalFeesUSDT, 1e-9)
}

// A panic while evaluating one symbol is contained: the tick finishes,
// the failure counter and hook both fire, and no partial result leaks.
func TestTickSurvivesEvaluationPanic(t *testing.T) {
	cfg := testConfig()
	st := store.New(cfg.Store.BatchSize)
	// nil stability tracker makes the pairing loop panic
	eng := New(st, nil, nil, cfg, nil)
	hooked := 0
	eng.SetEvalErrorHook(func() { hooked++ })

	now := time.Now().UnixMilli()
	storeQuote(st, "bybit", "BTCUSDT", 60000, 60010, now)
	storeQuote(st, "bitget", "BTCUSDT", 60200, 60210, now)

	var snap market.Snapshot
	assert.NotPanics(t, func() { snap = eng.Tick(now) })
	assert.Empty(t, snap.Opportunities)
	assert.Equal(t, int64(1), eng.EvalErrors())
	assert.Equal(t, 1, hooked)
}
