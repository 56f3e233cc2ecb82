// Package engine runs the arbitrage evaluation tick: it reads the quote
// store, prices every cross-venue pairing, applies the identity filter
// and stability tracking, and publishes ranked snapshots.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/fees"
	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/stability"
	"github.com/spreadwatch/spreadwatch/internal/store"
)

// Sink receives each freshly published snapshot. The engine calls it
// outside its own lock; implementations must not block for long.
type Sink func(market.Snapshot)

// Engine is the evaluation loop. All mutable state behind its lock is
// the latest snapshot pointer; each tick computes on local data.
type Engine struct {
	store *store.Store
	stab  *stability.Tracker
	fees  *fees.Table
	eval  config.EvaluationConfig
	ttlMs int64
	sink  Sink

	filterMu  sync.RWMutex
	filtering config.FilteringConfig

	mu     sync.RWMutex
	latest market.Snapshot

	evalErrors  atomic.Int64
	onTick      func(d time.Duration, opportunities int)
	onEvalError func()
}

// New wires the engine. sink may be nil; a nil fee table falls back to
// the configured per-exchange schedules.
func New(st *store.Store, stab *stability.Tracker, table *fees.Table, cfg *config.Config, sink Sink) *Engine {
	if table == nil {
		table = fees.NewTable(cfg.Fees())
	}
	return &Engine{
		store:     st,
		stab:      stab,
		fees:      table,
		eval:      cfg.Evaluation,
		ttlMs:     int64(cfg.Store.QuoteTTLMs),
		filtering: cfg.Filtering,
		sink:      sink,
	}
}

// SetTickObserver installs a per-tick metrics hook. Must be called
// before Run.
func (e *Engine) SetTickObserver(fn func(d time.Duration, opportunities int)) {
	e.onTick = fn
}

// SetEvalErrorHook installs a hook fired for every contained
// per-symbol evaluation failure. Must be called before Run.
func (e *Engine) SetEvalErrorHook(fn func()) {
	e.onEvalError = fn
}

// Filtering returns the current identity-filter thresholds.
func (e *Engine) Filtering() config.FilteringConfig {
	e.filterMu.RLock()
	defer e.filterMu.RUnlock()
	return e.filtering
}

// SetFiltering replaces the identity-filter thresholds at runtime.
func (e *Engine) SetFiltering(f config.FilteringConfig) {
	e.filterMu.Lock()
	e.filtering = f
	e.filterMu.Unlock()
}

// Latest returns the most recently published snapshot.
func (e *Engine) Latest() market.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// EvalErrors returns the count of per-symbol evaluations that panicked.
func (e *Engine) EvalErrors() int64 { return e.evalErrors.Load() }

// Run ticks on the configured interval until ctx is cancelled. A tick
// that overruns the interval makes the next one fire immediately; ticks
// never queue beyond one.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.eval.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			e.stab.Sweep(time.Now().UnixMilli())
		case <-ticker.C:
			start := time.Now()
			snap := e.Tick(start.UnixMilli())
			if e.onTick != nil {
				e.onTick(time.Since(start), len(snap.Opportunities))
			}
		}
	}
}

// Tick runs one evaluation pass at nowMs and publishes the result.
func (e *Engine) Tick(nowMs int64) market.Snapshot {
	quotes := e.store.Snapshot()

	// invert to canonical symbol -> fresh quotes
	bySymbol := make(map[string][]market.Quote)
	for _, q := range quotes {
		if q.Stale(nowMs, e.ttlMs) {
			continue
		}
		bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
	}

	filtering := e.Filtering()
	var opportunities []market.Opportunity
	var groups []market.OpportunityGroup
	for symbol, qs := range bySymbol {
		if len(qs) < 2 {
			continue
		}
		symOpps, prices := e.evaluateSymbol(symbol, qs, nowMs)
		if len(symOpps) == 0 {
			continue
		}
		opportunities = append(opportunities, symOpps...)
		groups = append(groups, splitGroups(symbol, symOpps, prices, filtering)...)
	}

	sort.Slice(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		if a.SpreadUSDT != b.SpreadUSDT {
			return a.SpreadUSDT > b.SpreadUSDT
		}
		if a.SpreadPct != b.SpreadPct {
			return a.SpreadPct > b.SpreadPct
		}
		return a.Symbol < b.Symbol
	})
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })

	snap := market.Snapshot{
		Opportunities: opportunities,
		Groups:        groups,
		TimestampMs:   nowMs,
	}

	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	if e.sink != nil {
		e.sink(snap)
	}
	return snap
}

// evaluateSymbol prices every ordered venue pair for one symbol. A
// panic in here is counted and contained so one bad symbol cannot kill
// the tick. Returns the opportunities and the reference prices the
// identity filter compares.
func (e *Engine) evaluateSymbol(symbol string, qs []market.Quote, nowMs int64) (opps []market.Opportunity, prices []float64) {
	defer func() {
		if r := recover(); r != nil {
			e.evalErrors.Add(1)
			if e.onEvalError != nil {
				e.onEvalError()
			}
			log.Error().Str("symbol", symbol).Interface("panic", r).Msg("symbol evaluation failed")
			opps, prices = nil, nil
		}
	}()

	// deterministic pair order regardless of map iteration
	sort.Slice(qs, func(i, j int) bool { return qs[i].Exchange < qs[j].Exchange })

	prices = make([]float64, 0, len(qs))
	for _, q := range qs {
		prices = append(prices, q.RefPrice())
	}

	notional := e.eval.TradeNotionalUSDT
	slip := e.eval.SlippageBps / 10000

	for _, buy := range qs {
		buyPrice := buy.BuyPrice()
		if buyPrice <= 0 {
			continue
		}
		for _, sell := range qs {
			if sell.Exchange == buy.Exchange {
				continue
			}
			sellPrice := sell.SellPrice()
			if sellPrice <= 0 {
				continue
			}

			buyTaker := e.fees.Lookup(buy.Exchange, buy.VenueSymbol).TakerPct
			sellTaker := e.fees.Lookup(sell.Exchange, sell.VenueSymbol).TakerPct

			qty := notional / buyPrice
			gross := qty * (sellPrice - buyPrice)
			buyFee := qty * buyPrice * buyTaker
			sellFee := qty * sellPrice * sellTaker
			totalFees := buyFee + sellFee
			slipCost := (qty*buyPrice + qty*sellPrice) * slip
			net := gross - totalFees - slipCost
			spreadPct := (sellPrice - buyPrice) / buyPrice * 100

			key := stability.Key(symbol, buy.Exchange, sell.Exchange)
			positive := net > 0
			stable := e.stab.Observe(key, positive, nowMs)

			if !positive || spreadPct < e.eval.MinSpreadPct || net < e.eval.MinProfitUSDT {
				continue
			}
			opps = append(opps, market.Opportunity{
				Symbol:          symbol,
				BuyExchange:     buy.Exchange,
				BuyVenueSymbol:  buy.VenueSymbol,
				BuyPrice:        buyPrice,
				BuyFeePct:       buyTaker * 100,
				SellExchange:    sell.Exchange,
				SellVenueSymbol: sell.VenueSymbol,
				SellPrice:       sellPrice,
				SellFeePct:      sellTaker * 100,
				GrossProfitUSDT: gross,
				TotalFeesUSDT:   totalFees,
				SpreadUSDT:      net,
				SpreadPct:       spreadPct,
				TimestampMs:     nowMs,
				IsStable:        stable,
			})
		}
	}
	return opps, prices
}
