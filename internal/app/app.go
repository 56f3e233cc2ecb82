// Package app assembles the scanner: discovery, adapters, aggregation,
// evaluation and the serving surface, with one graceful shutdown path.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/aggregator"
	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/engine"
	"github.com/spreadwatch/spreadwatch/internal/exchange"
	"github.com/spreadwatch/spreadwatch/internal/fees"
	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/metrics"
	"github.com/spreadwatch/spreadwatch/internal/notify"
	"github.com/spreadwatch/spreadwatch/internal/publish"
	"github.com/spreadwatch/spreadwatch/internal/stability"
	"github.com/spreadwatch/spreadwatch/internal/status"
	"github.com/spreadwatch/spreadwatch/internal/store"
	"github.com/spreadwatch/spreadwatch/internal/symbols"
	"github.com/spreadwatch/spreadwatch/internal/web"
)

// App holds every long-lived component of the scanner.
type App struct {
	cfg      *config.Config
	mapper   *symbols.Mapper
	adapters []*exchange.Adapter
	store    *store.Store
	agg      *aggregator.Aggregator
	fees     *fees.Table
	statuses *status.Tracker
	engine   *engine.Engine
	hub      *publish.Hub
	telegram *notify.Telegram
	metrics  *metrics.Registry
	server   *web.Server
}

// New wires the components from config. The only errors here are
// configuration errors; everything at runtime degrades instead.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		mapper:   symbols.NewMapper(symbols.DefaultOverrides()),
		store:    store.New(cfg.Store.BatchSize),
		fees:     fees.NewTable(cfg.Fees()),
		statuses: status.NewTracker(),
		hub:      publish.NewHub(nil),
		telegram: notify.NewTelegram(cfg.Telegram),
		metrics:  metrics.New(),
	}

	for _, exCfg := range cfg.EnabledExchanges() {
		adapter, err := exchange.New(exCfg, a.mapper)
		if err != nil {
			return nil, err
		}
		a.adapters = append(a.adapters, adapter)
		a.statuses.Register(adapter.Name())
	}
	if len(a.adapters) < 2 {
		return nil, fmt.Errorf("need at least 2 enabled exchanges, have %d", len(a.adapters))
	}

	a.agg = aggregator.New(a.store, cfg.Store.IntakeCapacity, cfg.Store.BatchSize)
	a.agg.SetOfferHook(func(ex string, accepted bool) {
		if accepted {
			a.metrics.QuotesIngested.WithLabelValues(ex).Inc()
		} else {
			a.metrics.IntakeDrops.WithLabelValues(ex).Inc()
		}
	})

	stab := stability.NewTracker(cfg.StabilityWindow())
	a.engine = engine.New(a.store, stab, a.fees, cfg, a.onSnapshot)
	a.engine.SetTickObserver(a.metrics.ObserveTick)
	a.engine.SetEvalErrorHook(a.metrics.EvalErrors.Inc)
	a.hub.SetClientGauge(func(n int) { a.metrics.WSClients.Set(float64(n)) })
	a.telegram.SetSentHook(a.metrics.NotifySent.Inc)

	handlers := web.NewHandlers(
		a.engine, a.store, a.agg, a.statuses, a.hub, a.telegram,
		a.metrics, int64(cfg.Store.QuoteTTLMs),
	)
	a.server = web.NewServer(cfg.Web, handlers)
	return a, nil
}

// onSnapshot is the engine sink: push to subscribers, refresh the
// status quote counts and hand the snapshot to the notifier queue. The
// handoff never blocks, so a slow Bot API cannot stall the tick.
func (a *App) onSnapshot(snap market.Snapshot) {
	a.hub.PublishSnapshot(snap)
	a.statuses.SetQuoteCounts(a.store.CountFresh(snap.TimestampMs, int64(a.cfg.Store.QuoteTTLMs)))
	a.telegram.Submit(snap)
}

// Run starts every worker and blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.discover(ctx); err != nil {
		return err
	}
	a.telegram.Start(ctx)

	var wg sync.WaitGroup
	streams := make([]<-chan market.Quote, 0, len(a.adapters))
	for _, ad := range a.adapters {
		ad := ad
		name := ad.Name()
		onErr := func(err error) {
			a.statuses.RecordError(name, err)
			a.metrics.PollErrors.WithLabelValues(name).Inc()
		}
		onOK := func(tsMs int64) {
			a.statuses.RecordUpdate(name, tsMs)
			a.metrics.ParseFailures.WithLabelValues(name).Set(float64(ad.ParseFailures()))
		}
		streams = append(streams, ad.QuoteStream(ctx, onErr, onOK))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.agg.RunWorkers(ctx, streams)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.engine.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.refreshLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.statusWatcher(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	a.hub.Close()
	wg.Wait()
	log.Info().Msg("scanner stopped")
	return nil
}

// discover fans market discovery out across the venues and registers
// the results. Startup proceeds as long as at least two venues answer;
// the refresh loop picks up the rest later.
func (a *App) discover(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, ad := range a.adapters {
		wg.Add(1)
		go func(ad *exchange.Adapter) {
			defer wg.Done()
			markets, err := ad.FetchMarkets(ctx)
			if err != nil {
				log.Warn().Str("venue", ad.Name()).Err(err).Msg("market discovery failed")
				a.statuses.RecordError(ad.Name(), err)
				return
			}
			n := a.mapper.Register(ad.Name(), markets)
			log.Info().Str("venue", ad.Name()).Int("pairs", n).Msg("markets discovered")
			a.fetchFees(ctx, ad)
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(ad)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if succeeded < 2 {
		return errors.New("market discovery succeeded on fewer than 2 exchanges")
	}
	log.Info().Int("symbols", len(a.mapper.Intersection())).Msg("target universe built")
	return nil
}

// fetchFees pulls the venue's published per-symbol schedules into the
// fee table. A venue without a fee endpoint, or a failed fetch, keeps
// the configured defaults.
func (a *App) fetchFees(ctx context.Context, ad *exchange.Adapter) {
	fetched, ok, err := ad.FetchFees(ctx)
	if !ok {
		return
	}
	if err != nil {
		log.Warn().Str("venue", ad.Name()).Err(err).Msg("fee fetch failed, using configured schedule")
		return
	}
	a.fees.SetVenueFees(ad.Name(), fetched)
	log.Info().Str("venue", ad.Name()).Int("symbols", len(fetched)).Msg("venue fee schedules loaded")
}

// refreshLoop re-runs discovery on the configured cadence so listings
// and delistings show up without a restart.
func (a *App) refreshLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Discovery.RefreshIntervalSec) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ad := range a.adapters {
				markets, err := ad.FetchMarkets(ctx)
				if err != nil {
					log.Warn().Str("venue", ad.Name()).Err(err).Msg("discovery refresh failed")
					continue
				}
				a.mapper.Register(ad.Name(), markets)
				a.fetchFees(ctx, ad)
			}
			log.Info().Int("symbols", len(a.mapper.Intersection())).Msg("target universe refreshed")
		}
	}
}

// statusWatcher pushes the exchange status list to websocket
// subscribers whenever it changes.
func (a *App) statusWatcher(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var last []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := a.statuses.Snapshot()
			cur, err := json.Marshal(statuses)
			if err != nil {
				continue
			}
			if string(cur) == string(last) {
				continue
			}
			last = cur
			a.hub.PublishStatus(statuses)
		}
	}
}
