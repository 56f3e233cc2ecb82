// Package exchange implements the per-venue adapters. Each venue polls
// its public REST ticker endpoint on a fixed cadence and emits
// normalized quotes; transient failures back off and the stream
// resumes, it never terminates the outer loop.
package exchange

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

// Ticker is one raw ticker row from a venue poll, already reduced to
// the fields the pipeline uses. Prices of zero mean "absent".
type Ticker struct {
	VenueSymbol string
	Bid         float64
	Ask         float64
	Last        float64
	TimestampMs int64
}

// Venue is the per-exchange REST surface: a market listing for
// discovery and a full ticker sweep for the quote stream. FetchTickers
// returns the parsed rows plus the count of malformed rows it skipped.
type Venue interface {
	Name() string
	FetchMarkets(ctx context.Context) ([]market.Market, error)
	FetchTickers(ctx context.Context) (tickers []Ticker, skipped int, err error)
}

// FeeSource is implemented by venues whose public API publishes
// per-symbol trading fees. Venues without one stay on the configured
// schedule.
type FeeSource interface {
	FetchFees(ctx context.Context) (map[string]market.FeeSchedule, error)
}

// TargetSource supplies the venueSymbol -> canonical watch set for an
// exchange. It is consulted on every poll so discovery refreshes take
// effect mid-stream.
type TargetSource interface {
	WatchSet(exchange string) map[string]string
}

// Adapter drives one Venue: it owns the poll cadence, the backoff
// policy and the venue->canonical normalization, and exposes the
// restartable quote stream the aggregator consumes.
type Adapter struct {
	venue    Venue
	fees     market.FeeSchedule
	targets  TargetSource
	interval time.Duration

	parseFailures atomic.Int64
}

// NewAdapter wires a venue to its fee schedule and target source.
func NewAdapter(venue Venue, fees market.FeeSchedule, targets TargetSource, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Adapter{venue: venue, fees: fees, targets: targets, interval: pollInterval}
}

// Name returns the venue name.
func (a *Adapter) Name() string { return a.venue.Name() }

// Fees returns the venue fee schedule.
func (a *Adapter) Fees() market.FeeSchedule { return a.fees }

// FetchMarkets proxies discovery to the venue.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	return a.venue.FetchMarkets(ctx)
}

// FetchFees returns the venue's published per-symbol schedules. ok is
// false when the venue API exposes no fee data.
func (a *Adapter) FetchFees(ctx context.Context) (fetched map[string]market.FeeSchedule, ok bool, err error) {
	fs, supported := a.venue.(FeeSource)
	if !supported {
		return nil, false, nil
	}
	fetched, err = fs.FetchFees(ctx)
	return fetched, true, err
}

// ParseFailures returns the count of malformed ticker rows skipped.
func (a *Adapter) ParseFailures() int64 { return a.parseFailures.Load() }

// QuoteStream starts the poll loop and returns its output channel. The
// channel closes when ctx is cancelled. Poll errors are reported via
// onError and retried with capped exponential backoff; the stream
// itself never fails. onSuccess fires after each successful poll with
// the poll timestamp, whether or not any quote matched the watch set.
func (a *Adapter) QuoteStream(ctx context.Context, onError func(error), onSuccess func(tsMs int64)) <-chan market.Quote {
	out := make(chan market.Quote, 256)
	go a.run(ctx, out, onError, onSuccess)
	return out
}

func (a *Adapter) run(ctx context.Context, out chan<- market.Quote, onError func(error), onSuccess func(tsMs int64)) {
	defer close(out)
	name := a.venue.Name()
	failures := 0
	timer := time.NewTimer(0) // first poll immediately
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tickers, skipped, err := a.venue.FetchTickers(ctx)
		if skipped > 0 {
			a.parseFailures.Add(int64(skipped))
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := netx.Backoff(failures)
			log.Warn().Str("venue", name).Err(err).Int("failures", failures).
				Dur("backoff", delay).Msg("ticker poll failed")
			if onError != nil {
				onError(err)
			}
			timer.Reset(delay)
			continue
		}
		if failures > 0 {
			log.Info().Str("venue", name).Int("failures", failures).Msg("quote stream recovered")
			failures = 0
		}

		watch := a.targets.WatchSet(name)
		now := time.Now().UnixMilli()
		emitted := 0
		for _, t := range tickers {
			canonical, ok := watch[t.VenueSymbol]
			if !ok {
				continue
			}
			ts := t.TimestampMs
			if ts <= 0 {
				ts = now
			}
			q := market.Quote{
				Exchange:    name,
				VenueSymbol: t.VenueSymbol,
				Symbol:      canonical,
				Bid:         t.Bid,
				Ask:         t.Ask,
				Last:        t.Last,
				TimestampMs: ts,
			}
			select {
			case out <- q:
				emitted++
			case <-ctx.Done():
				return
			}
		}
		if onSuccess != nil {
			onSuccess(now)
		}
		log.Debug().Str("venue", name).Int("emitted", emitted).Int("rows", len(tickers)).Msg("poll complete")
		timer.Reset(a.interval)
	}
}

// toFloat parses a venue price string, returning 0 for anything that
// does not parse. Venues encode absent prices as "" or "0".
func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
