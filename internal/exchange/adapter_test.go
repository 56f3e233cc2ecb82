package exchange

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/market"
)

func exchangeConfig(name string) config.ExchangeConfig {
	return config.ExchangeConfig{
		Name:            name,
		Enabled:         true,
		PollIntervalMs:  10,
		RateLimitPerSec: 1000,
		Fee:             market.FeeSchedule{TakerPct: 0.001, MakerPct: 0.001},
	}
}

// staticTargets watches a fixed venueSymbol -> canonical set.
type staticTargets map[string]string

func (s staticTargets) WatchSet(string) map[string]string { return s }

// scriptedVenue returns each scripted poll result in turn, then repeats
// the last one.
type scriptedVenue struct {
	polls []func() ([]Ticker, int, error)
	calls atomic.Int64
}

func (v *scriptedVenue) Name() string { return "fake" }

func (v *scriptedVenue) FetchMarkets(context.Context) ([]market.Market, error) {
	return nil, nil
}

func (v *scriptedVenue) FetchTickers(context.Context) ([]Ticker, int, error) {
	n := int(v.calls.Add(1)) - 1
	if n >= len(v.polls) {
		n = len(v.polls) - 1
	}
	return v.polls[n]()
}

func collect(ch <-chan market.Quote, n int, timeout time.Duration) []market.Quote {
	var out []market.Quote
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case q, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, q)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestQuoteStreamFiltersByWatchSet(t *testing.T) {
	venue := &scriptedVenue{polls: []func() ([]Ticker, int, error){
		func() ([]Ticker, int, error) {
			return []Ticker{
				{VenueSymbol: "BTC-USDT", Bid: 60000, Ask: 60010, TimestampMs: 1000},
				{VenueSymbol: "UNWATCHED-USDT", Bid: 1, Ask: 2, TimestampMs: 1000},
			}, 0, nil
		},
	}}
	a := NewAdapter(venue, market.FeeSchedule{}, staticTargets{"BTC-USDT": "BTCUSDT"}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := a.QuoteStream(ctx, nil, nil)

	quotes := collect(stream, 1, time.Second)
	require.Len(t, quotes, 1)
	assert.Equal(t, "fake", quotes[0].Exchange)
	assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	assert.Equal(t, "BTC-USDT", quotes[0].VenueSymbol)
	assert.Equal(t, int64(1000), quotes[0].TimestampMs)
}

func TestQuoteStreamRecoversAfterErrors(t *testing.T) {
	fail := func() ([]Ticker, int, error) { return nil, 0, errors.New("boom") }
	ok := func() ([]Ticker, int, error) {
		return []Ticker{{VenueSymbol: "BTCUSDT", Bid: 1, Ask: 2, TimestampMs: 1}}, 0, nil
	}
	venue := &scriptedVenue{polls: []func() ([]Ticker, int, error){fail, fail, ok}}
	a := NewAdapter(venue, market.FeeSchedule{}, staticTargets{"BTCUSDT": "BTCUSDT"}, 10*time.Millisecond)

	var errCount atomic.Int64
	var successes atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := a.QuoteStream(ctx,
		func(error) { errCount.Add(1) },
		func(int64) { successes.Add(1) },
	)

	// backoff after two failures is 1s + 2s; allow headroom
	quotes := collect(stream, 1, 5*time.Second)
	require.Len(t, quotes, 1, "stream resumes after transient failures")
	assert.Equal(t, int64(2), errCount.Load())
	assert.GreaterOrEqual(t, successes.Load(), int64(1))
}

func TestQuoteStreamCountsParseFailures(t *testing.T) {
	venue := &scriptedVenue{polls: []func() ([]Ticker, int, error){
		func() ([]Ticker, int, error) { return nil, 3, nil },
	}}
	a := NewAdapter(venue, market.FeeSchedule{}, staticTargets{}, 10*time.Millisecond)

	var successes atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.QuoteStream(ctx, nil, func(int64) { successes.Add(1) })

	require.Eventually(t, func() bool { return successes.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, a.ParseFailures(), int64(3))
}

// An empty poll is still a successful poll: health is refreshed, no
// quotes are emitted.
func TestEmptyPollIsSuccess(t *testing.T) {
	venue := &scriptedVenue{polls: []func() ([]Ticker, int, error){
		func() ([]Ticker, int, error) { return nil, 0, nil },
	}}
	a := NewAdapter(venue, market.FeeSchedule{}, staticTargets{"X": "X"}, 5*time.Millisecond)

	var successes atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := a.QuoteStream(ctx, nil, func(int64) { successes.Add(1) })

	require.Eventually(t, func() bool { return successes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	select {
	case q := <-stream:
		t.Fatalf("unexpected quote %+v", q)
	default:
	}
}

func TestQuoteStreamClosesOnCancel(t *testing.T) {
	venue := &scriptedVenue{polls: []func() ([]Ticker, int, error){
		func() ([]Ticker, int, error) { return nil, 0, nil },
	}}
	a := NewAdapter(venue, market.FeeSchedule{}, staticTargets{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stream := a.QuoteStream(ctx, nil, nil)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok, "stream channel closed")
	case <-time.After(time.Second):
		t.Fatal("stream did not close on cancel")
	}
}
