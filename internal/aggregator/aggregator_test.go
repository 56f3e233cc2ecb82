package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/store"
)

func q(ex, sym string, ts int64) market.Quote {
	return market.Quote{Exchange: ex, Symbol: sym, Bid: 1, TimestampMs: ts}
}

func TestOfferDropsWhenFull(t *testing.T) {
	a := New(store.New(100), 3, 100)
	assert.True(t, a.Offer(q("bybit", "A", 1)))
	assert.True(t, a.Offer(q("bybit", "B", 1)))
	assert.True(t, a.Offer(q("bybit", "C", 1)))

	// intake full: each further offer is dropped and counted
	assert.False(t, a.Offer(q("bybit", "D", 1)))
	assert.Equal(t, int64(1), a.Dropped())
	assert.False(t, a.Offer(q("bybit", "E", 1)))
	assert.Equal(t, int64(2), a.Dropped())
}

func TestDropsAttributedPerExchange(t *testing.T) {
	a := New(store.New(100), 2, 100)
	assert.True(t, a.Offer(q("bybit", "A", 1)))
	assert.True(t, a.Offer(q("okx", "B", 1)))

	assert.False(t, a.Offer(q("bybit", "C", 1)))
	assert.False(t, a.Offer(q("bybit", "D", 1)))
	assert.False(t, a.Offer(q("kucoin", "E", 1)))

	drops := a.Drops()
	assert.Equal(t, int64(2), drops["bybit"])
	assert.Equal(t, int64(1), drops["kucoin"])
	assert.NotContains(t, drops, "okx")
	assert.Equal(t, int64(3), a.Dropped())
}

func TestOfferHook(t *testing.T) {
	a := New(store.New(100), 1, 100)
	var accepts, drops int
	a.SetOfferHook(func(ex string, accepted bool) {
		if accepted {
			accepts++
		} else {
			drops++
		}
	})
	a.Offer(q("okx", "A", 1))
	a.Offer(q("okx", "B", 1))
	assert.Equal(t, 1, accepts)
	assert.Equal(t, 1, drops)
}

func TestRunDrainsIntoStore(t *testing.T) {
	st := store.New(100)
	a := New(st, 1000, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()

	for i := 0; i < 250; i++ {
		require.True(t, a.Offer(q("bybit", fmt.Sprintf("S%d", i), 1)))
	}

	require.Eventually(t, func() bool {
		return a.Ingested() == 250
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 250, st.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch processor did not stop on cancel")
	}
}

// Per-producer ordering: a newer quote enqueued after an older one for
// the same slot must win, because the intake is FIFO and the store
// applies batches in order.
func TestPerSlotOrderingPreserved(t *testing.T) {
	st := store.New(100)
	a := New(st, 1000, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for ts := int64(1); ts <= 500; ts++ {
		require.True(t, a.Offer(market.Quote{Exchange: "bybit", Symbol: "BTCUSDT", Bid: float64(ts), TimestampMs: ts}))
	}

	require.Eventually(t, func() bool {
		return a.Ingested() == 500
	}, 2*time.Second, 10*time.Millisecond)
	final := st.Snapshot()[store.Key{Exchange: "bybit", Symbol: "BTCUSDT"}]
	assert.Equal(t, int64(500), final.TimestampMs)
	assert.Equal(t, int64(0), st.StaleDrops(), "in-order stream never triggers stale drops")
}

func TestConsumeForwardsUntilStreamCloses(t *testing.T) {
	st := store.New(100)
	a := New(st, 1000, 100)
	stream := make(chan market.Quote, 10)
	for i := 0; i < 5; i++ {
		stream <- q("kucoin", fmt.Sprintf("S%d", i), 1)
	}
	close(stream)

	done := make(chan struct{})
	go func() { a.Consume(stream); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not return after stream close")
	}
	assert.Equal(t, 5, a.Backlog())
}
