// Package aggregator funnels the per-venue quote streams through one
// bounded intake channel into the store. Producers never block: when
// the intake is full the quote is dropped and counted.
package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/store"
)

// Aggregator owns the intake channel and the single batch-processor
// goroutine that drains it into the store.
type Aggregator struct {
	store     *store.Store
	intake    chan market.Quote
	batchSize int

	ingested atomic.Int64
	dropped  atomic.Int64

	dropMu     sync.Mutex
	dropsByVen map[string]int64

	onOffer func(exchange string, accepted bool)
}

// New sizes the intake channel. capacity is the hard bound between the
// pollers and the batch processor.
func New(st *store.Store, capacity, batchSize int) *Aggregator {
	if capacity <= 0 {
		capacity = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Aggregator{
		store:      st,
		intake:     make(chan market.Quote, capacity),
		batchSize:  batchSize,
		dropsByVen: make(map[string]int64),
	}
}

// SetOfferHook installs a per-enqueue observer. Must be called before
// any producer starts.
func (a *Aggregator) SetOfferHook(fn func(exchange string, accepted bool)) {
	a.onOffer = fn
}

// Offer attempts a non-blocking enqueue. A full intake drops the quote;
// the slot's previous value in the store stays live until it expires.
func (a *Aggregator) Offer(q market.Quote) bool {
	accepted := true
	select {
	case a.intake <- q:
	default:
		a.dropped.Add(1)
		a.dropMu.Lock()
		a.dropsByVen[q.Exchange]++
		a.dropMu.Unlock()
		accepted = false
	}
	if a.onOffer != nil {
		a.onOffer(q.Exchange, accepted)
	}
	return accepted
}

// Consume drains one quote stream into the intake until the stream
// closes. Each venue stream gets its own Consume goroutine.
func (a *Aggregator) Consume(stream <-chan market.Quote) {
	for q := range stream {
		a.Offer(q)
	}
}

// Run is the batch processor loop. It blocks on the first quote, then
// greedily drains up to batchSize more before writing, so a burst
// becomes few lock acquisitions instead of one per quote. Returns when
// ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	batch := make([]market.Quote, 0, a.batchSize)
	report := time.NewTicker(30 * time.Second)
	defer report.Stop()
	for {
		batch = batch[:0]
		select {
		case <-ctx.Done():
			return
		case <-report.C:
			if d := a.dropped.Load(); d > 0 {
				log.Warn().Int64("dropped", d).Msg("intake drops since start")
			}
			continue
		case q := <-a.intake:
			batch = append(batch, q)
		}
	drain:
		for len(batch) < a.batchSize {
			select {
			case q := <-a.intake:
				batch = append(batch, q)
			default:
				break drain
			}
		}
		a.store.UpsertBatch(batch)
		a.ingested.Add(int64(len(batch)))
	}
}

// RunWorkers starts one Consume goroutine per stream plus the batch
// processor, and blocks until all of them finish.
func (a *Aggregator) RunWorkers(ctx context.Context, streams []<-chan market.Quote) {
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s <-chan market.Quote) {
			defer wg.Done()
			a.Consume(s)
		}(s)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(ctx)
	}()
	wg.Wait()
}

// Ingested returns the total quotes written through to the store.
func (a *Aggregator) Ingested() int64 { return a.ingested.Load() }

// Dropped returns the total quotes discarded on a full intake.
func (a *Aggregator) Dropped() int64 { return a.dropped.Load() }

// Drops returns a copy of the per-exchange drop counts.
func (a *Aggregator) Drops() map[string]int64 {
	a.dropMu.Lock()
	defer a.dropMu.Unlock()
	out := make(map[string]int64, len(a.dropsByVen))
	for ex, n := range a.dropsByVen {
		out[ex] = n
	}
	return out
}

// Backlog returns the current intake channel depth.
func (a *Aggregator) Backlog() int { return len(a.intake) }
