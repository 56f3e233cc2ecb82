// Package stability classifies opportunities by persistence: a pairing
// is stable when it has stayed profitable for a full rolling window.
package stability

import (
	"sync"
	"time"
)

type sample struct {
	atMs     int64
	positive bool
}

// Tracker keeps a rolling per-pairing history of profitability samples.
// A pairing keyed by symbol/buy-venue/sell-venue is stable when its
// history spans the whole window and every sample in it is positive.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	history map[string][]sample
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Tracker{
		window:  window,
		history: make(map[string][]sample),
	}
}

// Key builds the pairing identity the history is kept under.
func Key(symbol, buyExchange, sellExchange string) string {
	return symbol + "|" + buyExchange + "|" + sellExchange
}

// Observe records one tick's verdict for a pairing and reports whether
// the pairing is now stable. A gap in observations longer than the
// window resets the history: stability must be re-earned after the
// pairing disappears.
func (t *Tracker) Observe(key string, positive bool, nowMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowMs := t.window.Milliseconds()
	h := t.history[key]

	if n := len(h); n > 0 && nowMs-h[n-1].atMs > windowMs {
		h = h[:0]
	}

	h = append(h, sample{atMs: nowMs, positive: positive})

	// trim samples that fell out of the window, keeping one older
	// sample so coverage of the full window stays provable
	cut := 0
	for cut < len(h)-1 && h[cut+1].atMs <= nowMs-windowMs {
		cut++
	}
	h = h[cut:]
	t.history[key] = h

	if h[0].atMs > nowMs-windowMs {
		return false // window not yet fully covered
	}
	for _, s := range h {
		if !s.positive {
			return false
		}
	}
	return true
}

// Sweep drops histories whose newest sample is older than the window.
// Called periodically so vanished pairings do not accumulate.
func (t *Tracker) Sweep(nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	windowMs := t.window.Milliseconds()
	for key, h := range t.history {
		if len(h) == 0 || nowMs-h[len(h)-1].atMs > windowMs {
			delete(t.history, key)
		}
	}
}

// Tracked returns the number of pairings with live history.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}
