// Package netx is the shared venue HTTP path: a JSON GET client with a
// per-venue token-bucket rate limiter and a circuit breaker, plus the
// transient-error classification the adapters retry on.
package netx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// StatusError is a non-2xx venue response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Client wraps an http.Client with rate limiting and a circuit breaker
// for one venue. All venue adapters go through GetJSON; nothing else in
// the pipeline touches the network.
type Client struct {
	venue   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a venue client. rps bounds outbound request rate;
// the breaker opens after 5 consecutive failures and probes again after
// 30 seconds.
func NewClient(venue string, rps float64, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    venue,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		venue:   venue,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Venue returns the venue name the client was built for.
func (c *Client) Venue() string { return c.venue }

// GetJSON performs a rate-limited GET through the circuit breaker and
// decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{URL: url, Code: resp.StatusCode}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", url, err)
		}
		return nil, nil
	})
	return err
}

// IsTransient reports whether an error is a retryable venue failure:
// timeouts, connection resets, rate limits, 5xx responses and an open
// circuit breaker. Everything else is treated as data-shaped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Backoff returns the exponential retry delay for the given consecutive
// failure count: 1s, 2s, 4s, ... capped at 60s.
func Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
