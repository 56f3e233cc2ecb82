package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	c := NewClient("test", 1000, time.Second)
	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, 42, out.Value)
}

func TestGetJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test", 1000, time.Second)
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("test", 1000, time.Second)
	for i := 0; i < 5; i++ {
		assert.Error(t, c.GetJSON(context.Background(), srv.URL, &struct{}{}))
	}
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(5), calls.Load(), "open breaker stops hitting the venue")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(gobreaker.ErrOpenState))
	assert.True(t, IsTransient(&StatusError{Code: 429}))
	assert.True(t, IsTransient(&StatusError{Code: 503}))
	assert.True(t, IsTransient(&StatusError{Code: 403}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true}))
	assert.False(t, IsTransient(&StatusError{Code: 404}))
	assert.False(t, IsTransient(errors.New("decode: unexpected EOF")))
	assert.False(t, IsTransient(nil))
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, time.Second, Backoff(1))
	assert.Equal(t, 2*time.Second, Backoff(2))
	assert.Equal(t, 4*time.Second, Backoff(3))
	assert.Equal(t, 32*time.Second, Backoff(6))
	assert.Equal(t, 60*time.Second, Backoff(7))
	assert.Equal(t, 60*time.Second, Backoff(100))
}
