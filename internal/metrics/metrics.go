// Package metrics registers the prometheus instrumentation for the
// scanner and serves it alongside the API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the scanner's metrics on a private prometheus
// registry so tests can build isolated instances.
type Registry struct {
	reg *prometheus.Registry

	QuotesIngested *prometheus.CounterVec
	IntakeDrops    *prometheus.CounterVec
	ParseFailures  *prometheus.GaugeVec
	PollErrors     *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	Opportunities  prometheus.Gauge
	EvalErrors     prometheus.Counter
	WSClients      prometheus.Gauge
	NotifySent     prometheus.Counter
}

func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.QuotesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spreadwatch",
		Name:      "quotes_ingested_total",
		Help:      "Quotes written to the store, by exchange.",
	}, []string{"exchange"})

	r.IntakeDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spreadwatch",
		Name:      "intake_drops_total",
		Help:      "Quotes dropped because the intake channel was full, by exchange.",
	}, []string{"exchange"})

	r.ParseFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spreadwatch",
		Name:      "ticker_parse_failures",
		Help:      "Cumulative malformed ticker rows skipped, by exchange.",
	}, []string{"exchange"})

	r.PollErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spreadwatch",
		Name:      "poll_errors_total",
		Help:      "Failed ticker polls, by exchange.",
	}, []string{"exchange"})

	r.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spreadwatch",
		Name:      "tick_duration_seconds",
		Help:      "Engine evaluation tick duration.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	r.Opportunities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spreadwatch",
		Name:      "opportunities",
		Help:      "Opportunities in the latest snapshot.",
	})

	r.EvalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spreadwatch",
		Name:      "evaluation_errors_total",
		Help:      "Per-symbol evaluations aborted by a recovered panic.",
	})

	r.WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spreadwatch",
		Name:      "websocket_clients",
		Help:      "Connected websocket subscribers.",
	})

	r.NotifySent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spreadwatch",
		Name:      "notifications_sent_total",
		Help:      "Notifier messages delivered.",
	})

	r.reg.MustRegister(
		r.QuotesIngested, r.IntakeDrops, r.ParseFailures, r.PollErrors,
		r.TickDuration, r.Opportunities, r.EvalErrors, r.WSClients, r.NotifySent,
	)
	return r
}

// ObserveTick records one engine tick.
func (r *Registry) ObserveTick(d time.Duration, opportunities int) {
	r.TickDuration.Observe(d.Seconds())
	r.Opportunities.Set(float64(opportunities))
}

// Handler serves the /metrics endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
