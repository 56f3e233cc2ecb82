package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/spreadwatch/spreadwatch/internal/aggregator"
	"github.com/spreadwatch/spreadwatch/internal/engine"
	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/metrics"
	"github.com/spreadwatch/spreadwatch/internal/notify"
	"github.com/spreadwatch/spreadwatch/internal/publish"
	"github.com/spreadwatch/spreadwatch/internal/status"
	"github.com/spreadwatch/spreadwatch/internal/store"
)

// Handlers holds the component references the routes read from.
type Handlers struct {
	engine   *engine.Engine
	store    *store.Store
	agg      *aggregator.Aggregator
	statuses *status.Tracker
	hub      *publish.Hub
	telegram *notify.Telegram
	metrics  *metrics.Registry
	ttlMs    int64
	started  time.Time
}

func NewHandlers(
	eng *engine.Engine,
	st *store.Store,
	agg *aggregator.Aggregator,
	statuses *status.Tracker,
	hub *publish.Hub,
	telegram *notify.Telegram,
	reg *metrics.Registry,
	ttlMs int64,
) *Handlers {
	return &Handlers{
		engine:   eng,
		store:    st,
		agg:      agg,
		statuses: statuses,
		hub:      hub,
		telegram: telegram,
		metrics:  reg,
		ttlMs:    ttlMs,
		started:  time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Ranking serves the latest snapshot. ?limit=N trims the flat list
// while preserving its order; groups are returned in full.
func (h *Handlers) Ranking(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Latest()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit < len(snap.Opportunities) {
			snap.Opportunities = snap.Opportunities[:limit]
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

// Status serves exchange name -> health record.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]market.ExchangeStatus)
	for _, st := range h.statuses.Snapshot() {
		out[st.Name] = st
	}
	writeJSON(w, http.StatusOK, out)
}

// FilteringConfig serves the live identity-filter thresholds.
func (h *Handlers) FilteringConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Filtering())
}

// InjectQuote accepts a quote over HTTP and pushes it through the
// normal intake path. Debugging aid; subject to the same drop-on-full
// and last-write-wins rules as polled quotes.
func (h *Handlers) InjectQuote(w http.ResponseWriter, r *http.Request) {
	var q market.Quote
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid quote payload")
		return
	}
	if q.Exchange == "" || q.Symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and symbol are required")
		return
	}
	if q.TimestampMs == 0 {
		q.TimestampMs = time.Now().UnixMilli()
	}
	if !h.agg.Offer(q) {
		writeError(w, http.StatusServiceUnavailable, "intake full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "queued"})
}

// TelegramStatus reports the notifier state.
func (h *Handlers) TelegramStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.telegram.Enabled(),
		"sent":    h.telegram.Sent(),
	})
}

// TelegramToggle flips or sets notifier delivery. An optional JSON body
// {"enabled": bool} sets the state explicitly; an empty body toggles.
func (h *Handlers) TelegramToggle(w http.ResponseWriter, r *http.Request) {
	target := !h.telegram.Enabled()
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Enabled != nil {
		target = *body.Enabled
	}
	if !h.telegram.SetEnabled(target) {
		writeError(w, http.StatusConflict, "telegram credentials not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": h.telegram.Enabled()})
}

// Health reports liveness plus a component summary.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UnixMilli()
	snap := h.engine.Latest()
	counts := h.store.CountFresh(now, h.ttlMs)
	fresh := 0
	for _, n := range counts {
		fresh += n
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"uptime_sec":          int64(time.Since(h.started).Seconds()),
		"exchanges_connected": h.statuses.ConnectedCount(),
		"fresh_quotes":        fresh,
		"intake_backlog":      h.agg.Backlog(),
		"intake_dropped":      h.agg.Dropped(),
		"intake_drops":        h.agg.Drops(),
		"quotes_ingested":     h.agg.Ingested(),
		"snapshot_age_ms":     now - snap.TimestampMs,
		"opportunities":       len(snap.Opportunities),
		"websocket_clients":   h.hub.Clients(),
	})
}

// NotFound is the JSON 404.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not found")
}
