// Package notify delivers top-opportunity alerts to Telegram. Delivery
// is throttled and best-effort: a failed send is logged and dropped.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/market"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram posts formatted opportunity alerts via the Bot API.
type Telegram struct {
	http    *http.Client
	baseURL string
	token   string
	chatID  string

	minProfitUSDT float64
	interval      time.Duration

	mu       sync.Mutex
	enabled  bool
	lastSent time.Time
	sent     int64

	queue  chan market.Snapshot
	onSent func()
}

// NewTelegram builds the notifier from config. A notifier with no token
// or chat id stays permanently disabled.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	t := &Telegram{
		http:          &http.Client{Timeout: 10 * time.Second},
		baseURL:       telegramAPIBase,
		token:         cfg.BotToken,
		chatID:        cfg.ChatID,
		minProfitUSDT: cfg.MinProfitUSDT,
		interval:      time.Duration(cfg.NotifyIntervalSec) * time.Second,
		enabled:       cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
	}
	if t.interval <= 0 {
		t.interval = time.Minute
	}
	t.queue = make(chan market.Snapshot, 1)
	return t
}

// Start launches the delivery worker. Submit hands snapshots to it;
// the caller is never blocked on Bot API latency.
func (t *Telegram) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-t.queue:
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				t.Observe(sendCtx, snap)
				cancel()
			}
		}
	}()
}

// Submit enqueues a snapshot for the worker without blocking. When a
// delivery is already in flight the queued snapshot is replaced by the
// newer one; only the latest matters.
func (t *Telegram) Submit(snap market.Snapshot) {
	select {
	case t.queue <- snap:
		return
	default:
	}
	select {
	case <-t.queue:
	default:
	}
	select {
	case t.queue <- snap:
	default:
	}
}

// SetSentHook installs a counter hook fired per delivered message.
func (t *Telegram) SetSentHook(fn func()) { t.onSent = fn }

// Enabled reports whether the notifier is currently on.
func (t *Telegram) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled toggles delivery at runtime. Enabling without credentials
// is refused.
func (t *Telegram) SetEnabled(on bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on && (t.token == "" || t.chatID == "") {
		return false
	}
	t.enabled = on
	return true
}

// Sent returns the number of messages delivered.
func (t *Telegram) Sent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// Observe inspects a snapshot and sends an alert for the best
// opportunity when it clears the profit bar and the throttle window
// has elapsed.
func (t *Telegram) Observe(ctx context.Context, snap market.Snapshot) {
	if len(snap.Opportunities) == 0 {
		return
	}
	best := snap.Opportunities[0]
	if best.SpreadUSDT < t.minProfitUSDT {
		return
	}

	t.mu.Lock()
	if !t.enabled || time.Since(t.lastSent) < t.interval {
		t.mu.Unlock()
		return
	}
	t.lastSent = time.Now()
	t.mu.Unlock()

	if err := t.send(ctx, formatAlert(best)); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
		return
	}
	t.mu.Lock()
	t.sent++
	t.mu.Unlock()
	if t.onSent != nil {
		t.onSent()
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: http %d", resp.StatusCode)
	}
	return nil
}

func formatAlert(o market.Opportunity) string {
	stable := ""
	if o.IsStable {
		stable = " (stable)"
	}
	return fmt.Sprintf(
		"<b>%s</b>%s\nbuy %s @ %.8g\nsell %s @ %.8g\nnet +%.2f USDT (%.3f%%)",
		o.Symbol, stable,
		o.BuyExchange, o.BuyPrice,
		o.SellExchange, o.SellPrice,
		o.SpreadUSDT, o.SpreadPct,
	)
}
