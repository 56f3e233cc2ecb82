package exchange

import (
	"fmt"
	"time"

	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

// New builds the adapter for one configured venue. Unknown names are a
// configuration error; nothing downstream can recover from them.
func New(cfg config.ExchangeConfig, targets TargetSource) (*Adapter, error) {
	client := netx.NewClient(cfg.Name, cfg.RateLimitPerSec, 10*time.Second)
	var venue Venue
	switch cfg.Name {
	case "bybit":
		venue = NewBybit(client)
	case "mexc":
		venue = NewMexc(client)
	case "bitget":
		venue = NewBitget(client)
	case "okx":
		venue = NewOkx(client)
	case "kucoin":
		venue = NewKucoin(client)
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Name)
	}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	return NewAdapter(venue, cfg.Fee, targets, interval), nil
}
