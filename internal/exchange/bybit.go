package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit polls the v5 spot market endpoints.
type Bybit struct {
	client  *netx.Client
	baseURL string
}

func NewBybit(client *netx.Client) *Bybit {
	return &Bybit{client: client, baseURL: bybitBaseURL}
}

func (b *Bybit) Name() string { return "bybit" }

type bybitInstrumentsResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	var resp bybitInstrumentsResp
	url := b.baseURL + "/v5/market/instruments-info?category=spot&limit=1000"
	if err := b.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	out := make([]market.Market, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		if !strings.EqualFold(row.Status, "Trading") {
			continue
		}
		out = append(out, market.Market{
			VenueSymbol: row.Symbol,
			BaseAsset:   row.BaseCoin,
			QuoteAsset:  row.QuoteCoin,
		})
	}
	return out, nil
}

type bybitTickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

func (b *Bybit) FetchTickers(ctx context.Context) ([]Ticker, int, error) {
	var resp bybitTickersResp
	url := b.baseURL + "/v5/market/tickers?category=spot"
	if err := b.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, 0, err
	}
	if resp.RetCode != 0 {
		return nil, 0, fmt.Errorf("bybit tickers: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	tickers := make([]Ticker, 0, len(resp.Result.List))
	skipped := 0
	for _, row := range resp.Result.List {
		t := Ticker{
			VenueSymbol: row.Symbol,
			Bid:         toFloat(row.Bid1Price),
			Ask:         toFloat(row.Ask1Price),
			Last:        toFloat(row.LastPrice),
			TimestampMs: resp.Time,
		}
		if row.Symbol == "" || (t.Bid == 0 && t.Ask == 0 && t.Last == 0) {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, skipped, nil
}

// parseMillis converts a venue millisecond timestamp string, returning
// 0 (meaning "use receive time") when it does not parse.
func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return ms
}
