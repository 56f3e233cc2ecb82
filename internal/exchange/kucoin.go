package exchange

import (
	"context"
	"fmt"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

const kucoinBaseURL = "https://api.kucoin.com"

// Kucoin polls the api/v1 public endpoints. allTickers carries a single
// snapshot timestamp for the whole sweep.
type Kucoin struct {
	client  *netx.Client
	baseURL string
}

func NewKucoin(client *netx.Client) *Kucoin {
	return &Kucoin{client: client, baseURL: kucoinBaseURL}
}

func (k *Kucoin) Name() string { return "kucoin" }

type kucoinSymbolsResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol        string `json:"symbol"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		EnableTrading bool   `json:"enableTrading"`
	} `json:"data"`
}

func (k *Kucoin) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	var resp kucoinSymbolsResp
	if err := k.client.GetJSON(ctx, k.baseURL+"/api/v1/symbols", &resp); err != nil {
		return nil, err
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("kucoin symbols: code %s: %s", resp.Code, resp.Msg)
	}
	out := make([]market.Market, 0, len(resp.Data))
	for _, row := range resp.Data {
		if !row.EnableTrading {
			continue
		}
		out = append(out, market.Market{
			VenueSymbol: row.Symbol,
			BaseAsset:   row.BaseCurrency,
			QuoteAsset:  row.QuoteCurrency,
		})
	}
	return out, nil
}

type kucoinTickersResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Time   int64 `json:"time"`
		Ticker []struct {
			Symbol string `json:"symbol"`
			Buy    string `json:"buy"`  // best bid
			Sell   string `json:"sell"` // best ask
			Last   string `json:"last"`
		} `json:"ticker"`
	} `json:"data"`
}

func (k *Kucoin) FetchTickers(ctx context.Context) ([]Ticker, int, error) {
	var resp kucoinTickersResp
	if err := k.client.GetJSON(ctx, k.baseURL+"/api/v1/market/allTickers", &resp); err != nil {
		return nil, 0, err
	}
	if resp.Code != "200000" {
		return nil, 0, fmt.Errorf("kucoin tickers: code %s: %s", resp.Code, resp.Msg)
	}
	tickers := make([]Ticker, 0, len(resp.Data.Ticker))
	skipped := 0
	for _, row := range resp.Data.Ticker {
		t := Ticker{
			VenueSymbol: row.Symbol,
			Bid:         toFloat(row.Buy),
			Ask:         toFloat(row.Sell),
			Last:        toFloat(row.Last),
			TimestampMs: resp.Data.Time,
		}
		if row.Symbol == "" || (t.Bid == 0 && t.Ask == 0 && t.Last == 0) {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, skipped, nil
}
