package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

const bitgetBaseURL = "https://api.bitget.com"

// Bitget polls the spot v1 endpoints. Product symbols carry a _SPBL
// suffix that the ticker endpoint omits, so discovery strips it to keep
// one venue spelling everywhere.
type Bitget struct {
	client  *netx.Client
	baseURL string
}

func NewBitget(client *netx.Client) *Bitget {
	return &Bitget{client: client, baseURL: bitgetBaseURL}
}

func (b *Bitget) Name() string { return "bitget" }

type bitgetProductsResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (b *Bitget) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	var resp bitgetProductsResp
	if err := b.client.GetJSON(ctx, b.baseURL+"/api/spot/v1/public/products", &resp); err != nil {
		return nil, err
	}
	if resp.Code != "00000" {
		return nil, fmt.Errorf("bitget products: code %s: %s", resp.Code, resp.Msg)
	}
	out := make([]market.Market, 0, len(resp.Data))
	for _, row := range resp.Data {
		if row.Status != "online" {
			continue
		}
		out = append(out, market.Market{
			VenueSymbol: strings.TrimSuffix(row.Symbol, "_SPBL"),
			BaseAsset:   row.BaseCoin,
			QuoteAsset:  row.QuoteCoin,
		})
	}
	return out, nil
}

type bitgetTickersResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol string `json:"symbol"`
		BidPr  string `json:"bidPr"`
		AskPr  string `json:"askPr"`
		Close  string `json:"close"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func (b *Bitget) FetchTickers(ctx context.Context) ([]Ticker, int, error) {
	var resp bitgetTickersResp
	if err := b.client.GetJSON(ctx, b.baseURL+"/api/spot/v1/market/tickers", &resp); err != nil {
		return nil, 0, err
	}
	if resp.Code != "00000" {
		return nil, 0, fmt.Errorf("bitget tickers: code %s: %s", resp.Code, resp.Msg)
	}
	tickers := make([]Ticker, 0, len(resp.Data))
	skipped := 0
	for _, row := range resp.Data {
		t := Ticker{
			VenueSymbol: strings.TrimSuffix(row.Symbol, "_SPBL"),
			Bid:         toFloat(row.BidPr),
			Ask:         toFloat(row.AskPr),
			Last:        toFloat(row.Close),
			TimestampMs: parseMillis(row.Ts),
		}
		if t.VenueSymbol == "" || (t.Bid == 0 && t.Ask == 0 && t.Last == 0) {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, skipped, nil
}
