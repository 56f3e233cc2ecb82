package exchange

import (
	"context"
	"fmt"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

const okxBaseURL = "https://www.okx.com"

// Okx polls the api/v5 public endpoints. Instrument ids keep their
// dashed BASE-QUOTE spelling as the venue symbol.
type Okx struct {
	client  *netx.Client
	baseURL string
}

func NewOkx(client *netx.Client) *Okx {
	return &Okx{client: client, baseURL: okxBaseURL}
}

func (o *Okx) Name() string { return "okx" }

type okxInstrumentsResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
	} `json:"data"`
}

func (o *Okx) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	var resp okxInstrumentsResp
	url := o.baseURL + "/api/v5/public/instruments?instType=SPOT"
	if err := o.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx instruments: code %s: %s", resp.Code, resp.Msg)
	}
	out := make([]market.Market, 0, len(resp.Data))
	for _, row := range resp.Data {
		if row.State != "live" {
			continue
		}
		out = append(out, market.Market{
			VenueSymbol: row.InstID,
			BaseAsset:   row.BaseCcy,
			QuoteAsset:  row.QuoteCcy,
		})
	}
	return out, nil
}

type okxTickersResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func (o *Okx) FetchTickers(ctx context.Context) ([]Ticker, int, error) {
	var resp okxTickersResp
	url := o.baseURL + "/api/v5/market/tickers?instType=SPOT"
	if err := o.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Code != "0" {
		return nil, 0, fmt.Errorf("okx tickers: code %s: %s", resp.Code, resp.Msg)
	}
	tickers := make([]Ticker, 0, len(resp.Data))
	skipped := 0
	for _, row := range resp.Data {
		t := Ticker{
			VenueSymbol: row.InstID,
			Bid:         toFloat(row.BidPx),
			Ask:         toFloat(row.AskPx),
			Last:        toFloat(row.Last),
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
