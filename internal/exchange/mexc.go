package exchange

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/spreadwatch/spreadwatch/internal/market"
	"github.com/spreadwatch/spreadwatch/internal/netx"
)

const mexcBaseURL = "https://api.mexc.com"

// Mexc polls the api/v3 spot endpoints. The ticker endpoint returns the
// full book-top sweep in one array.
type Mexc struct {
	client  *netx.Client
	baseURL string
}

func NewMexc(client *netx.Client) *Mexc {
	return &Mexc{client: client, baseURL: mexcBaseURL}
}

func (m *Mexc) Name() string { return "mexc" }

type mexcExchangeInfoResp struct {
	Symbols []struct {
		Symbol               string          `json:"symbol"`
		BaseAsset            string          `json:"baseAsset"`
		QuoteAsset           string          `json:"quoteAsset"`
		Status               string          `json:"status"`
		IsSpotTradingAllowed bool            `json:"isSpotTradingAllowed"`
		MakerCommission      json.RawMessage `json:"makerCommission"`
		TakerCommission      json.RawMessage `json:"takerCommission"`
	} `json:"symbols"`
}

func (m *Mexc) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	var resp mexcExchangeInfoResp
	if err := m.client.GetJSON(ctx, m.baseURL+"/api/v3/exchangeInfo", &resp); err != nil {
		return nil, err
	}
	out := make([]market.Market, 0, len(resp.Symbols))
	for _, row := range resp.Symbols {
		// mexc encodes the enabled state as the string "1"
		if row.Status != "1" || !row.IsSpotTradingAllowed {
			continue
		}
		out = append(out, market.Market{
			VenueSymbol: row.Symbol,
			BaseAsset:   row.BaseAsset,
			QuoteAsset:  row.QuoteAsset,
		})
	}
	return out, nil
}

// FetchFees reads the per-symbol maker/taker commissions that mexc
// publishes in exchangeInfo. Rows without usable commission data are
// omitted; callers fall back to the configured schedule for them.
func (m *Mexc) FetchFees(ctx context.Context) (map[string]market.FeeSchedule, error) {
	var resp mexcExchangeInfoResp
	if err := m.client.GetJSON(ctx, m.baseURL+"/api/v3/exchangeInfo", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]market.FeeSchedule)
	for _, row := range resp.Symbols {
		if row.Status != "1" || !row.IsSpotTradingAllowed {
			continue
		}
		taker := parseCommission(row.TakerCommission)
		maker := parseCommission(row.MakerCommission)
		if taker <= 0 || maker <= 0 {
			continue
		}
		out[row.Symbol] = market.FeeSchedule{TakerPct: taker, MakerPct: maker}
	}
	return out, nil
}

// parseCommission handles both encodings mexc has used: a fraction as
// a quoted string ("0.002") and a bare basis-point number (20). Values
// above 1 are taken as basis points.
func parseCommission(raw json.RawMessage) float64 {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	v := toFloat(s)
	if v > 1 {
		v = v / 10000
	}
	return v
}

type mexcTickerRow struct {
	Symbol    string `json:"symbol"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	LastPrice string `json:"lastPrice"`
	CloseTime int64  `json:"closeTime"`
}

func (m *Mexc) FetchTickers(ctx context.Context) ([]Ticker, int, error) {
	var rows []mexcTickerRow
	if err := m.client.GetJSON(ctx, m.baseURL+"/api/v3/ticker/24hr", &rows); err != nil {
		return nil, 0, err
	}
	tickers := make([]Ticker, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		t := Ticker{
			VenueSymbol: row.Symbol,
			Bid:         toFloat(row.BidPrice),
			Ask:         toFloat(row.AskPrice),
			Last:        toFloat(row.LastPrice),
			TimestampMs: row.CloseTime,
		}
		if row.Symbol == "" || (t.Bid == 0 && t.Ask == 0 && t.Last == 0) {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, skipped, nil
}
