package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"finexplain/cache"
)

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ExchangeName       string  `json:"exchangeName"`
				ShortName          string  `json:"shortName"`
				LongName           string  `json:"longName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				PreviousClose      float64 `json:"previousClose"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type searchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// yahooValue is the {"raw": 1.0, "fmt": "1.00"} wrapper used across quoteSummary
type yahooValue struct {
	Raw *float64 `json:"raw"`
	Fmt string   `json:"fmt"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile struct {
				Sector              string `json:"sector"`
				Industry            string `json:"industry"`
				Country             string `json:"country"`
				Website             string `json:"website"`
				LongBusinessSummary string `json:"longBusinessSummary"`
				FullTimeEmployees   int    `json:"fullTimeEmployees"`
			} `json:"assetProfile"`
			Price struct {
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
				Currency  string `json:"currency"`
			} `json:"price"`
			IncomeStatementHistoryQuarterly struct {
				Statements []map[string]json.RawMessage `json:"incomeStatementHistory"`
			} `json:"incomeStatementHistoryQuarterly"`
			BalanceSheetHistoryQuarterly struct {
				Statements []map[string]json.RawMessage `json:"balanceSheetStatements"`
			} `json:"balanceSheetHistoryQuarterly"`
			CashflowStatementHistoryQuarterly struct {
				Statements []map[string]json.RawMessage `json:"cashflowStatements"`
			} `json:"cashflowStatementHistoryQuarterly"`
			Earnings struct {
				EarningsChart struct {
					Quarterly []struct {
						Date     string     `json:"date"`
						Actual   yahooValue `json:"actual"`
						Estimate yahooValue `json:"estimate"`
					} `json:"quarterly"`
				} `json:"earningsChart"`
			} `json:"earnings"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

const fundamentalsModules = "assetProfile,price,incomeStatementHistoryQuarterly,balanceSheetHistoryQuarterly,cashflowStatementHistoryQuarterly,earnings"

// Candles returns OHLCV bars for symbol. Bars with a missing close are skipped.
func (c *Client) Candles(ctx context.Context, symbol, interval, rng string) ([]Candle, error) {
	key := cache.Key("market", "candles", symbol, interval, rng)
	return cache.Fetch(ctx, c.store, key, c.cacheTTL, func(ctx context.Context) ([]Candle, error) {
		resp, err := c.chart(ctx, symbol, interval, rng)
		if err != nil {
			return nil, err
		}
		return candlesFromChart(resp), nil
	})
}

// Quote returns the latest price snapshot from the chart metadata
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := cache.Key("market", "quote", symbol)
	return cache.Fetch(ctx, c.store, key, c.cacheTTL, func(ctx context.Context) (*Quote, error) {
		resp, err := c.chart(ctx, symbol, "1d", "5d")
		if err != nil {
			return nil, err
		}
		meta := resp.Chart.Result[0].Meta

		prev := meta.PreviousClose
		if prev == 0 {
			prev = meta.ChartPreviousClose
		}
		changePct := 0.0
		if prev > 0 {
			changePct = (meta.RegularMarketPrice - prev) / prev * 100
		}
		name := meta.LongName
		if name == "" {
			name = meta.ShortName
		}

		return &Quote{
			Symbol:        meta.Symbol,
			Name:          name,
			Currency:      meta.Currency,
			Exchange:      meta.ExchangeName,
			Price:         meta.RegularMarketPrice,
			PreviousClose: prev,
			ChangePct:     changePct,
			AsOf:          time.Unix(meta.RegularMarketTime, 0).UTC(),
		}, nil
	})
}

// News returns recent headlines matching query, newest first
func (c *Client) News(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	key := cache.Key("market", "news", query, strconv.Itoa(limit))
	return cache.Fetch(ctx, c.store, key, c.cacheTTL, func(ctx context.Context) ([]NewsItem, error) {
		params := url.Values{}
		params.Set("q", query)
		params.Set("quotesCount", "0")
		params.Set("newsCount", strconv.Itoa(limit))

		var resp searchResponse
		if err := c.get(ctx, c.searchURL, "/v1/finance/search", params, &resp); err != nil {
			return nil, err
		}

		items := make([]NewsItem, 0, len(resp.News))
		for _, n := range resp.News {
			if strings.TrimSpace(n.Title) == "" {
				continue
			}
			items = append(items, NewsItem{
				Title:       n.Title,
				Publisher:   n.Publisher,
				Link:        n.Link,
				PublishedAt: time.Unix(n.ProviderPublishTime, 0).UTC(),
			})
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		})
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	})
}

// Fundamentals returns the company profile, quarterly statements and earnings history
func (c *Client) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	key := cache.Key("market", "fundamentals", symbol)
	return cache.Fetch(ctx, c.store, key, c.cacheTTL, func(ctx context.Context) (*Fundamentals, error) {
		params := url.Values{}
		params.Set("modules", fundamentalsModules)
		if c.crumb != "" {
			params.Set("crumb", c.crumb)
		}

		var resp quoteSummaryResponse
		if err := c.get(ctx, c.baseURL, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &resp); err != nil {
			return nil, err
		}
		if resp.QuoteSummary.Error != nil {
			return nil, fmt.Errorf("quoteSummary %s: %s", resp.QuoteSummary.Error.Code, resp.QuoteSummary.Error.Description)
		}
		if len(resp.QuoteSummary.Result) == 0 {
			return nil, fmt.Errorf("quoteSummary returned no result for %s", symbol)
		}
		r := resp.QuoteSummary.Result[0]

		name := r.Price.LongName
		if name == "" {
			name = r.Price.ShortName
		}
		f := &Fundamentals{
			Profile: CompanyProfile{
				Symbol:    symbol,
				Name:      name,
				Sector:    r.AssetProfile.Sector,
				Industry:  r.AssetProfile.Industry,
				Country:   r.AssetProfile.Country,
				Website:   r.AssetProfile.Website,
				Summary:   r.AssetProfile.LongBusinessSummary,
				Employees: r.AssetProfile.FullTimeEmployees,
				Currency:  r.Price.Currency,
			},
			Income:   statementRows(r.IncomeStatementHistoryQuarterly.Statements),
			Balance:  statementRows(r.BalanceSheetHistoryQuarterly.Statements),
			Cashflow: statementRows(r.CashflowStatementHistoryQuarterly.Statements),
			AsOf:     time.Now().UTC(),
		}
		for _, q := range r.Earnings.EarningsChart.Quarterly {
			f.Earnings = append(f.Earnings, EarningsEvent{
				Period:   q.Date,
				Actual:   q.Actual.Raw,
				Estimate: q.Estimate.Raw,
			})
		}
		return f, nil
	})
}

func (c *Client) chart(ctx context.Context, symbol, interval, rng string) (*chartResponse, error) {
	params := url.Values{}
	params.Set("interval", interval)
	params.Set("range", rng)
	params.Set("includePrePost", "false")

	var resp chartResponse
	if err := c.get(ctx, c.baseURL, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart returned no result for %s", symbol)
	}
	return &resp, nil
}

func candlesFromChart(resp *chartResponse) []Candle {
	r := resp.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]

	candles := make([]Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		closeVal := at(q.Close, i)
		if closeVal == nil {
			continue
		}
		candles = append(candles, Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   deref(at(q.Open, i)),
			High:   deref(at(q.High, i)),
			Low:    deref(at(q.Low, i)),
			Close:  *closeVal,
			Volume: deref(at(q.Volume, i)),
		})
	}
	return candles
}

// statementRows flattens quoteSummary statement entries into end-date keyed value maps
func statementRows(statements []map[string]json.RawMessage) []StatementRow {
	rows := make([]StatementRow, 0, len(statements))
	for _, st := range statements {
		row := StatementRow{Values: make(map[string]float64)}
		for field, raw := range st {
			var v yahooValue
			if err := json.Unmarshal(raw, &v); err != nil {
				continue // maxAge and other scalars
			}
			if field == "endDate" {
				row.EndDate = v.Fmt
				continue
			}
			if v.Raw != nil {
				row.Values[field] = *v.Raw
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
