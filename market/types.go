package market

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is a point-in-time price snapshot for a symbol
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Exchange      string    `json:"exchange,omitempty"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	ChangePct     float64   `json:"change_pct"`
	AsOf          time.Time `json:"as_of"`
}

// NewsItem is one headline from the news search provider
type NewsItem struct {
	Title       string    `json:"title"`
	Publisher   string    `json:"publisher,omitempty"`
	Link        string    `json:"link,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// CompanyProfile describes the issuer
type CompanyProfile struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Country   string `json:"country,omitempty"`
	Website   string `json:"website,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Employees int    `json:"employees,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// StatementRow is one reporting period of a financial statement
type StatementRow struct {
	EndDate string             `json:"end_date"`
	Values  map[string]float64 `json:"values"`
}

// EarningsEvent is one reported (or scheduled) earnings quarter
type EarningsEvent struct {
	Period   string   `json:"period"`
	Actual   *float64 `json:"actual,omitempty"`
	Estimate *float64 `json:"estimate,omitempty"`
}

// Fundamentals bundles the profile, quarterly statements and earnings history
type Fundamentals struct {
	Profile  CompanyProfile  `json:"profile"`
	Income   []StatementRow  `json:"income"`
	Balance  []StatementRow  `json:"balance"`
	Cashflow []StatementRow  `json:"cashflow"`
	Earnings []EarningsEvent `json:"earnings"`
	AsOf     time.Time       `json:"as_of"`
}

// APIError is a non-200 response from the market data provider
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market API error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}
