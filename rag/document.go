package rag

import (
	"fmt"
	"strings"
	"time"
)

// DocType is the kind of source data a Document carries
type DocType string

const (
	DocCompanyProfile  DocType = "company_profile"
	DocIncomeStatement DocType = "income_statement"
	DocBalanceSheet    DocType = "balance_sheet"
	DocCashflow        DocType = "cashflow"
	DocEarningsEvent   DocType = "earnings_event"
	DocNews            DocType = "news"
	DocMarketBehavior  DocType = "market_behavior"
	DocPeerComparison  DocType = "peer_comparison"
)

// docOrder is the order documents appear in a bundle
var docOrder = []DocType{
	DocCompanyProfile,
	DocIncomeStatement,
	DocBalanceSheet,
	DocCashflow,
	DocEarningsEvent,
	DocNews,
	DocMarketBehavior,
	DocPeerComparison,
}

// Document is one normalized, immutable unit of source data.
// Identity is DocID + AsOf.
type Document struct {
	DocID   string    `json:"doc_id"`
	Symbol  string    `json:"symbol"`
	Type    DocType   `json:"type"`
	Period  string    `json:"period"`
	Source  string    `json:"source"`
	AsOf    time.Time `json:"asOf"`
	Payload any       `json:"payload"`
}

// DocID builds the stable "{symbol}/{type}/{period}" identifier
func DocID(symbol string, t DocType, period string) string {
	if period == "" {
		period = "latest"
	}
	return fmt.Sprintf("%s/%s/%s", strings.ToUpper(symbol), t, period)
}

// NewDocument creates a Document with its stable id
func NewDocument(symbol string, t DocType, period, source string, asOf time.Time, payload any) Document {
	if period == "" {
		period = "latest"
	}
	return Document{
		DocID:   DocID(symbol, t, period),
		Symbol:  strings.ToUpper(symbol),
		Type:    t,
		Period:  period,
		Source:  source,
		AsOf:    asOf.UTC(),
		Payload: payload,
	}
}
