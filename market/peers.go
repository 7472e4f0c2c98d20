package market

import "strings"

// MaxPeers bounds the peer list handed to the collector
const MaxPeers = 8

// peerTable is a small fixed industry grouping. Unknown symbols have no peers.
var peerTable = map[string][]string{
	// US mega-cap tech
	"AAPL":  {"MSFT", "GOOGL", "AMZN", "META", "SONY", "DELL", "HPQ"},
	"MSFT":  {"AAPL", "GOOGL", "AMZN", "ORCL", "CRM", "IBM", "ADBE"},
	"GOOGL": {"MSFT", "META", "AMZN", "AAPL", "BIDU", "SNAP", "PINS"},
	"AMZN":  {"WMT", "BABA", "MSFT", "GOOGL", "EBAY", "SHOP", "TGT"},
	"META":  {"GOOGL", "SNAP", "PINS", "RDDT", "MSFT", "AMZN"},
	"TSLA":  {"GM", "F", "RIVN", "LCID", "TM", "NIO", "BYDDY"},

	// Semiconductors
	"NVDA": {"AMD", "INTC", "AVGO", "QCOM", "TSM", "MU", "ARM", "MRVL"},
	"AMD":  {"NVDA", "INTC", "QCOM", "AVGO", "MU", "ARM"},
	"INTC": {"AMD", "NVDA", "TSM", "QCOM", "MU", "TXN"},
	"TSM":  {"INTC", "SSNLF", "UMC", "GFS", "ASML"},

	// Korea
	"005930.KS": {"000660.KS", "066570.KS", "009150.KS", "AAPL", "MU", "TSM"},
	"000660.KS": {"005930.KS", "MU", "WDC", "STX"},
	"035420.KS": {"035720.KS", "GOOGL", "META"},
	"035720.KS": {"035420.KS", "GOOGL", "META"},
	"005380.KS": {"000270.KS", "TM", "HMC", "GM", "F"},
	"000270.KS": {"005380.KS", "TM", "HMC", "GM", "F"},

	// Financials
	"JPM": {"BAC", "WFC", "C", "GS", "MS", "USB"},
	"BAC": {"JPM", "WFC", "C", "USB", "PNC"},
	"GS":  {"MS", "JPM", "C", "SCHW"},
}

// Peers returns up to MaxPeers peer symbols for symbol
func Peers(symbol string) []string {
	peers := peerTable[strings.ToUpper(strings.TrimSpace(symbol))]
	if len(peers) > MaxPeers {
		peers = peers[:MaxPeers]
	}
	out := make([]string, len(peers))
	copy(out, peers)
	return out
}
