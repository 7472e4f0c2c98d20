package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finexplain/market"
)

func linear(n int, first, last float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = first + (last-first)*float64(i)/float64(n-1)
	}
	return closes
}

func TestDeriveBehaviorClassification(t *testing.T) {
	tests := []struct {
		name       string
		closes     []float64
		trend      string
		volatility string
	}{
		{"flat series", linear(20, 100, 100), TrendSideways, VolatilityLow},
		{"exactly +4 percent is not up", linear(20, 100, 104), TrendSideways, VolatilityLow},
		{"exactly -4 percent is not down", linear(20, 100, 96), TrendSideways, VolatilityLow},
		{"above +4 percent", linear(20, 100, 104.5), TrendUp, VolatilityLow},
		{"below -4 percent", linear(20, 100, 95.5), TrendDown, VolatilityLow},
		{"choppy", []float64{100, 110, 100, 110, 100, 110, 100, 110, 100, 110, 100}, TrendSideways, VolatilityHigh},
		{"moderate swings", []float64{100, 102, 100, 102, 100, 102, 100, 102, 100, 102, 100}, TrendSideways, VolatilityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DeriveBehavior(tt.closes)
			assert.False(t, b.Insufficient)
			assert.Equal(t, tt.trend, b.Trend)
			assert.Equal(t, tt.volatility, b.Volatility)
		})
	}
}

func TestDeriveBehaviorInsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
	}{
		{"empty", nil},
		{"nine closes", linear(9, 100, 200)},
		{"invalid closes do not count", append(linear(9, 100, 200), 0, -1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DeriveBehavior(tt.closes)
			assert.True(t, b.Insufficient)
			assert.Equal(t, InsufficientData, b.Trend)
			assert.Equal(t, InsufficientData, b.Volatility)
		})
	}
}

func TestBehaviorFromCandlesKeepsRecent(t *testing.T) {
	candles := make([]market.Candle, 150)
	for i := range candles {
		candles[i] = market.Candle{Close: float64(100 + i)}
	}
	p := BehaviorFromCandles(candles)
	require.Len(t, p.Candles, MaxPayloadCandles)
	assert.Equal(t, 249.0, p.Candles[len(p.Candles)-1].Close)
	assert.Equal(t, TrendUp, p.Behavior.Trend)
}

func TestInputHashIsOrderIndependent(t *testing.T) {
	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := NewDocument("AAPL", DocNews, "recent", "yahoo", asOf, nil)
	b := NewDocument("AAPL", DocCompanyProfile, "latest", "yahoo", asOf, nil)
	c := NewDocument("AAPL", DocMarketBehavior, "1d_6mo", "yahoo", asOf, nil)

	h1 := InputHash("AAPL", "q", "rag-v1", []Document{a, b, c})
	h2 := InputHash("AAPL", "q", "rag-v1", []Document{c, a, b})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	assert.NotEqual(t, h1, InputHash("AAPL", "other", "rag-v1", []Document{a, b, c}))
	assert.NotEqual(t, h1, InputHash("AAPL", "q", "rag-v2", []Document{a, b, c}))

	later := NewDocument("AAPL", DocNews, "recent", "yahoo", asOf.Add(time.Hour), nil)
	assert.NotEqual(t, h1, InputHash("AAPL", "q", "rag-v1", []Document{later, b, c}))

	// payload is not part of identity
	withPayload := NewDocument("AAPL", DocNews, "recent", "yahoo", asOf, []market.NewsItem{{Title: "x"}})
	assert.Equal(t, h1, InputHash("AAPL", "q", "rag-v1", []Document{withPayload, b, c}))
}

func TestMinimizeBoundsPayloads(t *testing.T) {
	asOf := time.Now()
	news := make([]market.NewsItem, 30)
	candles := make([]market.Candle, 120)
	peers := PeerComparisonPayload{Peers: make([]string, 10), Quotes: make([]market.Quote, 15)}

	full := Build("rag-v1", "aapl", []Document{
		NewDocument("AAPL", DocNews, "recent", "yahoo", asOf, news),
		NewDocument("AAPL", DocMarketBehavior, "1d_6mo", "yahoo", asOf, MarketBehaviorPayload{Candles: candles}),
		NewDocument("AAPL", DocPeerComparison, "latest", "yahoo", asOf, peers),
	}, asOf)

	min := Minimize(full)
	require.Len(t, min.Docs, 3)
	assert.Len(t, min.Docs[0].Payload.([]market.NewsItem), MaxStoredNews)
	assert.Len(t, min.Docs[1].Payload.(MarketBehaviorPayload).Candles, MaxStoredCandles)
	assert.Len(t, min.Docs[2].Payload.(PeerComparisonPayload).Peers, MaxStoredPeers)
	assert.Len(t, min.Docs[2].Payload.(PeerComparisonPayload).Quotes, MaxStoredQuotes)

	// the full bundle is untouched
	assert.Len(t, full.Docs[0].Payload.([]market.NewsItem), 30)
	assert.Len(t, full.Docs[1].Payload.(MarketBehaviorPayload).Candles, 120)
}

func TestPromptViewDropsCandles(t *testing.T) {
	asOf := time.Now()
	candles := make([]market.Candle, 120)
	for i := range candles {
		candles[i] = market.Candle{Close: 100 + float64(i)}
	}
	payload := BehaviorFromCandles(candles)
	full := Build("rag-v1", "AAPL", []Document{
		NewDocument("AAPL", DocMarketBehavior, "1d_6mo", "yahoo", asOf, payload),
	}, asOf)

	view := PromptView(full)
	got := view.Docs[0].Payload.(MarketBehaviorPayload)
	assert.Empty(t, got.Candles)
	assert.Equal(t, payload.Behavior, got.Behavior)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "candles")

	assert.NotEmpty(t, full.Docs[0].Payload.(MarketBehaviorPayload).Candles)
}

func TestBuildOrdersByType(t *testing.T) {
	asOf := time.Now()
	b := Build("rag-v1", "aapl", []Document{
		NewDocument("AAPL", DocPeerComparison, "latest", "yahoo", asOf, nil),
		NewDocument("AAPL", DocCompanyProfile, "latest", "yahoo", asOf, nil),
		NewDocument("AAPL", DocNews, "recent", "yahoo", asOf, nil),
	}, asOf)

	assert.Equal(t, "AAPL", b.Symbol)
	assert.Equal(t, []string{"AAPL/company_profile/latest", "AAPL/news/recent", "AAPL/peer_comparison/latest"}, b.Meta(nil).DocIDs)
	assert.Contains(t, b.Meta(nil).Missing, DocIncomeStatement)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab"+TruncationMarker, Truncate("abc", 2))
	assert.Equal(t, "한글"+TruncationMarker, Truncate("한글입니다", 2))

	s, err := TruncatedJSON(map[string]string{"k": strings.Repeat("x", 100)}, 10)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, TruncationMarker))
}

func TestCompactRefsRespectsBudget(t *testing.T) {
	asOf := time.Now()
	var docs []Document
	for i := 0; i < 50; i++ {
		docs = append(docs, NewDocument("AAPL", DocNews, strings.Repeat("p", i+1), "yahoo", asOf, nil))
	}
	refs := CompactRefs(Build("rag-v1", "AAPL", docs, asOf), 500)
	assert.LessOrEqual(t, len([]rune(refs)), 500)
	assert.NotEmpty(t, refs)
}

type fakeSource struct {
	mu           sync.Mutex
	newsErr      error
	candlesErr   error
	quoteCalls   int
	fundamentals *market.Fundamentals
}

func (f *fakeSource) Fundamentals(context.Context, string) (*market.Fundamentals, error) {
	if f.fundamentals == nil {
		return nil, errors.New("fundamentals down")
	}
	return f.fundamentals, nil
}

func (f *fakeSource) News(context.Context, string, int) ([]market.NewsItem, error) {
	if f.newsErr != nil {
		return nil, f.newsErr
	}
	return []market.NewsItem{{Title: "headline"}}, nil
}

func (f *fakeSource) Candles(context.Context, string, string, string) ([]market.Candle, error) {
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	candles := make([]market.Candle, 30)
	for i := range candles {
		candles[i] = market.Candle{Close: 100}
	}
	return candles, nil
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (*market.Quote, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()
	if symbol == "BAD" {
		return nil, errors.New("no quote")
	}
	return &market.Quote{Symbol: symbol, Price: 1}, nil
}

func TestCollectToleratesPartialFailure(t *testing.T) {
	src := &fakeSource{
		newsErr: errors.New("news down"),
		fundamentals: &market.Fundamentals{
			Profile: market.CompanyProfile{Symbol: "AAPL"},
			Income:  []market.StatementRow{{EndDate: "2024-03-31"}},
		},
	}
	c := NewCollector(src, WithPeerLookup(func(string) []string { return []string{"MSFT", "BAD"} }))

	got := c.Collect(context.Background(), "AAPL")

	types := map[DocType]bool{}
	for _, d := range got.Docs {
		types[d.Type] = true
	}
	assert.True(t, types[DocCompanyProfile])
	assert.True(t, types[DocIncomeStatement])
	assert.True(t, types[DocMarketBehavior])
	assert.True(t, types[DocPeerComparison])
	assert.False(t, types[DocNews])
	assert.Contains(t, got.Failed, "news")
	assert.Equal(t, 3, src.quoteCalls)

	for _, d := range got.Docs {
		if d.Type == DocPeerComparison {
			assert.Len(t, d.Payload.(PeerComparisonPayload).Quotes, 2)
		}
		if d.Type == DocIncomeStatement {
			assert.Equal(t, "AAPL/income_statement/2024-03-31", d.DocID)
		}
	}
}

func TestCollectAllSourcesDown(t *testing.T) {
	src := &fakeSource{newsErr: errors.New("x"), candlesErr: errors.New("y")}
	c := NewCollector(src, WithPeerLookup(func(string) []string { return nil }))

	got := c.Collect(context.Background(), "ZZZ")
	assert.Empty(t, got.Docs)
	assert.Len(t, got.Failed, 3)
}
