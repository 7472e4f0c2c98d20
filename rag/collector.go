package rag

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finexplain/market"
)

// Source is the quote/financials, news and OHLCV provider the collector reads from
type Source interface {
	Fundamentals(ctx context.Context, symbol string) (*market.Fundamentals, error)
	News(ctx context.Context, query string, limit int) ([]market.NewsItem, error)
	Candles(ctx context.Context, symbol, interval, rng string) ([]market.Candle, error)
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
}

var errNoPeerQuotes = errors.New("no peer quotes available")

// PeerLookup returns the fixed peer list for a symbol
type PeerLookup func(symbol string) []string

// PeerComparisonPayload is the payload of a peer_comparison Document
type PeerComparisonPayload struct {
	Symbol string         `json:"symbol"`
	Peers  []string       `json:"peers"`
	Quotes []market.Quote `json:"quotes"`
}

// Collection is the result of one collect pass
type Collection struct {
	Docs []Document `json:"docs"`
	// Failed maps a source name to its error for sources that produced nothing
	Failed map[string]string `json:"failed,omitempty"`
}

// Collector fetches all sources for a symbol in parallel and normalizes them into Documents.
// A failing source never aborts the others.
type Collector struct {
	source     Source
	peers      PeerLookup
	sourceName string
	interval   string
	rng        string
	newsLimit  int
	logger     *zap.Logger
	now        func() time.Time
}

// CollectorOption configures the Collector
type CollectorOption func(*Collector)

// WithCandleRange sets the OHLCV interval and range
func WithCandleRange(interval, rng string) CollectorOption {
	return func(c *Collector) {
		if interval != "" {
			c.interval = interval
		}
		if rng != "" {
			c.rng = rng
		}
	}
}

// WithNewsLimit sets how many headlines are requested
func WithNewsLimit(limit int) CollectorOption {
	return func(c *Collector) {
		if limit > 0 {
			c.newsLimit = limit
		}
	}
}

// WithPeerLookup replaces the static peer table
func WithPeerLookup(lookup PeerLookup) CollectorOption {
	return func(c *Collector) {
		if lookup != nil {
			c.peers = lookup
		}
	}
}

// WithCollectorLogger sets a logger
func WithCollectorLogger(logger *zap.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector creates a collector reading from source
func NewCollector(source Source, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:     source,
		peers:      market.Peers,
		sourceName: "yahoo",
		interval:   "1d",
		rng:        "6mo",
		newsLimit:  20,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs the four source fetches concurrently and returns whatever succeeded
func (c *Collector) Collect(ctx context.Context, symbol string) *Collection {
	var (
		mu  sync.Mutex
		out = &Collection{Failed: make(map[string]string)}
	)
	add := func(docs ...Document) {
		mu.Lock()
		out.Docs = append(out.Docs, docs...)
		mu.Unlock()
	}
	fail := func(name string, err error) {
		c.logger.Warn("source fetch failed", zap.String("symbol", symbol), zap.String("source", name), zap.Error(err))
		mu.Lock()
		out.Failed[name] = err.Error()
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		f, err := c.source.Fundamentals(ctx, symbol)
		if err != nil {
			fail("fundamentals", err)
			return nil
		}
		add(c.fundamentalDocs(symbol, f)...)
		return nil
	})

	g.Go(func() error {
		news, err := c.source.News(ctx, symbol, c.newsLimit)
		if err != nil {
			fail("news", err)
			return nil
		}
		if len(news) > 0 {
			add(NewDocument(symbol, DocNews, "recent", c.sourceName, c.now(), news))
		}
		return nil
	})

	g.Go(func() error {
		candles, err := c.source.Candles(ctx, symbol, c.interval, c.rng)
		if err != nil {
			fail("candles", err)
			return nil
		}
		period := c.interval + "_" + c.rng
		add(NewDocument(symbol, DocMarketBehavior, period, c.sourceName, c.now(), BehaviorFromCandles(candles)))
		return nil
	})

	g.Go(func() error {
		doc, err := c.peerDoc(ctx, symbol)
		if err != nil {
			fail("peers", err)
			return nil
		}
		if doc != nil {
			add(*doc)
		}
		return nil
	})

	_ = g.Wait()

	if len(out.Failed) == 0 {
		out.Failed = nil
	}
	c.logger.Debug("collection finished",
		zap.String("symbol", symbol),
		zap.Int("docs", len(out.Docs)),
		zap.Int("failed_sources", len(out.Failed)),
	)
	return out
}

func (c *Collector) fundamentalDocs(symbol string, f *market.Fundamentals) []Document {
	if f == nil {
		return nil
	}
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = c.now()
	}

	docs := []Document{
		NewDocument(symbol, DocCompanyProfile, "latest", c.sourceName, asOf, f.Profile),
	}
	statements := []struct {
		t    DocType
		rows []market.StatementRow
	}{
		{DocIncomeStatement, f.Income},
		{DocBalanceSheet, f.Balance},
		{DocCashflow, f.Cashflow},
	}
	for _, st := range statements {
		if len(st.rows) == 0 {
			continue
		}
		docs = append(docs, NewDocument(symbol, st.t, st.rows[0].EndDate, c.sourceName, asOf, st.rows))
	}
	if len(f.Earnings) > 0 {
		latest := f.Earnings[len(f.Earnings)-1].Period
		docs = append(docs, NewDocument(symbol, DocEarningsEvent, latest, c.sourceName, asOf, f.Earnings))
	}
	return docs
}

// peerDoc quotes the symbol and its peers. Individual quote failures are skipped.
func (c *Collector) peerDoc(ctx context.Context, symbol string) (*Document, error) {
	peers := c.peers(symbol)
	if len(peers) == 0 {
		return nil, nil
	}

	symbols := append([]string{symbol}, peers...)
	quotes := make([]*market.Quote, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, s := range symbols {
		g.Go(func() error {
			q, err := c.source.Quote(gctx, s)
			if err != nil {
				c.logger.Debug("peer quote failed", zap.String("symbol", s), zap.Error(err))
				return nil
			}
			quotes[i] = q
			return nil
		})
	}
	_ = g.Wait()

	payload := PeerComparisonPayload{Symbol: symbol, Peers: peers}
	for _, q := range quotes {
		if q != nil {
			payload.Quotes = append(payload.Quotes, *q)
		}
	}
	if len(payload.Quotes) == 0 {
		return nil, errNoPeerQuotes
	}

	doc := NewDocument(symbol, DocPeerComparison, "latest", c.sourceName, c.now(), payload)
	return &doc, nil
}
