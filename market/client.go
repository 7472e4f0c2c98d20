package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"finexplain/cache"
)

const (
	// DefaultBaseURL serves chart and quoteSummary endpoints
	DefaultBaseURL = "https://query2.finance.yahoo.com"

	// DefaultSearchURL serves the search (news) endpoint
	DefaultSearchURL = "https://query1.finance.yahoo.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 15 * time.Second

	// DefaultRateLimit is requests per second across all endpoints
	DefaultRateLimit = 5

	// DefaultCacheTTL bounds how long provider responses are reused
	DefaultCacheTTL = 60 * time.Second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// Client fetches quotes, fundamentals, news and candles from Yahoo-style endpoints.
// Every method is a single request without internal retries.
type Client struct {
	baseURL    string
	searchURL  string
	crumb      string
	cookie     string
	httpClient *http.Client
	limiter    *rate.Limiter
	store      cache.Store
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithBaseURL sets the chart/quoteSummary base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithSearchURL sets the search base URL
func WithSearchURL(searchURL string) ClientOption {
	return func(c *Client) {
		c.searchURL = strings.TrimRight(searchURL, "/")
	}
}

// WithCredentials passes a pre-acquired crumb and cookie through to quoteSummary
func WithCredentials(crumb, cookie string) ClientOption {
	return func(c *Client) {
		c.crumb = crumb
		c.cookie = cookie
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets a custom rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithCache sets the response cache and its TTL
func WithCache(store cache.Store, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.store = store
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a market data client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		searchURL: DefaultSearchURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		cacheTTL: DefaultCacheTTL,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// get performs a GET request and decodes the JSON body into result
func (c *Client) get(ctx context.Context, base, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := base + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	c.logger.Debug("market API request", zap.String("url", base+path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
