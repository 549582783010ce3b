package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/httputil"
	"github.com/wonny/scorebt/pkg/logger"
)

// Client fetches historical daily closes from Financial Modeling Prep.
// It implements contracts.PriceProvider and contracts.RangeProvider.
// ⭐ SSOT: FMP API calls go through this client only
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	limiter      httputil.Limiter
	baseURL      string
	apiKey       string
	lookbackDays int
}

// APIError represents a non-2xx answer from FMP
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("FMP API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// historicalResponse is the body of /api/v3/historical-price-full/{symbol}.
// An unknown symbol or empty window comes back as {}.
type historicalResponse struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date  string          `json:"date"`
		Close decimal.Decimal `json:"close"`
	} `json:"historical"`
}

// NewClient creates a new FMP client with a local token bucket of cfg.RateLimit req/s
func NewClient(httpClient *httputil.Client, cfg config.FMPConfig, log *logger.Logger) *Client {
	perSecond := cfg.RateLimit
	if perSecond <= 0 {
		perSecond = 5
	}
	return &Client{
		httpClient:   httpClient,
		logger:       log,
		limiter:      rate.NewLimiter(rate.Limit(perSecond), perSecond),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		lookbackDays: cfg.LookbackDays,
	}
}

// WithLimiter replaces the local limiter, e.g. with a Redis limiter shared across processes
func (c *Client) WithLimiter(limiter httputil.Limiter) *Client {
	c.limiter = limiter
	return c
}

// Price returns the close on date. With a lookback of N days the latest close in
// [date-N, date] is used instead, covering weekends and holidays.
func (c *Client) Price(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	from := date.AddDate(0, 0, -c.lookbackDays)
	series, err := c.historical(ctx, symbol, from, date)
	if err != nil {
		return decimal.Zero, false, err
	}

	target := date.Format(contracts.DateLayout)
	best := ""
	var price decimal.Decimal
	for day, close := range series {
		if day <= target && day > best {
			best, price = day, close
		}
	}
	if best == "" {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"date":   target,
		}).Debug("No FMP price")
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

// Range returns every close in [from, to] keyed by YYYY-MM-DD
func (c *Client) Range(ctx context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error) {
	return c.historical(ctx, symbol, from, to)
}

func (c *Client) historical(ctx context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("from", from.Format(contracts.DateLayout))
	params.Set("to", to.Format(contracts.DateLayout))
	params.Set("apikey", c.apiKey)

	path := "/api/v3/historical-price-full/" + url.PathEscape(symbol)

	var body historicalResponse
	if err := c.get(ctx, path, params, &body); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(body.Historical))
	for _, h := range body.Historical {
		if _, err := time.Parse(contracts.DateLayout, h.Date); err != nil {
			return nil, fmt.Errorf("fmp %s: bad date %q", symbol, h.Date)
		}
		if !h.Close.IsPositive() {
			continue
		}
		out[h.Date] = h.Close
	}
	return out, nil
}

// get performs a rate-limited GET request and decodes the JSON body
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.httpClient.Get(ctx, c.baseURL+path+"?"+params.Encode())
	if err != nil {
		return fmt.Errorf("fmp request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
