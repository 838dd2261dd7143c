// Package yahoo reads daily bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	pkghttp "StockCast/pkg/http"
	applogger "StockCast/pkg/logger"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSymbolMap maps internal symbols to Yahoo tickers (e.g. SPX -> ^GSPC).
func WithSymbolMap(m map[string]string) Option {
	return func(c *Client) {
		for k, v := range m {
			c.symbols[k] = v
		}
	}
}

// Client implements repository.PriceSource.
type Client struct {
	http    *pkghttp.Client
	baseURL string
	symbols map[string]string
	l       *applogger.Logger
}

var _ domrepo.PriceSource = (*Client)(nil)

// NewClient creates a chart API client on top of the shared HTTP client.
func NewClient(httpClient *pkghttp.Client, opts ...Option) *Client {
	c := &Client{
		http:    httpClient,
		baseURL: defaultBaseURL,
		symbols: map[string]string{"SPX": "^GSPC", "SP500": "^GSPC"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger injects a structured logger.
func (c *Client) SetLogger(l *applogger.Logger) { c.l = l }

func (c *Client) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
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
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyBars fetches daily bars in [from, to]. Dates are the exchange-local
// trading day at UTC midnight. Null quotes become NaN.
func (c *Client) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	start := time.Now()
	ticker := c.ticker(symbol)
	opts := &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/v8/finance/chart/%s", c.baseURL, url.PathEscape(ticker)),
		QueryParams: map[string][]string{
			"interval": {"1d"},
			"period1":  {strconv.FormatInt(from.Unix(), 10)},
			"period2":  {strconv.FormatInt(to.Unix(), 10)},
			"events":   {"div,splits"},
		},
		Headers: map[string]string{"User-Agent": "Mozilla/5.0"},
	}

	var resp chartResponse
	if err := c.http.SendAndParse(ctx, opts, &resp); err != nil {
		var se *pkghttp.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("yahoo %s: %w", symbol, models.ErrTickerNotFound)
		}
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	if e := resp.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("yahoo %s: %w", symbol, models.ErrTickerNotFound)
		}
		return nil, fmt.Errorf("yahoo %s: api error: %s", symbol, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, models.ErrTickerNotFound)
	}

	res := resp.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo %s: response has no quotes", symbol)
	}
	q := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	series := &models.PriceSeries{Symbol: symbol, Source: c.Name(), Bars: make([]models.PriceBar, 0, len(res.Timestamp))}
	for i, ts := range res.Timestamp {
		local := time.Unix(ts+res.Meta.GMTOffset, 0).UTC()
		y, m, d := local.Date()
		series.Bars = append(series.Bars, models.PriceBar{
			Date:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Open:     at(q.Open, i),
			High:     at(q.High, i),
			Low:      at(q.Low, i),
			Close:    at(q.Close, i),
			AdjClose: at(adj, i),
			Volume:   at(q.Volume, i),
		})
	}

	if c.l != nil {
		c.l.Debug("yahoo daily bars",
			applogger.String("symbol", symbol),
			applogger.String("ticker", ticker),
			applogger.Int("bars", len(series.Bars)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return series, nil
}

func (c *Client) ticker(symbol string) string {
	if mapped, ok := c.symbols[strings.ToUpper(symbol)]; ok {
		return mapped
	}
	return symbol
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return math.NaN()
	}
	return *vals[i]
}
