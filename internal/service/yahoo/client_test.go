package yahoo

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"StockCast/internal/domain/models"
	pkghttp "StockCast/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"AAPL","gmtoffset":-18000},
"timestamp":[1704205800,1704292200,1704378600],
"indicators":{"quote":[{"open":[187.1,184.2,182.1],"high":[188.4,185.8,183.0],"low":[183.8,183.4,180.8],
"close":[185.6,null,181.9],"volume":[82488700,58414500,71983600]}],
"adjclose":[{"adjclose":[184.9,null,181.2]}]}}],"error":null}}`

func TestGetDailyBars(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	c := NewClient(pkghttp.NewClient(), WithBaseURL(srv.URL))
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := c.GetDailyBars(context.Background(), "AAPL", from, from.AddDate(0, 0, 7))
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1d", gotInterval)
	assert.Equal(t, "yahoo", s.Source)
	require.Len(t, s.Bars, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.Bars[0].Date)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), s.Bars[2].Date)
	assert.Equal(t, 185.6, s.Bars[0].Close)
	assert.True(t, math.IsNaN(s.Bars[1].Close), "null close becomes NaN")
	assert.False(t, s.Bars[1].HasClose())
	assert.Equal(t, 184.9, s.Bars[0].AdjClose)
}

func TestGetDailyBarsMapsSymbols(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	c := NewClient(pkghttp.NewClient(), WithBaseURL(srv.URL))
	_, err := c.GetDailyBars(context.Background(), "SPX", time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/^GSPC", gotPath)
}

func TestGetDailyBarsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	c := NewClient(pkghttp.NewClient(), WithBaseURL(srv.URL))
	_, err := c.GetDailyBars(context.Background(), "ZZZZ", time.Now().AddDate(0, -1, 0), time.Now())
	assert.ErrorIs(t, err, models.ErrTickerNotFound)
}

func TestGetDailyBarsUpstreamError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(pkghttp.NewClient(pkghttp.WithRetry(1, time.Millisecond)), WithBaseURL(srv.URL))
	_, err := c.GetDailyBars(context.Background(), "AAPL", time.Now().AddDate(0, -1, 0), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrTickerNotFound)
	assert.Equal(t, 2, calls, "5xx is retried once")
}
