package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"StockCast/internal/domain/models"
	icache "StockCast/internal/service/cache"
	"StockCast/internal/service/ratelimit"
	"StockCast/internal/services/predictions"
	"StockCast/internal/usecase"
	xhttp "StockCast/pkg/http"
	applogger "StockCast/pkg/logger"
	xutil "StockCast/pkg/util"

	"github.com/labstack/echo/v4"
)

// EstimationsHandler serves the prediction table and the watchlist.
type EstimationsHandler struct {
	uc         *usecase.EstimationUseCase
	watchlist  *usecase.Watchlist
	cache      icache.BytesCache
	cacheTTL   time.Duration
	rl         *ratelimit.Limiter
	runTimeout time.Duration
	l          *applogger.Logger
}

func NewEstimationsHandler(uc *usecase.EstimationUseCase, watchlist *usecase.Watchlist) *EstimationsHandler {
	return &EstimationsHandler{
		uc:         uc,
		watchlist:  watchlist,
		cacheTTL:   5 * time.Minute,
		rl:         ratelimit.New(2, 1.0/60),
		runTimeout: 10 * time.Minute,
	}
}

// SetCache enables response caching of the read endpoints.
func (h *EstimationsHandler) SetCache(c icache.BytesCache, ttl time.Duration) {
	h.cache = c
	if ttl > 0 {
		h.cacheTTL = ttl
	}
}

func (h *EstimationsHandler) SetRateLimiter(rl *ratelimit.Limiter) { h.rl = rl }

func (h *EstimationsHandler) SetRunTimeout(d time.Duration) {
	if d > 0 {
		h.runTimeout = d
	}
}

// SetLogger injects a structured logger.
func (h *EstimationsHandler) SetLogger(l *applogger.Logger) { h.l = l }

func (h *EstimationsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/estimations", h.List)
	g.GET("/estimations/:symbol", h.Instrument)
	g.POST("/estimations/update", h.Update)
	g.DELETE("/estimations", h.Reset)
	g.GET("/tickers", h.Tickers)
	g.POST("/tickers", h.AddTicker)
}

// List returns {symbol: {date: {column: value}}} with null columns omitted.
func (h *EstimationsHandler) List(c echo.Context) error {
	req := &models.EstimationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rng, appErr := xhttp.ParseTimeRange(req.From, req.To)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	symbols := xutil.SplitList(req.Symbols)
	unfiltered := len(symbols) == 0 && rng.From == nil && rng.To == nil

	ctx := c.Request().Context()
	if unfiltered {
		if b, ok := h.cached(ctx, usecase.CacheKeyAll); ok {
			return h.raw(c, b, true)
		}
	}

	var from, to time.Time
	if rng.From != nil {
		from = *rng.From
	}
	if rng.To != nil {
		to = *rng.To
	}
	recs, err := h.uc.Predictions(ctx, symbols, from, to)
	if err != nil {
		return h.fail(c, "list estimations", err)
	}
	b, err := json.Marshal(predictions.NestedView(recs))
	if err != nil {
		return h.fail(c, "encode estimations", err)
	}
	if unfiltered {
		h.store(ctx, usecase.CacheKeyAll, b)
	}
	return h.raw(c, b, false)
}

// Instrument returns {date: {column: value}} for one symbol.
func (h *EstimationsHandler) Instrument(c echo.Context) error {
	req := &models.InstrumentEstimationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	key := usecase.InstrumentCacheKey(req.Symbol)
	if b, ok := h.cached(ctx, key); ok {
		return h.raw(c, b, true)
	}

	rows, err := h.uc.ForInstrument(ctx, req.Symbol)
	if err != nil {
		return h.fail(c, "instrument estimations", err)
	}
	b, err := json.Marshal(predictions.InstrumentView(rows))
	if err != nil {
		return h.fail(c, "encode estimations", err)
	}
	h.store(ctx, key, b)
	return h.raw(c, b, false)
}

// Update runs the estimation pipeline and reports per-instrument outcomes.
// The run outlives a disconnecting client but not runTimeout.
func (h *EstimationsHandler) Update(c echo.Context) error {
	if h.rl != nil && !h.rl.Allow(c.RealIP()) {
		if h.l != nil {
			h.l.Warn("estimations.update rate_limited", applogger.String("remote", c.RealIP()))
		}
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("estimation updates are rate limited"))
	}
	req := &models.UpdateEstimationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), h.runTimeout)
	defer cancel()
	report, err := h.uc.Run(ctx, usecase.RunParams{
		Symbols:  req.Symbols,
		Reset:    req.Reset,
		Backtest: req.Mode == "backtest",
	})
	if err != nil {
		return h.fail(c, "update estimations", err)
	}
	return xhttp.SuccessResponse(c, models.UpdateEstimationsResponse{
		RunID:         report.RunID,
		Succeeded:     report.Succeeded,
		Failures:      report.Failures,
		Records:       report.Records,
		UsingDatabase: report.UsedFallback(),
	})
}

// Reset clears every stored prediction.
func (h *EstimationsHandler) Reset(c echo.Context) error {
	if err := h.uc.Reset(c.Request().Context()); err != nil {
		return h.fail(c, "reset estimations", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *EstimationsHandler) Tickers(c echo.Context) error {
	list, err := h.watchlist.List(c.Request().Context())
	if err != nil {
		return h.fail(c, "list tickers", err)
	}
	return xhttp.SuccessResponse(c, list)
}

func (h *EstimationsHandler) AddTicker(c echo.Context) error {
	req := &models.AddTickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym, err := h.watchlist.Add(c.Request().Context(), req.Ticker)
	if err != nil {
		return h.fail(c, "add ticker", err)
	}
	return xhttp.CreatedResponse(c, map[string]string{"ticker": sym})
}

func (h *EstimationsHandler) cached(ctx context.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.GetBytes(ctx, key)
	if err != nil {
		if h.l != nil {
			h.l.Warn("cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	return b, ok
}

func (h *EstimationsHandler) store(ctx context.Context, key string, b []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetBytes(ctx, key, b, h.cacheTTL); err != nil && h.l != nil {
		h.l.Warn("cache write failed", applogger.String("key", key), applogger.Error(err))
	}
}

func (h *EstimationsHandler) raw(c echo.Context, b []byte, hit bool) error {
	state := "MISS"
	if hit {
		state = "HIT"
	}
	c.Response().Header().Set("X-Cache", state)
	return xhttp.SuccessResponse(c, json.RawMessage(b))
}

func (h *EstimationsHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if h.l != nil && appErr.Status >= http.StatusInternalServerError {
		h.l.Error(op+" failed", applogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrTickerNotFound):
		return xhttp.NotFoundErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, models.ErrTickerExists):
		return xhttp.ConflictErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrRunInProgress):
		return xhttp.ConflictErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.NewAppError("ERR_TIMEOUT", "", "operation timed out", http.StatusGatewayTimeout).WithError(err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}
