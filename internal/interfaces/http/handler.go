package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	appmarketdata "ohlcv-collector/internal/application/service/marketdata"
	domainmarketdata "ohlcv-collector/internal/domain/entity/marketdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	marketdataBasePath = "/api/v1/marketdata"
	defaultLimit       = 100
	maxLimit           = 1000
)

var errMissingTimeframe = errors.New("timeframe query param required")

// LivenessCheck reports whether a long-running component is still working.
type LivenessCheck func() bool

type Handler struct {
	router     *gin.Engine
	marketdata *appmarketdata.Service
	metrics    http.Handler
	checks     map[string]LivenessCheck
	cache      *redis.Client
	cacheTTL   time.Duration
}

// NewHandler wires the HTTP routes. metrics, checks and cache are optional.
func NewHandler(md *appmarketdata.Service, metrics http.Handler, checks map[string]LivenessCheck, cache *redis.Client, cacheTTL time.Duration) *Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:     router,
		marketdata: md,
		metrics:    metrics,
		checks:     checks,
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		h.router.GET("/metrics", gin.WrapH(h.metrics))
	}

	md := h.router.Group(marketdataBasePath)
	if h.cache != nil {
		md.Use(h.cacheMiddleware())
	}
	{
		candles := md.Group("/candles")
		{
			candles.GET("/last", h.getCandlesLast)
		}
	}
}

// healthz returns 503 when any registered component has stopped.
func (h *Handler) healthz(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(gin.H, len(names))
	for _, name := range names {
		alive := h.checks[name]()
		components[name] = alive
		if !alive {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"alive": status == http.StatusOK, "components": components})
}

// getCandlesLast returns the newest candles of one series, newest first.
func (h *Handler) getCandlesLast(c *gin.Context) {
	instrument := c.Query("instrument")
	if instrument == "" {
		writeError(c, http.StatusBadRequest, appmarketdata.ErrMissingInstrument)
		return
	}
	timeframe := c.Query("timeframe")
	if timeframe == "" {
		writeError(c, http.StatusBadRequest, errMissingTimeframe)
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	candles, err := h.marketdata.GetLastCandles(c.Request.Context(), instrument, timeframe, limit)
	switch {
	case err == nil:
	case errors.Is(err, domainmarketdata.ErrUnsupportedTimeframe),
		errors.Is(err, domainmarketdata.ErrChartSeriesUnresolvable),
		errors.Is(err, appmarketdata.ErrInvalidLimit),
		errors.Is(err, appmarketdata.ErrMissingInstrument):
		writeError(c, http.StatusBadRequest, err)
		return
	default:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, candles)
}

func parseLimit(c *gin.Context) (int, error) {
	value := c.Query("limit")
	if value == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse limit: %w", err)
	}
	if limit <= 0 {
		return 0, appmarketdata.ErrInvalidLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("ohlcv:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}
