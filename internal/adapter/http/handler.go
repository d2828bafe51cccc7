// Package http exposes the coordinator over a gin REST API plus the event websocket.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/infrastructure/metrics"
	"github.com/zono819/winbot/internal/usecase"
	"github.com/zono819/winbot/internal/usecase/risk"
)

const (
	defaultOrderLimit  = 50
	defaultMarketLimit = 100
	maxLimit           = 1000
	maxBodyBytes       = 1 << 20
)

// Coordinator is the part of the execution coordinator the API drives
type Coordinator interface {
	SubmitOrder(req entity.OrderRequest) (*entity.Order, error)
	ListOrders(limit int) []*entity.Order
	Start(ctx context.Context, params map[string]interface{}) error
	Pause(ctx context.Context, params map[string]interface{}) error
	Stop(ctx context.Context, params map[string]interface{}) error
	Status() usecase.Status
	Heartbeat() usecase.Heartbeat
	Goals() risk.GoalSnapshot
	Metrics() usecase.Metrics
	Market() usecase.MarketView
}

// RouterOptions configures NewRouter. Only Coordinator is required.
type RouterOptions struct {
	Coordinator    Coordinator
	Events         http.Handler
	Metrics        *metrics.Metrics
	MetricsToken   string
	AllowedOrigins []string
	RateLimiter    *RateLimiter
	Logger         *logger.Logger
}

// Handler serves the REST endpoints
type Handler struct {
	coord Coordinator
	log   *logger.Logger
	now   func() time.Time
}

// NewHandler creates a handler for coord
func NewHandler(coord Coordinator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{coord: coord, log: log, now: time.Now}
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(opts RouterOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "http")

	r := gin.New()
	r.Use(RequestLogger(log), Recovery(log))
	if opts.Metrics != nil {
		r.Use(Instrument(opts.Metrics))
	}
	r.Use(CORS(opts.AllowedOrigins), RateLimit(opts.RateLimiter))

	h := NewHandler(opts.Coordinator, log)
	h.RegisterRoutes(r.Group("/api"))

	r.GET("/health", h.Health)
	r.GET("/healthz", h.Health)

	if opts.Metrics != nil {
		r.GET("/metrics", metricsAuth(opts.MetricsToken), gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.Events != nil {
		r.GET("/ws/events", gin.WrapH(opts.Events))
	}
	return r
}

// RegisterRoutes mounts the API under router
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	execution := router.Group("/execution")
	{
		execution.POST("/orders", h.SubmitOrder)
		execution.GET("/orders", h.ListOrders)
	}

	system := router.Group("/system")
	{
		system.GET("/status", h.Status)
		system.POST("/control", h.Control)
		system.GET("/metrics", h.Metrics)
	}

	market := router.Group("/market")
	{
		market.GET("/snapshot", h.MarketSnapshot)
		market.GET("/candles", h.Candles)
		market.GET("/trades", h.Trades)
	}
}

// SubmitOrder validates and enqueues a manual order
func (h *Handler) SubmitOrder(c *gin.Context) {
	var payload OrderPayload
	if !bindJSON(c, &payload) {
		return
	}

	req, fields := ValidateOrder(payload)
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "fields": fields})
		return
	}
	if req.Symbol == "" {
		if m := h.coord.Market().Market; m != nil {
			req.Symbol = m.Symbol
		}
	}

	order, err := h.coord.SubmitOrder(req)
	if err != nil {
		var rejected *usecase.RiskRejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusConflict, gin.H{"error": "order rejected by risk rules", "reason": rejected.Reason})
			return
		}
		h.log.Error("Order submission failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, order)
}

// ListOrders returns recent orders, newest first
func (h *Handler) ListOrders(c *gin.Context) {
	limit := queryLimit(c, defaultOrderLimit)
	c.JSON(http.StatusOK, gin.H{"orders": h.coord.ListOrders(limit)})
}

// Status returns the full coordinator status with heartbeat and goals
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    h.coord.Status(),
		"heartbeat": h.coord.Heartbeat(),
		"goals":     h.coord.Goals(),
		"timestamp": h.now().UTC(),
	})
}

// Control starts, pauses or stops the coordinator
func (h *Handler) Control(c *gin.Context) {
	var payload ControlPayload
	if !bindJSON(c, &payload) {
		return
	}
	action, params, ok := ValidateControl(payload)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action", "field": "action"})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch action {
	case "start":
		err = h.coord.Start(ctx, params)
	case "pause":
		err = h.coord.Pause(ctx, params)
	case "stop":
		err = h.coord.Stop(ctx, params)
	}
	if err != nil {
		h.log.Error("Control action %s failed: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": action, "timestamp": h.now().UTC()})
}

// Metrics returns the compact dashboard snapshot
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Metrics())
}

// MarketSnapshot returns the latest market state and indicators
func (h *Handler) MarketSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Market())
}

// Candles returns the most recent candles
func (h *Handler) Candles(c *gin.Context) {
	m := h.market()
	limit := queryLimit(c, defaultMarketLimit)
	c.JSON(http.StatusOK, gin.H{
		"symbol":     m.Symbol,
		"candles":    lastN(m.Candles, limit),
		"lastUpdate": m.LastUpdate,
	})
}

// Trades returns the most recent trades
func (h *Handler) Trades(c *gin.Context) {
	m := h.market()
	limit := queryLimit(c, defaultMarketLimit)
	c.JSON(http.StatusOK, gin.H{
		"symbol":     m.Symbol,
		"trades":     lastN(m.Trades, limit),
		"lastUpdate": m.LastUpdate,
	})
}

// Health is the liveness probe
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": h.now().UTC()})
}

func (h *Handler) market() *entity.MarketSnapshot {
	if m := h.coord.Market().Market; m != nil {
		return m
	}
	return &entity.MarketSnapshot{}
}

// bindJSON decodes the body and writes a 400 on failure
func bindJSON(c *gin.Context, v interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	return true
}

// queryLimit reads ?limit, falling back to def for missing or invalid values
func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func lastN[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	if s == nil {
		return []T{}
	}
	return s
}

func metricsAuth(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		provided := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
