package usecase

import (
	"math"
	"time"

	"github.com/zono819/winbot/internal/adapter/gateway"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/usecase/risk"
)

// LifecycleEvent is the started/paused/stopped payload
type LifecycleEvent struct {
	Parameters map[string]interface{} `json:"parameters"`
	At         time.Time              `json:"at"`
}

// MarketView is the market:update payload
type MarketView struct {
	Market     *entity.MarketSnapshot `json:"market"`
	Indicators *entity.Indicators     `json:"indicators"`
}

// BlockedEvent is the strategy:blocked payload
type BlockedEvent struct {
	Signal *entity.Signal `json:"signal"`
	Risk   risk.Decision  `json:"risk"`
}

// OrderEvent is the strategy:order payload
type OrderEvent struct {
	Signal *entity.Signal `json:"signal"`
	Order  *entity.Order  `json:"order"`
	Risk   risk.Decision  `json:"risk"`
}

// OrderErrorEvent is the strategy:order-error payload
type OrderErrorEvent struct {
	Signal *entity.Signal `json:"signal"`
	Error  string         `json:"error"`
}

// ErrorEvent carries an error message in a serializable form
type ErrorEvent struct {
	Error string `json:"error"`
}

// Status is the full coordinator snapshot
type Status struct {
	Running    bool                   `json:"running"`
	Paused     bool                   `json:"paused"`
	LastStart  *time.Time             `json:"lastStart"`
	LastStop   *time.Time             `json:"lastStop"`
	Meta       map[string]interface{} `json:"meta"`
	Indicators *entity.Indicators     `json:"indicators"`
	Market     *entity.MarketSnapshot `json:"market"`
	FIX        gateway.SessionStatus  `json:"fix"`
	Orders     []*entity.Order        `json:"orders"`
	Risk       risk.Status            `json:"risk"`
	Strategy   map[string]interface{} `json:"strategy"`
	AI         AIState                `json:"ai"`
}

// RiskSummary is the PnL subset carried in metrics
type RiskSummary struct {
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	TotalPnL      float64 `json:"totalPnl"`
	Drawdown      float64 `json:"drawdown"`
	ReachedTarget bool    `json:"reachedTarget"`
	HitLossLimit  bool    `json:"hitLossLimit"`
}

// Metrics is the compact dashboard snapshot
type Metrics struct {
	DailyPnL         float64     `json:"dailyPnl"`
	Trades           int         `json:"trades"`
	WinRate          float64     `json:"winRate"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	Running          bool        `json:"running"`
	Paused           bool        `json:"paused"`
	LastMarketUpdate *time.Time  `json:"lastMarketUpdate"`
	OrdersInQueue    int         `json:"ordersInQueue"`
	Risk             RiskSummary `json:"risk"`
	AI               AIState     `json:"ai"`
}

// Heartbeat is the liveness snapshot
type Heartbeat struct {
	Running   bool      `json:"running"`
	Paused    bool      `json:"paused"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status returns the full coordinator snapshot
func (c *Coordinator) Status() Status {
	riskStatus := c.risk.Status()
	strategyStatus := c.strategy.Status()
	orders := c.queue.List(statusOrderLimit)
	fix := gateway.SessionStatus{Simulate: true}
	if s := c.currentSession(); s != nil {
		fix = s.Status()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastSignal != nil {
		strategyStatus["lastSignal"] = c.lastSignal.Clone()
	}
	return Status{
		Running:    c.running,
		Paused:     c.paused,
		LastStart:  copyTime(c.lastStart),
		LastStop:   copyTime(c.lastStop),
		Meta:       copyMeta(c.meta),
		Indicators: c.indicators,
		Market:     c.market.Clone(),
		FIX:        fix,
		Orders:     orders,
		Risk:       riskStatus,
		Strategy:   strategyStatus,
		AI:         c.ai,
	}
}

// Metrics returns PnL, trade counters and queue depth
func (c *Coordinator) Metrics() Metrics {
	riskStatus := c.risk.Status()
	queued := c.queue.Size()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var lastMarket *time.Time
	if !c.market.LastUpdate.IsZero() {
		t := c.market.LastUpdate
		lastMarket = &t
	}
	return Metrics{
		DailyPnL:         riskStatus.RealizedPnL,
		Trades:           riskStatus.Trades,
		WinRate:          math.Round(riskStatus.WinRate*100) / 100,
		UpdatedAt:        c.metricsUpdatedAt,
		Running:          c.running,
		Paused:           c.paused,
		LastMarketUpdate: lastMarket,
		OrdersInQueue:    queued,
		Risk: RiskSummary{
			RealizedPnL:   riskStatus.RealizedPnL,
			UnrealizedPnL: riskStatus.UnrealizedPnL,
			TotalPnL:      riskStatus.TotalPnL,
			Drawdown:      riskStatus.Drawdown,
			ReachedTarget: riskStatus.ReachedTarget,
			HitLossLimit:  riskStatus.HitLossLimit,
		},
		AI: c.ai,
	}
}

// Heartbeat returns running flags with the current time
func (c *Coordinator) Heartbeat() Heartbeat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Heartbeat{Running: c.running, Paused: c.paused, UpdatedAt: c.now()}
}

// Goals returns the daily target, loss limit and hourly checkpoints
func (c *Coordinator) Goals() risk.GoalSnapshot {
	return c.risk.Goals()
}

// Market returns the latest market snapshot and indicators
func (c *Coordinator) Market() MarketView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return MarketView{Market: c.market.Clone(), Indicators: c.indicators}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
