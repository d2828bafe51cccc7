package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

// Decision reasons
const (
	ReasonApproved        = "risk-approved"
	ReasonQuantityInvalid = "quantity-invalid"
	ReasonMaxContracts    = "max-contracts-per-order"
	ReasonMaxTrades       = "max-trades-reached"
	ReasonMaxExposure     = "max-net-exposure"
	ReasonHalted          = "risk-halted"
	ReasonSignalHold      = "signal-hold"
)

// ErrInvalidFill is returned for fills with a bad price or quantity
var ErrInvalidFill = errors.New("invalid fill")

// Config holds risk management configuration
type Config struct {
	Capital              float64
	ContractMultiplier   float64
	DailyTargetPct       float64
	DailyLossLimitPct    float64
	MaxContractsPerOrder int
	MaxNetExposure       int
	MaxTradesPerDay      int
	DefaultQuantity      int
	HourlyTargetPct      float64
}

// DefaultConfig returns default risk configuration
func DefaultConfig() *Config {
	return &Config{
		Capital:              100000,
		ContractMultiplier:   0.2,
		DailyTargetPct:       0.02,  // 2%
		DailyLossLimitPct:    0.01,  // 1%
		MaxContractsPerOrder: 2,
		MaxNetExposure:       10,
		MaxTradesPerDay:      300,
		DefaultQuantity:      1,
		HourlyTargetPct:      0.0025,
	}
}

// OrderIntent is a proposed order before risk evaluation
type OrderIntent struct {
	Side     string
	Quantity float64
}

// Decision represents the result of a risk check
type Decision struct {
	Approved   bool        `json:"approved"`
	Quantity   int         `json:"quantity,omitempty"`
	Side       entity.Side `json:"side,omitempty"`
	Reason     string      `json:"reason"`
	Confidence float64     `json:"confidence,omitempty"`
}

// Checkpoint records progress against the cumulative hourly target
type Checkpoint struct {
	Hour        time.Time `json:"hour"`
	Index       int       `json:"index"`
	Target      float64   `json:"target"`
	RealizedPnL float64   `json:"realizedPnl"`
	Reached     bool      `json:"reached"`
}

// GoalSnapshot summarizes daily objectives
type GoalSnapshot struct {
	TargetDailyPnL float64      `json:"targetDailyPnl"`
	LossLimit      float64      `json:"lossLimit"`
	Progress       float64      `json:"progress"`
	Checkpoints    []Checkpoint `json:"checkpoints"`
}

// Status is a point-in-time copy of the gate state
type Status struct {
	Config        Config       `json:"config"`
	RealizedPnL   float64      `json:"realizedPnl"`
	UnrealizedPnL float64      `json:"unrealizedPnl"`
	TotalPnL      float64      `json:"totalPnl"`
	NetExposure   int          `json:"netExposure"`
	AvgPrice      *float64     `json:"avgPrice"`
	LastPrice     float64      `json:"lastPrice,omitempty"`
	Trades        int          `json:"trades"`
	Wins          int          `json:"wins"`
	Losses        int          `json:"losses"`
	WinRate       float64      `json:"winRate"`
	ReachedTarget bool         `json:"reachedTarget"`
	HitLossLimit  bool         `json:"hitLossLimit"`
	Halted        bool         `json:"halted"`
	GoalSnapshot  GoalSnapshot `json:"goalSnapshot"`
	Drawdown      float64      `json:"drawdown"`
	PeakPnL       float64      `json:"peakPnl"`
	LastUpdate    time.Time    `json:"lastUpdate"`
}

// Gate performs pre-trade risk checks and owns the position ledger
type Gate struct {
	config *Config
	log    *logger.Logger
	events *event.Emitter
	now    func() time.Time

	mu            sync.RWMutex
	ledger        *Ledger
	targetAbs     float64
	lossLimitAbs  float64
	reachedTarget bool
	hitLossLimit  bool
	halted        bool
	checkpoints   []Checkpoint
	lastUpdate    time.Time
}

// NewGate creates a new risk gate in the reset state
func NewGate(cfg *Config, log *logger.Logger) *Gate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}
	g := &Gate{
		config: cfg,
		log:    log.WithField("component", "risk"),
		events: event.NewEmitter(),
		now:    time.Now,
		ledger: NewLedger(cfg.ContractMultiplier),
	}
	g.resetLocked()
	return g
}

// Subscribe registers a handler for risk:* events
func (g *Gate) Subscribe(h event.Handler) {
	g.events.Subscribe(h)
}

// Reset clears PnL, exposure, counters and halt flags
func (g *Gate) Reset() {
	g.mu.Lock()
	g.resetLocked()
	status := g.statusLocked()
	g.mu.Unlock()

	g.log.Info("Risk state reset: target=%.2f lossLimit=%.2f", status.GoalSnapshot.TargetDailyPnL, -status.GoalSnapshot.LossLimit)
	g.events.Emit(event.RiskReset, status)
}

func (g *Gate) resetLocked() {
	g.ledger.Reset()
	g.targetAbs = g.config.Capital * g.config.DailyTargetPct
	g.lossLimitAbs = g.config.Capital * g.config.DailyLossLimitPct
	g.reachedTarget = false
	g.hitLossLimit = false
	g.halted = false
	g.checkpoints = make([]Checkpoint, 0)
	g.lastUpdate = g.now()
}

// UpdateMarketPrice revalues open exposure at the latest price
func (g *Gate) UpdateMarketPrice(price float64) {
	g.mu.Lock()
	g.ledger.Mark(price)
	status := g.statusLocked()
	g.mu.Unlock()

	g.events.Emit(event.RiskMetrics, status)
}

// EvaluateOrder checks a proposed order against the limits. It does not mutate state.
func (g *Gate) EvaluateOrder(intent OrderIntent) Decision {
	qty := intent.Quantity
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 || qty != math.Trunc(qty) {
		return Decision{Reason: ReasonQuantityInvalid}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.halted {
		return Decision{Reason: ReasonHalted}
	}
	if qty > float64(g.config.MaxContractsPerOrder) {
		return Decision{Reason: ReasonMaxContracts}
	}
	if g.ledger.Trades() >= g.config.MaxTradesPerDay {
		return Decision{Reason: ReasonMaxTrades}
	}

	side, ok := entity.ParseSide(intent.Side)
	if !ok {
		side = entity.SideBuy
	}
	n := int(qty)
	projected := absInt(g.ledger.Net() + side.Sign()*n)
	if projected > g.config.MaxNetExposure {
		return Decision{Reason: ReasonMaxExposure}
	}

	return Decision{
		Approved: true,
		Quantity: n,
		Side:     side,
		Reason:   ReasonApproved,
	}
}

// EvaluateSignal converts a signal into an order intent and evaluates it
func (g *Gate) EvaluateSignal(sig *entity.Signal) Decision {
	if sig == nil || sig.Action == entity.ActionHold || sig.Action == "" {
		return Decision{Reason: ReasonSignalHold}
	}
	side, ok := sig.Action.Side()
	if !ok {
		return Decision{Reason: ReasonSignalHold}
	}

	qty := g.config.DefaultQuantity
	if sig.Quantity != nil && *sig.Quantity != 0 {
		qty = *sig.Quantity
	}

	d := g.EvaluateOrder(OrderIntent{Side: string(side), Quantity: float64(qty)})
	if !d.Approved {
		return d
	}
	d.Confidence = sig.Confidence
	if strings.TrimSpace(sig.Reason) != "" {
		d.Reason = sig.Reason
	}
	return d
}

// RegisterExecution applies a fill to the ledger and re-checks limits
func (g *Gate) RegisterExecution(fill entity.Fill) error {
	if fill.Quantity == 0 {
		return nil
	}
	if fill.Quantity < 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidFill, fill.Quantity)
	}
	if math.IsNaN(fill.Price) || math.IsInf(fill.Price, 0) || fill.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidFill, fill.Price)
	}
	if fill.Side != entity.SideSell {
		fill.Side = entity.SideBuy
	}

	g.mu.Lock()
	prevTarget, prevLoss := g.reachedTarget, g.hitLossLimit

	delta := g.ledger.Apply(fill)
	g.ledger.Mark(fill.Price)
	g.checkLimitsLocked()
	now := g.now()
	g.recordCheckpointLocked(now)
	g.lastUpdate = now

	breached := (g.reachedTarget && !prevTarget) || (g.hitLossLimit && !prevLoss)
	status := g.statusLocked()
	g.mu.Unlock()

	g.log.Info("Fill applied: %s %d @ %.2f pnlDelta=%.2f net=%d realized=%.2f",
		fill.Side, fill.Quantity, fill.Price, delta, status.NetExposure, status.RealizedPnL)

	g.events.Emit(event.RiskMetrics, status)
	if breached {
		g.log.Warn("Risk limit breached: reachedTarget=%v hitLossLimit=%v realized=%.2f",
			status.ReachedTarget, status.HitLossLimit, status.RealizedPnL)
		g.events.Emit(event.RiskBreach, status)
	}
	return nil
}

// CheckLimits sets halt flags from realized PnL
func (g *Gate) CheckLimits() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkLimitsLocked()
}

func (g *Gate) checkLimitsLocked() {
	realized := g.ledger.Realized()
	if realized <= -g.lossLimitAbs {
		g.hitLossLimit = true
		g.halted = true
	}
	if realized >= g.targetAbs {
		g.reachedTarget = true
		g.halted = true
	}
}

// recordCheckpointLocked tracks realized PnL per wall-clock hour against
// the cumulative hourly target
func (g *Gate) recordCheckpointLocked(now time.Time) {
	if g.config.HourlyTargetPct <= 0 {
		return
	}
	hour := now.Truncate(time.Hour)
	realized := g.ledger.Realized()

	n := len(g.checkpoints)
	if n > 0 && g.checkpoints[n-1].Hour.Equal(hour) {
		cp := &g.checkpoints[n-1]
		cp.RealizedPnL = realized
		cp.Reached = realized >= cp.Target
		return
	}

	index := n + 1
	target := g.config.Capital * g.config.HourlyTargetPct * float64(index)
	g.checkpoints = append(g.checkpoints, Checkpoint{
		Hour:        hour,
		Index:       index,
		Target:      target,
		RealizedPnL: realized,
		Reached:     realized >= target,
	})
}

// Halted reports whether trading is halted
func (g *Gate) Halted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted
}

// Status returns current risk status
func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusLocked()
}

// Goals returns the goal snapshot
func (g *Gate) Goals() GoalSnapshot {
	return g.Status().GoalSnapshot
}

func (g *Gate) statusLocked() Status {
	pos := g.ledger.Position()

	winRate := 0.0
	if g.ledger.trades > 0 {
		winRate = float64(g.ledger.wins) / float64(g.ledger.trades) * 100
	}
	progress := 0.0
	if g.targetAbs > 0 {
		progress = pos.RealizedPnL / g.targetAbs
	}

	return Status{
		Config:        *g.config,
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
		TotalPnL:      g.ledger.Total(),
		NetExposure:   pos.NetQuantity,
		AvgPrice:      pos.AvgPrice,
		LastPrice:     pos.MarkPrice,
		Trades:        g.ledger.trades,
		Wins:          g.ledger.wins,
		Losses:        g.ledger.losses,
		WinRate:       winRate,
		ReachedTarget: g.reachedTarget,
		HitLossLimit:  g.hitLossLimit,
		Halted:        g.halted,
		GoalSnapshot: GoalSnapshot{
			TargetDailyPnL: g.targetAbs,
			LossLimit:      -g.lossLimitAbs,
			Progress:       progress,
			Checkpoints:    append([]Checkpoint(nil), g.checkpoints...),
		},
		Drawdown:   g.ledger.drawdown,
		PeakPnL:    g.ledger.peak,
		LastUpdate: g.lastUpdate,
	}
}
