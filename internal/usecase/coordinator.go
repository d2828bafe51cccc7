package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/zono819/winbot/internal/adapter/gateway"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/domain/repository"
	"github.com/zono819/winbot/internal/domain/service"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/usecase/dispatch"
	"github.com/zono819/winbot/internal/usecase/risk"
	"github.com/zono819/winbot/internal/usecase/strategy"
)

const (
	defaultLLMCacheTTL  = 60 * time.Second
	defaultRLCacheTTL   = 30 * time.Second
	defaultLLMTimeout   = 10 * time.Second
	defaultRLTimeout    = 2 * time.Second
	defaultSimFillDelay = 200 * time.Millisecond
	statusOrderLimit    = 20
	defaultSymbol       = "WIN"
)

// ErrRiskRejected matches every *RiskRejectedError via errors.Is
var ErrRiskRejected = errors.New("risk rejected")

// RiskRejectedError is returned by SubmitOrder when the risk gate refuses an order
type RiskRejectedError struct {
	Reason   string
	Decision risk.Decision
}

func (e *RiskRejectedError) Error() string {
	return "risk rejected: " + e.Reason
}

// Is reports whether target is ErrRiskRejected
func (e *RiskRejectedError) Is(target error) bool {
	return target == ErrRiskRejected
}

// Options configures a Coordinator
type Options struct {
	Risk       *risk.Config
	Strategy   service.Strategy
	Consensus  service.ConsensusProvider
	Advisor    service.ActionAdvisor
	Repository repository.OrderRepository
	Symbol     string
	AutoTrade  bool

	LLMCacheTTL        time.Duration
	RLCacheTTL         time.Duration
	LLMTimeout         time.Duration
	RLTimeout          time.Duration
	SimulatedFillDelay time.Duration

	Logger *logger.Logger
}

// Coordinator ties the risk gate, dispatch queue, broker session,
// strategy and advisories together
type Coordinator struct {
	risk      *risk.Gate
	queue     *dispatch.Queue
	strategy  service.Strategy
	consensus service.ConsensusProvider
	advisor   service.ActionAdvisor
	log       *logger.Logger
	events    *event.Emitter
	now       func() time.Time

	llmTTL     time.Duration
	rlTTL      time.Duration
	llmTimeout time.Duration
	rlTimeout  time.Duration
	fillDelay  time.Duration

	sessionMu sync.RWMutex
	session   gateway.OrderGateway

	// serializes evaluation cycles
	evalMu sync.Mutex
	bg     sync.WaitGroup

	mu               sync.RWMutex
	running          bool
	paused           bool
	lastStart        *time.Time
	lastStop         *time.Time
	meta             map[string]interface{}
	market           *entity.MarketSnapshot
	indicators       *entity.Indicators
	lastSignal       *entity.Signal
	ai               AIState
	metricsUpdatedAt time.Time
	llmUpdated       time.Time
	rlUpdated        time.Time
	llmPending       bool
	rlPending        bool
}

// NewCoordinator creates a coordinator with its own risk gate and dispatch queue
func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Strategy == nil {
		opts.Strategy = strategy.NewTrendVWAPStrategy()
	}
	if opts.Symbol == "" {
		opts.Symbol = defaultSymbol
	}

	c := &Coordinator{
		strategy:   opts.Strategy,
		consensus:  opts.Consensus,
		advisor:    opts.Advisor,
		log:        opts.Logger.WithField("component", "coordinator"),
		events:     event.NewEmitter(),
		now:        time.Now,
		llmTTL:     durationOr(opts.LLMCacheTTL, defaultLLMCacheTTL),
		rlTTL:      durationOr(opts.RLCacheTTL, defaultRLCacheTTL),
		llmTimeout: durationOr(opts.LLMTimeout, defaultLLMTimeout),
		rlTimeout:  durationOr(opts.RLTimeout, defaultRLTimeout),
		fillDelay:  durationOr(opts.SimulatedFillDelay, defaultSimFillDelay),
		meta:       map[string]interface{}{"autoTrade": opts.AutoTrade},
		market:     &entity.MarketSnapshot{Symbol: opts.Symbol},
		indicators: &entity.Indicators{},
	}
	if c.advisor != nil && !c.advisor.Enabled() {
		c.advisor = nil
	}
	c.ai = AIState{
		LLM: LLMState{Enabled: c.consensus != nil},
		RL:  RLState{Enabled: c.advisor != nil},
	}

	c.risk = risk.NewGate(opts.Risk, opts.Logger)
	c.queue = dispatch.New(dispatch.Options{
		Repository:    opts.Repository,
		Dispatch:      c.dispatchOrder,
		Simulate:      c.simulateExecution,
		IsSimulated:   c.sessionSimulated,
		DefaultSymbol: opts.Symbol,
		Logger:        opts.Logger,
	})
	c.metricsUpdatedAt = c.now()

	c.queue.Subscribe(c.onQueueEvent)
	c.risk.Subscribe(c.onRiskEvent)
	return c
}

// Subscribe registers a handler for every coordinator event
func (c *Coordinator) Subscribe(h event.Handler) {
	c.events.Subscribe(h)
}

// Risk exposes the risk gate
func (c *Coordinator) Risk() *risk.Gate {
	return c.risk
}

// Close stops in-flight dispatches and waits for advisory fetches
func (c *Coordinator) Close() {
	c.queue.Close()
	c.bg.Wait()
}

// AttachSession wires a broker session into order dispatch
func (c *Coordinator) AttachSession(s gateway.OrderGateway) {
	c.sessionMu.Lock()
	c.session = s
	c.sessionMu.Unlock()

	s.Subscribe(func(ev event.Event) {
		switch ev.Name {
		case event.FixExecReport:
			if report, ok := ev.Payload.(entity.ExecutionReport); ok {
				c.HandleExecutionReport(report)
			}
		case event.FixLogon:
			c.log.Info("Broker session logged on: %+v", ev.Payload)
			c.events.Emit(event.FixLogon, ev.Payload)
		case event.FixDisconnect:
			c.log.Warn("Broker session disconnected: %+v", ev.Payload)
			c.events.Emit(event.FixDisconnect, ev.Payload)
		case event.FixError:
			if err, ok := ev.Payload.(error); ok {
				c.log.Error("Broker session error: %v", err)
				c.events.Emit(event.FixError, ErrorEvent{Error: err.Error()})
			}
		case event.FixOrderSent:
			c.events.Emit(event.FixOrderSent, ev.Payload)
		}
	})
}

func (c *Coordinator) currentSession() gateway.OrderGateway {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

func (c *Coordinator) sessionSimulated() bool {
	s := c.currentSession()
	return s == nil || s.Simulated()
}

// Start resets the risk gate and begins evaluating signals
func (c *Coordinator) Start(ctx context.Context, params map[string]interface{}) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Warn("Coordinator already running")
		return nil
	}
	now := c.now()
	c.running = true
	c.paused = false
	c.lastStart = &now
	autoTrade, _ := c.meta["autoTrade"].(bool)
	for k, v := range params {
		c.meta[k] = v
	}
	if v, ok := params["autoTrade"].(bool); ok {
		autoTrade = v
	}
	c.meta["autoTrade"] = autoTrade
	c.meta["lastAction"] = "start"
	meta := copyMeta(c.meta)
	c.mu.Unlock()

	c.risk.Reset()
	c.scheduleConsensus(true)
	c.scheduleRL(true)

	c.log.Info("Coordinator started: %v", meta)
	c.events.Emit(event.Started, LifecycleEvent{Parameters: meta, At: now})

	if s := c.currentSession(); s != nil && !s.Simulated() {
		if err := s.Connect(ctx); err != nil {
			c.log.Error("Broker session connect failed: %v", err)
			c.events.Emit(event.FixError, ErrorEvent{Error: err.Error()})
		}
	}
	return nil
}

// Pause stops new evaluation cycles and keeps all state
func (c *Coordinator) Pause(ctx context.Context, params map[string]interface{}) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.log.Warn("Cannot pause because the coordinator is not running")
		return nil
	}
	c.paused = true
	for k, v := range params {
		c.meta[k] = v
	}
	c.meta["lastAction"] = "pause"
	c.mu.Unlock()

	c.log.Info("Coordinator paused: %v", params)
	c.events.Emit(event.Paused, LifecycleEvent{Parameters: copyMeta(params), At: c.now()})
	return nil
}

// Stop halts evaluation and disconnects the broker session
func (c *Coordinator) Stop(ctx context.Context, params map[string]interface{}) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.log.Warn("Coordinator already stopped")
		return nil
	}
	now := c.now()
	c.running = false
	c.paused = false
	c.lastStop = &now
	for k, v := range params {
		c.meta[k] = v
	}
	c.meta["lastAction"] = "stop"
	c.mu.Unlock()

	c.log.Info("Coordinator stopped: %v", params)
	c.events.Emit(event.Stopped, LifecycleEvent{Parameters: copyMeta(params), At: now})

	if s := c.currentSession(); s != nil {
		if err := s.Disconnect(ctx, ""); err != nil {
			c.log.Error("Broker session disconnect failed: %v", err)
		}
	}
	return nil
}

// IsRunning returns true if the coordinator is running
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// IsPaused returns true if evaluation is paused
func (c *Coordinator) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// UpdateMarketData stores a snapshot, refreshes indicators and risk, and
// runs one evaluation cycle while running and not paused
func (c *Coordinator) UpdateMarketData(ctx context.Context, snapshot *entity.MarketSnapshot) {
	if snapshot == nil {
		return
	}

	c.mu.Lock()
	market := &entity.MarketSnapshot{
		Symbol:     snapshot.Symbol,
		Candles:    snapshot.Candles,
		Trades:     snapshot.Trades,
		LastUpdate: snapshot.LastUpdate,
	}
	if market.Symbol == "" {
		market.Symbol = c.market.Symbol
	}
	if market.Candles == nil {
		market.Candles = c.market.Candles
	}
	if market.Trades == nil {
		market.Trades = c.market.Trades
	}
	if market.LastUpdate.IsZero() {
		market.LastUpdate = c.now()
	}
	market = market.Clone()
	c.market = market
	c.mu.Unlock()

	indicators := strategy.Compute(market.Candles, market.Trades)

	c.mu.Lock()
	c.indicators = indicators
	c.mu.Unlock()

	c.strategy.UpdateMarket(market, indicators)
	if price, ok := market.LastPrice(); ok {
		c.risk.UpdateMarketPrice(price)
	}

	c.events.Emit(event.MarketUpdate, MarketView{Market: market.Clone(), Indicators: indicators})

	c.scheduleConsensus(false)
	c.scheduleRL(false)

	c.mu.RLock()
	active := c.running && !c.paused
	c.mu.RUnlock()
	if active {
		c.evaluate(ctx)
	}
}

// evaluate runs one strategy cycle: signal, advisory merge, risk, optional order
func (c *Coordinator) evaluate(ctx context.Context) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	signal := c.strategy.GenerateSignal(ctx)
	if signal == nil {
		return
	}

	c.mu.RLock()
	var consensus *entity.Consensus
	var advice *entity.RLAdvice
	if c.ai.LLM.Enabled {
		consensus = c.ai.LLM.LastConsensus
	}
	if c.ai.RL.Enabled {
		advice = c.ai.RL.LastAction
	}
	autoTrade, _ := c.meta["autoTrade"].(bool)
	symbol := c.market.Symbol
	c.mu.RUnlock()

	signal = MergeAdvisories(signal, consensus, advice)

	c.mu.Lock()
	c.lastSignal = signal.Clone()
	c.mu.Unlock()

	c.events.Emit(event.StrategySignal, signal.Clone())
	if signal.Action == entity.ActionHold {
		return
	}

	decision := c.risk.EvaluateSignal(signal)
	if !decision.Approved {
		c.log.Debug("Signal blocked: %s %s", signal.Action, decision.Reason)
		c.events.Emit(event.StrategyBlocked, BlockedEvent{Signal: signal, Risk: decision})
		return
	}
	if !autoTrade {
		return
	}

	if signal.Symbol != "" {
		symbol = signal.Symbol
	}
	metadata := map[string]string{
		"source":     "strategy",
		"confidence": strconv.FormatFloat(decision.Confidence, 'f', 4, 64),
		"reason":     decision.Reason,
	}
	if consensus != nil {
		metadata["aiConsensus"] = string(consensus.RecommendedAction)
	}
	if advice != nil {
		metadata["rlSuggestion"] = string(advice.Action)
	}

	order, err := c.SubmitOrder(entity.OrderRequest{
		Symbol:   symbol,
		Side:     string(decision.Side),
		Type:     string(entity.OrderTypeMarket),
		Quantity: float64(decision.Quantity),
		Metadata: metadata,
	})
	if err != nil {
		c.log.Warn("Strategy order failed: %v", err)
		c.events.Emit(event.StrategyOrderError, OrderErrorEvent{Signal: signal, Error: err.Error()})
		return
	}
	c.events.Emit(event.StrategyOrder, OrderEvent{Signal: signal, Order: order, Risk: decision})
}

// MergeAdvisories applies the LLM consensus and RL suggestion to a strategy
// signal and returns the adjusted copy
func MergeAdvisories(sig *entity.Signal, consensus *entity.Consensus, advice *entity.RLAdvice) *entity.Signal {
	out := sig.Clone()

	if consensus != nil && consensus.RecommendedAction != "" {
		switch {
		case consensus.RecommendedAction == out.Action && out.Action != entity.ActionHold:
			out.Confidence = minFloat(1, out.Confidence+consensus.Confidence*0.2)
			out.Reason += " | AI LLM aligned"
		case consensus.RecommendedAction != entity.ActionHold && consensus.RecommendedAction != out.Action && consensus.Confidence > 0.6:
			out.Action = entity.ActionHold
			out.Reason += " | AI LLM conflict (HOLD)"
		}
	}

	if advice != nil && advice.Action != "" {
		conf := advice.ConfidenceOr(0)
		switch {
		case advice.Action == out.Action && out.Action != entity.ActionHold:
			out.Confidence = minFloat(1, out.Confidence+conf*0.25)
			if advice.Quantity != nil {
				out.Quantity = entity.Int(*advice.Quantity)
			}
			out.Reason += " | RL aligned"
		case advice.Action == entity.ActionHold && conf > 0.6:
			out.Action = entity.ActionHold
			out.Reason += " | RL suggests waiting"
		case advice.Action != out.Action && conf > 0.7:
			out.Action = advice.Action
			if advice.Quantity != nil {
				out.Quantity = entity.Int(*advice.Quantity)
			}
			out.Reason += " | RL override"
		}
	}
	return out
}

// SubmitOrder risk-checks and enqueues an order. Rejections return *RiskRejectedError.
func (c *Coordinator) SubmitOrder(req entity.OrderRequest) (*entity.Order, error) {
	decision := c.risk.EvaluateOrder(risk.OrderIntent{Side: req.Side, Quantity: req.Quantity})
	if !decision.Approved {
		return nil, &RiskRejectedError{Reason: decision.Reason, Decision: decision}
	}

	req.Side = string(decision.Side)
	req.Quantity = float64(decision.Quantity)
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["risk"] = decision.Reason
	req.Metadata = metadata

	order, err := c.queue.Submit(req)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	return order, nil
}

// ListOrders returns recent orders, newest first
func (c *Coordinator) ListOrders(limit int) []*entity.Order {
	return c.queue.List(limit)
}

// HandleExecutionReport routes a broker report to its order
func (c *Coordinator) HandleExecutionReport(report entity.ExecutionReport) {
	c.queue.UpdateExecution(report)
}

// dispatchOrder hands an order to the broker session. Simulated sessions
// never see the order; the simulate hook fills it instead.
func (c *Coordinator) dispatchOrder(ctx context.Context, order *entity.Order) (string, error) {
	s := c.currentSession()
	if s == nil || s.Simulated() {
		if s != nil && !s.Connected() {
			if err := s.Connect(ctx); err != nil {
				return "", err
			}
		}
		if order.ClientOrderID != "" {
			return order.ClientOrderID, nil
		}
		return fmt.Sprintf("SIM-%d%d", c.now().UnixMilli(), rand.Intn(1000)), nil
	}

	if !s.Connected() {
		if err := s.Connect(ctx); err != nil {
			return "", err
		}
	}
	return s.SendOrder(ctx, order)
}

// simulateExecution fills a sent order at its limit price or the last price
func (c *Coordinator) simulateExecution(order *entity.Order) {
	if !c.sessionSimulated() {
		return
	}
	report := entity.ExecutionReport{
		OrderID:        order.ID,
		ClientOrderID:  order.ClientOrderID,
		Status:         entity.OrderStatusFilled,
		Quantity:       order.Quantity,
		LeavesQuantity: 0,
		Side:           order.Side,
		Simulated:      true,
	}
	if order.Price != nil {
		report.Price = entity.Float(*order.Price)
	} else if price, ok := c.lastPrice(); ok {
		report.Price = entity.Float(price)
	}

	time.AfterFunc(c.fillDelay, func() {
		report.Timestamp = c.now()
		c.HandleExecutionReport(report)
	})
}

func (c *Coordinator) lastPrice() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.LastPrice()
}

func (c *Coordinator) onQueueEvent(ev event.Event) {
	if ev.Name == event.OrderExecution {
		if payload, ok := ev.Payload.(dispatch.ExecutionEvent); ok {
			c.onOrderExecution(payload)
		}
		return
	}
	c.events.Emit(ev.Name, ev.Payload)
}

// onOrderExecution books priced fills into the ledger before republishing
func (c *Coordinator) onOrderExecution(payload dispatch.ExecutionEvent) {
	exec := payload.Execution
	if exec.Quantity > 0 && exec.Price != nil {
		err := c.risk.RegisterExecution(entity.Fill{Side: exec.Side, Quantity: exec.Quantity, Price: *exec.Price})
		if err != nil {
			c.log.Warn("Execution %s not booked: %v", exec.ID, err)
		} else if aware, ok := c.strategy.(service.PositionAware); ok {
			status := c.risk.Status()
			pos := entity.Position{
				Symbol:        payload.Order.Symbol,
				NetQuantity:   status.NetExposure,
				AvgPrice:      status.AvgPrice,
				MarkPrice:     status.LastPrice,
				UnrealizedPnL: status.UnrealizedPnL,
				RealizedPnL:   status.RealizedPnL,
			}
			if err := aware.OnPositionUpdate(context.Background(), pos); err != nil {
				c.log.Warn("Strategy position update failed: %v", err)
			}
		}
	}
	c.events.Emit(event.OrderExecution, payload)
}

func (c *Coordinator) onRiskEvent(ev event.Event) {
	switch ev.Name {
	case event.RiskReset, event.RiskMetrics:
		c.mu.Lock()
		c.metricsUpdatedAt = c.now()
		c.mu.Unlock()
	case event.RiskBreach:
		c.mu.Lock()
		if c.running {
			c.paused = true
		}
		c.mu.Unlock()
	}
	c.events.Emit(ev.Name, ev.Payload)
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
