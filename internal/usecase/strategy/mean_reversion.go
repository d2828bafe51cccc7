package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/service"
)

var _ service.PositionAware = (*MeanReversionStrategy)(nil)

// MeanReversionConfig tunes the band-fade entries and the exit rules
type MeanReversionConfig struct {
	Symbol string `json:"symbol"`

	// oscillator
	RSIPeriod     int     `json:"rsi_period"`
	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`

	// bands around the close
	BBPeriod int     `json:"bb_period"`
	BBStdDev float64 `json:"bb_std_dev"`

	// exits; pct values are fractions of the entry price
	TakeProfitPct float64 `json:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	MaxHoldTime   int     `json:"max_hold_time"` // seconds

	PositionSize int     `json:"position_size"` // contracts per trade
	Confidence   float64 `json:"confidence"`
}

// DefaultMeanReversionConfig targets roughly 500 points of profit on WIN
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Symbol:        "WIN",
		RSIPeriod:     14,
		RSIOversold:   25.0,
		RSIOverbought: 75.0,
		BBPeriod:      20,
		BBStdDev:      2.5,
		TakeProfitPct: 0.004,
		StopLossPct:   0.0025,
		MaxHoldTime:   1800,
		PositionSize:  1,
		Confidence:    0.6,
	}
}

// MeanReversionStrategy fades RSI extremes outside the Bollinger bands and
// exits on take profit, stop loss or hold timeout.
type MeanReversionStrategy struct {
	config MeanReversionConfig

	mu         sync.RWMutex
	snapshot   *entity.MarketSnapshot
	lastSignal *entity.Signal

	// open trade, fed by OnPositionUpdate
	entryPrice  float64
	entryTime   time.Time
	entrySide   entity.Side
	hasPosition bool
}

// NewMeanReversionStrategy returns the strategy with default settings
func NewMeanReversionStrategy() *MeanReversionStrategy {
	return &MeanReversionStrategy{
		config: DefaultMeanReversionConfig(),
	}
}

func (s *MeanReversionStrategy) Name() string {
	return "mean_reversion"
}

// Init overrides defaults from the strategy params map
func (s *MeanReversionStrategy) Init(ctx context.Context, config map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := config["symbol"].(string); ok && v != "" {
		s.config.Symbol = v
	}
	if v, ok := config["rsi_period"].(float64); ok {
		s.config.RSIPeriod = int(v)
	}
	if v, ok := config["rsi_oversold"].(float64); ok {
		s.config.RSIOversold = v
	}
	if v, ok := config["rsi_overbought"].(float64); ok {
		s.config.RSIOverbought = v
	}
	if v, ok := config["bb_period"].(float64); ok {
		s.config.BBPeriod = int(v)
	}
	if v, ok := config["bb_std_dev"].(float64); ok {
		s.config.BBStdDev = v
	}
	if v, ok := config["take_profit_pct"].(float64); ok {
		s.config.TakeProfitPct = v
	}
	if v, ok := config["stop_loss_pct"].(float64); ok {
		s.config.StopLossPct = v
	}
	if v, ok := config["max_hold_time"].(float64); ok {
		s.config.MaxHoldTime = int(v)
	}
	if v, ok := config["default_quantity"].(float64); ok && v > 0 {
		s.config.PositionSize = int(v)
	}
	if v, ok := config["position_size"].(float64); ok && v > 0 {
		s.config.PositionSize = int(v)
	}

	if s.config.RSIPeriod <= 0 || s.config.BBPeriod <= 0 {
		return fmt.Errorf("mean_reversion: periods must be positive")
	}
	return nil
}

// UpdateMarket stores the latest snapshot
func (s *MeanReversionStrategy) UpdateMarket(snapshot *entity.MarketSnapshot, indicators *entity.Indicators) {
	if snapshot == nil {
		return
	}
	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
}

// GenerateSignal checks exits first, then entries
func (s *MeanReversionStrategy) GenerateSignal(ctx context.Context) *entity.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		return entity.Hold(s.config.Symbol, "missing-data")
	}
	price, ok := s.snapshot.LastPrice()
	if !ok {
		return entity.Hold(s.config.Symbol, "no-price")
	}

	var signal *entity.Signal
	if s.hasPosition {
		signal = s.checkExitConditions(price)
	} else {
		signal = s.checkEntryConditions(s.snapshot.Closes(), price)
	}
	if signal == nil {
		signal = entity.Hold(s.config.Symbol, "no-edge")
	}
	signal.Price = entity.Float(price)
	s.lastSignal = signal.Clone()
	return signal
}

// OnPositionUpdate is called when the ledger position changes
func (s *MeanReversionStrategy) OnPositionUpdate(ctx context.Context, position entity.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position.IsFlat() || position.AvgPrice == nil {
		s.hasPosition = false
		s.entryPrice = 0
		s.entryTime = time.Time{}
		return nil
	}

	side := entity.SideBuy
	if position.IsShort() {
		side = entity.SideSell
	}
	if !s.hasPosition || side != s.entrySide {
		s.entryTime = time.Now()
	}
	s.hasPosition = true
	s.entryPrice = *position.AvgPrice
	s.entrySide = side
	return nil
}

// Stop clears the tracked trade
func (s *MeanReversionStrategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = nil
	s.hasPosition = false

	return nil
}

// checkEntryConditions fades closes beyond the bands
func (s *MeanReversionStrategy) checkEntryConditions(closes []float64, price float64) *entity.Signal {
	if len(closes) < s.config.BBPeriod {
		return nil // Not enough data
	}

	rsi := RSI(closes, s.config.RSIPeriod)
	bb := CalculateBollingerBands(closes, s.config.BBPeriod, s.config.BBStdDev)

	// below the lower band while oversold
	if rsi < s.config.RSIOversold && price < bb.Lower {
		return s.signal(entity.ActionBuy, fmt.Sprintf("Long entry: RSI=%.1f (<%.1f), Price=%.2f (<BB_Lower=%.2f)", rsi, s.config.RSIOversold, price, bb.Lower))
	}

	// above the upper band while overbought
	if rsi > s.config.RSIOverbought && price > bb.Upper {
		return s.signal(entity.ActionSell, fmt.Sprintf("Short entry: RSI=%.1f (>%.1f), Price=%.2f (>BB_Upper=%.2f)", rsi, s.config.RSIOverbought, price, bb.Upper))
	}

	return nil
}

// checkExitConditions closes on target, stop or hold timeout
func (s *MeanReversionStrategy) checkExitConditions(price float64) *entity.Signal {
	var shouldExit bool
	var reason string

	if s.entrySide == entity.SideBuy {
		takeProfitPrice := s.entryPrice * (1 + s.config.TakeProfitPct)
		stopLossPrice := s.entryPrice * (1 - s.config.StopLossPct)

		if price >= takeProfitPrice {
			shouldExit = true
			reason = fmt.Sprintf("Take profit: entry=%.2f, current=%.2f, target=%.2f", s.entryPrice, price, takeProfitPrice)
		} else if price <= stopLossPrice {
			shouldExit = true
			reason = fmt.Sprintf("Stop loss: entry=%.2f, current=%.2f, stop=%.2f", s.entryPrice, price, stopLossPrice)
		}
	} else {
		takeProfitPrice := s.entryPrice * (1 - s.config.TakeProfitPct)
		stopLossPrice := s.entryPrice * (1 + s.config.StopLossPct)

		if price <= takeProfitPrice {
			shouldExit = true
			reason = fmt.Sprintf("Take profit: entry=%.2f, current=%.2f, target=%.2f", s.entryPrice, price, takeProfitPrice)
		} else if price >= stopLossPrice {
			shouldExit = true
			reason = fmt.Sprintf("Stop loss: entry=%.2f, current=%.2f, stop=%.2f", s.entryPrice, price, stopLossPrice)
		}
	}

	// Timeout exit
	if !shouldExit && time.Since(s.entryTime) > time.Duration(s.config.MaxHoldTime)*time.Second {
		shouldExit = true
		reason = fmt.Sprintf("Timeout exit: held for %v, max=%ds", time.Since(s.entryTime).Round(time.Second), s.config.MaxHoldTime)
	}

	if !shouldExit {
		return nil
	}
	exit := entity.ActionSell
	if s.entrySide == entity.SideSell {
		exit = entity.ActionBuy
	}
	return s.signal(exit, reason)
}

func (s *MeanReversionStrategy) signal(action entity.Action, reason string) *entity.Signal {
	return &entity.Signal{
		Action:     action,
		Confidence: s.config.Confidence,
		Reason:     reason,
		Quantity:   entity.Int(s.config.PositionSize),
		Symbol:     s.config.Symbol,
		Timestamp:  time.Now(),
	}
}

// GetConfig returns a copy of the active settings
func (s *MeanReversionStrategy) GetConfig() MeanReversionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Status returns current strategy state (for monitoring)
func (s *MeanReversionStrategy) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := map[string]interface{}{
		"name":            s.Name(),
		"symbol":          s.config.Symbol,
		"defaultQuantity": s.config.PositionSize,
		"has_position":    s.hasPosition,
		"lastSignal":      s.lastSignal.Clone(),
	}

	if s.hasPosition {
		state["entry_price"] = s.entryPrice
		state["entry_side"] = s.entrySide
		state["entry_time"] = s.entryTime
		state["hold_duration"] = time.Since(s.entryTime).String()
	}

	closes := s.snapshot.Closes()
	if len(closes) > s.config.RSIPeriod {
		state["current_rsi"] = RSI(closes, s.config.RSIPeriod)
	}
	if len(closes) >= s.config.BBPeriod {
		bb := CalculateBollingerBands(closes, s.config.BBPeriod, s.config.BBStdDev)
		state["bb_upper"] = bb.Upper
		state["bb_middle"] = bb.Middle
		state["bb_lower"] = bb.Lower
	}

	return state
}
