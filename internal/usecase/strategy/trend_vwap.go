package strategy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
)

// TrendVWAPConfig holds strategy configuration
type TrendVWAPConfig struct {
	Symbol          string  `json:"symbol"`
	DefaultQuantity int     `json:"default_quantity"`
	BaseConfidence  float64 `json:"base_confidence"`
	ReversalConf    float64 `json:"reversal_confidence"`
	MaxConfidence   float64 `json:"max_confidence"`
	LowVolWidth     float64 `json:"low_vol_width"` // band width / price
}

// DefaultTrendVWAPConfig returns default configuration
func DefaultTrendVWAPConfig() TrendVWAPConfig {
	return TrendVWAPConfig{
		Symbol:          "WIN",
		DefaultQuantity: 1,
		BaseConfidence:  0.6,
		ReversalConf:    0.55,
		MaxConfidence:   0.8,
		LowVolWidth:     0.02,
	}
}

// TrendVWAPStrategy trades with the EMA trend when price is on the same
// side of VWAP and momentum confirms, and fades Bollinger extremes otherwise.
type TrendVWAPStrategy struct {
	mu         sync.RWMutex
	config     TrendVWAPConfig
	snapshot   *entity.MarketSnapshot
	indicators *entity.Indicators
	lastSignal *entity.Signal
	now        func() time.Time
}

// NewTrendVWAPStrategy creates a new trend/VWAP strategy
func NewTrendVWAPStrategy() *TrendVWAPStrategy {
	return &TrendVWAPStrategy{
		config: DefaultTrendVWAPConfig(),
		now:    time.Now,
	}
}

// Name returns strategy name
func (s *TrendVWAPStrategy) Name() string {
	return "trend_vwap"
}

// Init initializes strategy with config
func (s *TrendVWAPStrategy) Init(ctx context.Context, config map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := config["symbol"].(string); ok && v != "" {
		s.config.Symbol = v
	}
	if v, ok := config["default_quantity"].(float64); ok && v > 0 {
		s.config.DefaultQuantity = int(v)
	}
	if v, ok := config["base_confidence"].(float64); ok {
		s.config.BaseConfidence = v
	}
	if v, ok := config["max_confidence"].(float64); ok {
		s.config.MaxConfidence = v
	}
	if v, ok := config["low_vol_width"].(float64); ok {
		s.config.LowVolWidth = v
	}
	return nil
}

// UpdateMarket stores the latest snapshot and indicators
func (s *TrendVWAPStrategy) UpdateMarket(snapshot *entity.MarketSnapshot, indicators *entity.Indicators) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot != nil {
		s.snapshot = snapshot
	}
	if indicators != nil {
		s.indicators = indicators
	}
}

// GenerateSignal evaluates the stored market state
func (s *TrendVWAPStrategy) GenerateSignal(ctx context.Context) *entity.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil || s.indicators == nil {
		return entity.Hold(s.config.Symbol, "missing-data")
	}
	price, ok := s.snapshot.LastPrice()
	if !ok {
		return entity.Hold(s.config.Symbol, "no-price")
	}

	ind := s.indicators
	action := entity.ActionHold
	confidence := 0.0
	var notes []string

	if ind.EMA9 != nil && ind.EMA20 != nil && ind.EMA200 != nil && ind.VWAP != nil && ind.RSI != nil {
		ema20, ema200, vwap, rsi := *ind.EMA20, *ind.EMA200, *ind.VWAP, *ind.RSI

		var macdLine, macdSig float64
		if ind.MACD != nil {
			macdLine, macdSig = ind.MACD.MACD, ind.MACD.Signal
		}
		lowVol := ind.Bollinger != nil && ind.Bollinger.Width()/price < s.config.LowVolWidth

		switch {
		case price > ema20 && ema20 > ema200 && price > vwap && rsi < 70 && macdLine > macdSig:
			action = entity.ActionBuy
			confidence = s.config.BaseConfidence
			notes = append(notes, "Trend bullish (EMA20>EMA200)", "Price above VWAP", "MACD positive")
			if rsi < 60 {
				confidence += 0.1
			}
			if lowVol {
				confidence += 0.05
			}
		case price < ema20 && ema20 < ema200 && price < vwap && rsi > 30 && macdLine < macdSig:
			action = entity.ActionSell
			confidence = s.config.BaseConfidence
			notes = append(notes, "Trend bearish (EMA20<EMA200)", "Price below VWAP", "MACD negative")
			if rsi > 40 {
				confidence += 0.1
			}
		}
	}

	if action == entity.ActionHold && ind.Bollinger != nil && ind.RSI != nil {
		rsi := *ind.RSI
		if price >= ind.Bollinger.Upper && rsi > 70 {
			action = entity.ActionSell
			confidence = s.config.ReversalConf
			notes = append(notes, "Price at Bollinger upper band with RSI > 70")
		} else if price <= ind.Bollinger.Lower && rsi < 30 {
			action = entity.ActionBuy
			confidence = s.config.ReversalConf
			notes = append(notes, "Price at Bollinger lower band with RSI < 30")
		}
	}

	if confidence > s.config.MaxConfidence {
		confidence = s.config.MaxConfidence
	}
	reason := strings.Join(notes, " | ")
	if reason == "" {
		reason = "no-edge"
	}

	signal := &entity.Signal{
		Action:     action,
		Confidence: confidence,
		Reason:     reason,
		Quantity:   entity.Int(s.config.DefaultQuantity),
		Symbol:     s.config.Symbol,
		Price:      entity.Float(price),
		Timestamp:  s.now(),
	}
	s.lastSignal = signal.Clone()
	return signal
}

// Status returns strategy state for monitoring
func (s *TrendVWAPStrategy) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"name":            s.Name(),
		"symbol":          s.config.Symbol,
		"defaultQuantity": s.config.DefaultQuantity,
		"lastSignal":      s.lastSignal.Clone(),
	}
}

// Stop stops the strategy
func (s *TrendVWAPStrategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.indicators = nil
	return nil
}

// GetConfig returns current configuration
func (s *TrendVWAPStrategy) GetConfig() TrendVWAPConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}
