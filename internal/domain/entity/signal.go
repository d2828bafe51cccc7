package entity

import (
	"strings"
	"time"
)

// Action is the directional recommendation carried by a signal
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes an action string, defaulting to HOLD
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return ActionBuy
	case "SELL", "SHORT":
		return ActionSell
	default:
		return ActionHold
	}
}

// Side maps a directional action onto an order side
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Signal represents a trading recommendation from a strategy
type Signal struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Quantity   *int      `json:"quantity,omitempty"`
	Symbol     string    `json:"symbol"`
	Price      *float64  `json:"price,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Clone returns a copy of the signal
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	if s.Quantity != nil {
		q := *s.Quantity
		c.Quantity = &q
	}
	c.Price = copyFloat(s.Price)
	return &c
}

// Hold builds a HOLD signal with the given reason
func Hold(symbol, reason string) *Signal {
	return &Signal{
		Action:    ActionHold,
		Reason:    reason,
		Symbol:    symbol,
		Timestamp: time.Now(),
	}
}

// SignalBias represents market direction bias
type SignalBias string

const (
	SignalBiasBullish SignalBias = "bullish"
	SignalBiasBearish SignalBias = "bearish"
	SignalBiasNeutral SignalBias = "neutral"
	SignalBiasUnknown SignalBias = "unknown"
)

// ParseBias normalizes a bias string, defaulting to unknown
func ParseBias(s string) SignalBias {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "bull", "long", "up":
		return SignalBiasBullish
	case "bearish", "bear", "short", "down":
		return SignalBiasBearish
	case "neutral", "sideways", "range":
		return SignalBiasNeutral
	default:
		return SignalBiasUnknown
	}
}

// Consensus is the advisory produced by the language-model orchestrator
type Consensus struct {
	Bias              SignalBias `json:"bias"`
	Confidence        float64    `json:"confidence"`
	Rationale         string     `json:"rationale"`
	KeyLevels         []float64  `json:"key_levels"`
	RecommendedAction Action     `json:"recommended_action"`
	RiskNotes         string     `json:"risk_notes"`
	Provider          string     `json:"provider,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// RLAdvice is the advisory produced by the reinforcement-learning agent
type RLAdvice struct {
	Action     Action    `json:"action"`
	Quantity   *int      `json:"quantity,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Value      *float64  `json:"value,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConfidenceOr returns the advice confidence or def when absent
func (a *RLAdvice) ConfidenceOr(def float64) float64 {
	if a == nil || a.Confidence == nil {
		return def
	}
	return *a.Confidence
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}
