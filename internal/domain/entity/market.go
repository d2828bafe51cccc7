package entity

import (
	"time"
)

// Candle represents OHLCV candle data
type Candle struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// TypicalPrice returns (high+low+close)/3
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Trade represents a public trade print
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"volume"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketSnapshot is the market state pushed into the coordinator
type MarketSnapshot struct {
	Symbol     string    `json:"symbol"`
	Candles    []Candle  `json:"candles"`
	Trades     []Trade   `json:"trades"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// LastPrice returns the close of the most recent candle
func (m *MarketSnapshot) LastPrice() (float64, bool) {
	if m == nil || len(m.Candles) == 0 {
		return 0, false
	}
	p := m.Candles[len(m.Candles)-1].Close
	if p <= 0 {
		return 0, false
	}
	return p, true
}

// Closes returns candle close prices oldest first
func (m *MarketSnapshot) Closes() []float64 {
	if m == nil {
		return nil
	}
	out := make([]float64, len(m.Candles))
	for i, c := range m.Candles {
		out[i] = c.Close
	}
	return out
}

// Clone returns a copy with independent slices
func (m *MarketSnapshot) Clone() *MarketSnapshot {
	if m == nil {
		return nil
	}
	c := *m
	c.Candles = append([]Candle(nil), m.Candles...)
	c.Trades = append([]Trade(nil), m.Trades...)
	return &c
}
