// Package marketfeed provides market snapshot sources for the coordinator.
package marketfeed

import (
	"sync"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
)

const defaultMaxCandles = 200

// buffer keeps the latest candles and trades capped at max entries
type buffer struct {
	mu      sync.RWMutex
	symbol  string
	max     int
	candles []entity.Candle
	trades  []entity.Trade
	updated time.Time
}

func newBuffer(symbol string, max int) *buffer {
	if max <= 0 {
		max = defaultMaxCandles
	}
	return &buffer{symbol: symbol, max: max}
}

func (b *buffer) add(candle *entity.Candle, trade *entity.Trade, at time.Time) *entity.MarketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if candle != nil {
		b.candles = appendCapped(b.candles, *candle, b.max)
	}
	if trade != nil {
		b.trades = appendCapped(b.trades, *trade, b.max)
	}
	b.updated = at
	return b.snapshotLocked()
}

func (b *buffer) replace(s *entity.MarketSnapshot, at time.Time) *entity.MarketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.Symbol != "" {
		b.symbol = s.Symbol
	}
	b.candles = tail(s.Candles, b.max)
	b.trades = tail(s.Trades, b.max)
	b.updated = at
	if !s.LastUpdate.IsZero() {
		b.updated = s.LastUpdate
	}
	return b.snapshotLocked()
}

func (b *buffer) snapshot() *entity.MarketSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *buffer) snapshotLocked() *entity.MarketSnapshot {
	return &entity.MarketSnapshot{
		Symbol:     b.symbol,
		Candles:    append([]entity.Candle(nil), b.candles...),
		Trades:     append([]entity.Trade(nil), b.trades...),
		LastUpdate: b.updated,
	}
}

func appendCapped[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = append(s[:0:0], s[len(s)-max:]...)
	}
	return s
}

func tail[T any](s []T, max int) []T {
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return append([]T(nil), s...)
}
