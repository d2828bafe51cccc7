package entity

import (
	"time"
)

// Position is the net contract exposure tracked by the ledger
type Position struct {
	Symbol        string     `json:"symbol,omitempty"`
	NetQuantity   int        `json:"netQuantity"`
	AvgPrice      *float64   `json:"avgPrice"`
	MarkPrice     float64    `json:"markPrice"`
	UnrealizedPnL float64    `json:"unrealizedPnl"`
	RealizedPnL   float64    `json:"realizedPnl"`
	UpdatedAt     *time.Time `json:"updatedAt"`
}

// IsLong returns true if position is long
func (p *Position) IsLong() bool {
	return p.NetQuantity > 0
}

// IsShort returns true if position is short
func (p *Position) IsShort() bool {
	return p.NetQuantity < 0
}

// IsFlat returns true when there is no exposure
func (p *Position) IsFlat() bool {
	return p.NetQuantity == 0
}

// Contracts returns absolute exposure
func (p *Position) Contracts() int {
	if p.NetQuantity < 0 {
		return -p.NetQuantity
	}
	return p.NetQuantity
}
