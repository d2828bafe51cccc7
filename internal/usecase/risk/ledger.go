package risk

import (
	"math"

	"github.com/zono819/winbot/internal/domain/entity"
)

// Ledger nets fills into a single signed position and tracks PnL.
// It is not safe for concurrent use; Gate serializes access.
type Ledger struct {
	multiplier float64

	net        int
	avgPrice   *float64
	lastPrice  *float64
	realized   float64
	unrealized float64
	peak       float64
	drawdown   float64
	trades     int
	wins       int
	losses     int
}

// NewLedger creates a flat ledger
func NewLedger(multiplier float64) *Ledger {
	return &Ledger{multiplier: multiplier}
}

// Reset returns the ledger to flat with zeroed counters
func (l *Ledger) Reset() {
	*l = Ledger{multiplier: l.multiplier}
}

// Apply nets a fill into the position and returns the realized PnL delta.
// Callers validate quantity and price.
func (l *Ledger) Apply(f entity.Fill) float64 {
	net := l.net
	remaining := f.Side.Sign() * f.Quantity
	before := l.realized

	if net != 0 && sign(net) != sign(remaining) {
		closing := minInt(absInt(net), absInt(remaining))
		if l.avgPrice != nil {
			perContract := f.Price - *l.avgPrice
			if net < 0 {
				perContract = *l.avgPrice - f.Price
			}
			l.realized += perContract * float64(closing) * l.multiplier
		}
		net -= sign(net) * closing
		remaining -= sign(remaining) * closing
	}

	switch {
	case net == 0 && remaining != 0:
		l.avgPrice = entity.Float(f.Price)
		net = remaining
	case net == 0:
		l.avgPrice = nil
	case remaining != 0 && sign(net) == sign(remaining):
		total := absInt(net) + absInt(remaining)
		avg := (*l.avgPrice*float64(absInt(net)) + f.Price*float64(absInt(remaining))) / float64(total)
		l.avgPrice = &avg
		net += remaining
	}

	l.net = net
	l.trades++

	delta := l.realized - before
	if delta > 0 {
		l.wins++
	} else if delta < 0 {
		l.losses++
	}
	return delta
}

// Mark revalues open exposure at price. Non-finite or non-positive
// prices zero the unrealized component.
func (l *Ledger) Mark(price float64) {
	switch {
	case math.IsNaN(price) || math.IsInf(price, 0) || price <= 0:
		l.unrealized = 0
	case l.net != 0 && l.avgPrice != nil:
		l.lastPrice = entity.Float(price)
		qty := float64(absInt(l.net))
		if l.net > 0 {
			l.unrealized = (price - *l.avgPrice) * qty * l.multiplier
		} else {
			l.unrealized = (*l.avgPrice - price) * qty * l.multiplier
		}
	default:
		l.lastPrice = entity.Float(price)
		l.unrealized = 0
	}

	total := l.Total()
	if total > l.peak {
		l.peak = total
	}
	l.drawdown = l.peak - total
}

// Total returns realized plus unrealized PnL
func (l *Ledger) Total() float64 {
	return l.realized + l.unrealized
}

// Realized returns realized PnL
func (l *Ledger) Realized() float64 {
	return l.realized
}

// Net returns signed exposure
func (l *Ledger) Net() int {
	return l.net
}

// Trades returns the number of fills applied since reset
func (l *Ledger) Trades() int {
	return l.trades
}

// Position returns the current exposure as an entity
func (l *Ledger) Position() entity.Position {
	p := entity.Position{
		NetQuantity:   l.net,
		UnrealizedPnL: l.unrealized,
		RealizedPnL:   l.realized,
	}
	if l.avgPrice != nil {
		p.AvgPrice = entity.Float(*l.avgPrice)
	}
	if l.lastPrice != nil {
		p.MarkPrice = *l.lastPrice
	}
	return p
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
