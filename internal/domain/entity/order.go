package entity

import (
	"strings"
	"time"
)

// Side represents order side (buy or sell)
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a side string. Unknown values return false.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// Sign returns +1 for buys and -1 for sells
func (s Side) Sign() int {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType represents order type
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce represents how long an order stays working
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus represents order status
type OrderStatus string

const (
	// local lifecycle
	OrderStatusQueued  OrderStatus = "queued"
	OrderStatusSending OrderStatus = "sending"
	OrderStatusSent    OrderStatus = "sent"
	OrderStatusError   OrderStatus = "error"

	// broker reported
	OrderStatusNew      OrderStatus = "new"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order represents an order owned by the dispatch queue
type Order struct {
	ID            string            `json:"id"`
	ClientOrderID string            `json:"clientOrderId"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Type          OrderType         `json:"type"`
	Quantity      int               `json:"quantity"`
	Price         *float64          `json:"price,omitempty"`
	StopPrice     *float64          `json:"stopPrice,omitempty"`
	TimeInForce   TimeInForce       `json:"timeInForce"`
	Status        OrderStatus       `json:"status"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	SentAt        *time.Time        `json:"sentAt,omitempty"`
	ErrorAt       *time.Time        `json:"errorAt,omitempty"`
	Executions    []Execution       `json:"executions"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to callers
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Price = copyFloat(o.Price)
	c.StopPrice = copyFloat(o.StopPrice)
	if o.SentAt != nil {
		t := *o.SentAt
		c.SentAt = &t
	}
	if o.ErrorAt != nil {
		t := *o.ErrorAt
		c.ErrorAt = &t
	}
	c.Executions = make([]Execution, len(o.Executions))
	for i, e := range o.Executions {
		e.Price = copyFloat(e.Price)
		c.Executions[i] = e
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// IsFilled returns true if order is completely filled
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// FilledQty returns the sum of executed quantity
func (o *Order) FilledQty() int {
	total := 0
	for _, e := range o.Executions {
		total += e.Quantity
	}
	return total
}

// RemainingQty returns unfilled quantity
func (o *Order) RemainingQty() int {
	return o.Quantity - o.FilledQty()
}

// OrderRequest is the caller-supplied input for a new order.
// Quantity stays a float so fractional or non-finite input can be rejected.
type OrderRequest struct {
	Symbol        string            `json:"symbol"`
	Side          string            `json:"side"`
	Type          string            `json:"type"`
	Quantity      float64           `json:"quantity"`
	Price         *float64          `json:"price,omitempty"`
	StopPrice     *float64          `json:"stopPrice,omitempty"`
	TimeInForce   string            `json:"timeInForce"`
	ClientOrderID string            `json:"clientOrderId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
