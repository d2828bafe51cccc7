package entity

import (
	"time"
)

// Execution is an immutable fill or state report attached to an order
type Execution struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         OrderStatus `json:"status"`
	Price          *float64    `json:"price,omitempty"`
	Quantity       int         `json:"quantity"`
	LeavesQuantity int         `json:"leavesQuantity"`
	Side           Side        `json:"side"`
	Text           string      `json:"text,omitempty"`
	Simulated      bool        `json:"simulated"`
}

// ExecutionReport is an inbound report from the broker session
type ExecutionReport struct {
	OrderID        string      `json:"orderId,omitempty"`
	ClientOrderID  string      `json:"clientOrderId,omitempty"`
	BrokerOrderID  string      `json:"brokerOrderId,omitempty"`
	ExecutionID    string      `json:"execId,omitempty"`
	Status         OrderStatus `json:"status,omitempty"`
	Price          *float64    `json:"price,omitempty"`
	Quantity       int         `json:"quantity"`
	LeavesQuantity int         `json:"leavesQuantity"`
	Side           Side        `json:"side,omitempty"`
	Text           string      `json:"text,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Simulated      bool        `json:"simulated"`
}

// Fill is the ledger input derived from an execution
type Fill struct {
	Side     Side
	Quantity int
	Price    float64
}
