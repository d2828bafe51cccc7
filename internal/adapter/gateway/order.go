package gateway

import (
	"context"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
)

// SessionStatus is a point-in-time view of a broker session
type SessionStatus struct {
	Connected     bool       `json:"connected"`
	Simulate      bool       `json:"simulate"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
	LastError     string     `json:"lastError,omitempty"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	SenderCompID  string     `json:"senderCompId"`
	TargetCompID  string     `json:"targetCompId"`
}

// OrderGateway defines broker session interaction
type OrderGateway interface {
	// Connect logs on to the broker
	Connect(ctx context.Context) error

	// Disconnect logs out and stops reconnecting
	Disconnect(ctx context.Context, reason string) error

	// SendOrder transmits an order and returns its client order id
	SendOrder(ctx context.Context, order *entity.Order) (string, error)

	// Simulated reports whether orders are filled locally
	Simulated() bool

	// Connected reports whether the session is logged on
	Connected() bool

	// Status returns a session snapshot
	Status() SessionStatus

	// Subscribe registers a handler for session events
	Subscribe(h event.Handler)
}
