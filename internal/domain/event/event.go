package event

import (
	"sync"
	"time"
)

// Name identifies a notification
type Name string

const (
	OrderQueued    Name = "order:queued"
	OrderSending   Name = "order:sending"
	OrderSent      Name = "order:sent"
	OrderError     Name = "order:error"
	OrderExecution Name = "order:execution"

	RiskReset   Name = "risk:reset"
	RiskMetrics Name = "risk:metrics"
	RiskBreach  Name = "risk:breach"

	FixLogon      Name = "fix:logon"
	FixDisconnect Name = "fix:disconnect"
	FixError      Name = "fix:error"
	FixExecReport Name = "fix:exec-report"
	FixOrderSent  Name = "fix:order-sent"

	StrategySignal     Name = "strategy:signal"
	StrategyBlocked    Name = "strategy:blocked"
	StrategyOrder      Name = "strategy:order"
	StrategyOrderError Name = "strategy:order-error"

	AIConsensus Name = "ai:consensus"
	AIRL        Name = "ai:rl"

	Started      Name = "started"
	Paused       Name = "paused"
	Stopped      Name = "stopped"
	MarketUpdate Name = "market:update"
)

// Event is a named notification with its payload
type Event struct {
	Name    Name        `json:"event"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Handler receives events
type Handler func(Event)

// Emitter fans events out to subscribed handlers.
// Handlers are invoked synchronously on the emitting goroutine and must not block.
type Emitter struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewEmitter creates an empty emitter
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make([]Handler, 0),
	}
}

// Subscribe registers a handler
func (e *Emitter) Subscribe(h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// Emit delivers an event to every handler
func (e *Emitter) Emit(name Name, payload interface{}) {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	ev := Event{Name: name, Payload: payload, At: time.Now()}
	for _, h := range handlers {
		h(ev)
	}
}
