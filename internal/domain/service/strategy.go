package service

import (
	"context"

	"github.com/zono819/winbot/internal/domain/entity"
)

// Strategy defines a signal source fed with market snapshots
type Strategy interface {
	// Name returns strategy name
	Name() string

	// Init initializes strategy with config
	Init(ctx context.Context, config map[string]interface{}) error

	// UpdateMarket stores the latest snapshot and indicators
	UpdateMarket(snapshot *entity.MarketSnapshot, indicators *entity.Indicators)

	// GenerateSignal evaluates the stored market state
	GenerateSignal(ctx context.Context) *entity.Signal

	// Status returns the strategy state for monitoring
	Status() map[string]interface{}

	// Stop stops the strategy
	Stop(ctx context.Context) error
}

// StrategyFactory creates strategy instances
type StrategyFactory interface {
	// Create creates a new strategy instance by name
	Create(name string) (Strategy, error)

	// List returns available strategy names
	List() []string
}

// AdvisoryContext is the market and risk context sent to advisors
type AdvisoryContext struct {
	Snapshot    *entity.MarketSnapshot `json:"market"`
	Indicators  *entity.Indicators     `json:"indicators"`
	Risk        interface{}            `json:"risk"`
	RealizedPnL float64                `json:"realizedPnl"`
	LastSignal  *entity.Signal         `json:"lastSignal,omitempty"`
}

// ConsensusProvider produces a language-model market consensus
type ConsensusProvider interface {
	// Consensus asks the provider(s) for a market view
	Consensus(ctx context.Context, in AdvisoryContext) (*entity.Consensus, error)
}

// ActionAdvisor produces a reinforcement-learning action suggestion
type ActionAdvisor interface {
	// Enabled reports whether the advisor has an endpoint
	Enabled() bool

	// Action asks the agent for its next action
	Action(ctx context.Context, in AdvisoryContext) (*entity.RLAdvice, error)
}

// PositionAware is implemented by strategies that track the open position
type PositionAware interface {
	OnPositionUpdate(ctx context.Context, position entity.Position) error
}
