package usecase

import (
	"context"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/domain/service"
)

// advisoryContext builds the payload sent to advisors. Must not hold c.mu.
func (c *Coordinator) advisoryContext() service.AdvisoryContext {
	status := c.risk.Status()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return service.AdvisoryContext{
		Snapshot:    c.market.Clone(),
		Indicators:  c.indicators,
		Risk:        status,
		RealizedPnL: status.RealizedPnL,
		LastSignal:  c.lastSignal.Clone(),
	}
}

// scheduleConsensus starts a background LLM fetch unless one is in flight
// or the cached consensus is younger than the TTL. force skips the TTL check.
func (c *Coordinator) scheduleConsensus(force bool) {
	if c.consensus == nil {
		return
	}

	c.mu.Lock()
	if c.llmPending || (!force && !c.llmUpdated.IsZero() && c.now().Sub(c.llmUpdated) < c.llmTTL) {
		c.mu.Unlock()
		return
	}
	c.llmPending = true
	c.mu.Unlock()

	in := c.advisoryContext()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.llmTimeout)
		defer cancel()
		result, err := c.consensus.Consensus(ctx, in)

		c.mu.Lock()
		c.llmPending = false
		if err != nil {
			c.mu.Unlock()
			c.log.Warn("LLM consensus failed: %v", err)
			return
		}
		now := c.now()
		c.llmUpdated = now
		c.ai.LLM = LLMState{
			Enabled:       true,
			Provider:      result.Provider,
			LastConsensus: result,
			Timestamp:     &now,
		}
		state := c.ai.LLM
		c.mu.Unlock()

		c.log.Debug("LLM consensus: %s %s %.2f", result.Provider, result.RecommendedAction, result.Confidence)
		c.events.Emit(event.AIConsensus, state)
	}()
}

// scheduleRL starts a background RL fetch with the same guards as scheduleConsensus
func (c *Coordinator) scheduleRL(force bool) {
	if c.advisor == nil {
		return
	}

	c.mu.Lock()
	if c.rlPending || (!force && !c.rlUpdated.IsZero() && c.now().Sub(c.rlUpdated) < c.rlTTL) {
		c.mu.Unlock()
		return
	}
	c.rlPending = true
	c.mu.Unlock()

	in := c.advisoryContext()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.rlTimeout)
		defer cancel()
		advice, err := c.advisor.Action(ctx, in)

		c.mu.Lock()
		c.rlPending = false
		if err != nil {
			c.mu.Unlock()
			c.log.Warn("RL action failed: %v", err)
			return
		}
		now := c.now()
		c.rlUpdated = now
		c.ai.RL = RLState{
			Enabled:    true,
			LastAction: advice,
			Confidence: advice.Confidence,
			Value:      advice.Value,
			Reason:     advice.Reason,
			Timestamp:  &now,
		}
		state := c.ai.RL
		c.mu.Unlock()

		c.log.Debug("RL action: %s confidence=%.2f", advice.Action, advice.ConfidenceOr(0))
		c.events.Emit(event.AIRL, state)
	}()
}

// LLMState is the cached language-model consensus
type LLMState struct {
	Enabled       bool              `json:"enabled"`
	Provider      string            `json:"provider,omitempty"`
	LastConsensus *entity.Consensus `json:"lastConsensus"`
	Timestamp     *time.Time        `json:"timestamp"`
}

// RLState is the cached reinforcement-learning suggestion
type RLState struct {
	Enabled    bool             `json:"enabled"`
	LastAction *entity.RLAdvice `json:"lastAction"`
	Confidence *float64         `json:"confidence"`
	Value      *float64         `json:"value"`
	Reason     string           `json:"reason,omitempty"`
	Timestamp  *time.Time       `json:"timestamp"`
}

// AIState groups both advisories
type AIState struct {
	LLM LLMState `json:"llm"`
	RL  RLState  `json:"rl"`
}
