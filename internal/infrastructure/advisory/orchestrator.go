package advisory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/service"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

const (
	systemPrompt   = "You are a financial analyst specialised in the B3 mini-index (WIN) futures contract."
	promptCandles  = 20
	defaultFailMax = 3
)

var _ service.ConsensusProvider = (*Orchestrator)(nil)

// ErrNoProviders is returned when no provider is enabled
var ErrNoProviders = errors.New("no enabled providers")

// OrchestratorConfig holds orchestrator configuration
type OrchestratorConfig struct {
	CacheTTL        time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker
}

type cacheEntry struct {
	content  string
	provider string
	expires  time.Time
}

// Orchestrator tries providers in order, caching answers by prompt hash
type Orchestrator struct {
	providers []*guardedProvider
	cacheTTL  time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewOrchestrator creates an orchestrator over the given providers
func NewOrchestrator(cfg OrchestratorConfig, log *logger.Logger, providers ...Provider) *Orchestrator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultFailMax
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	o := &Orchestrator{
		cacheTTL: cfg.CacheTTL,
		log:      log.WithField("component", "advisory"),
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		failMax := cfg.BreakerFailures
		o.providers = append(o.providers, &guardedProvider{
			Provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    p.Name(),
				Timeout: cfg.BreakerCooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= failMax
				},
			}),
		})
	}
	return o
}

// Enabled reports whether any provider can be called
func (o *Orchestrator) Enabled() bool {
	for _, p := range o.providers {
		if p.Enabled() {
			return true
		}
	}
	return false
}

// Providers returns the names of enabled providers
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		if p.Enabled() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Infer returns the first successful completion, trying providers in order.
// Identical conversations are served from cache until the TTL expires.
func (o *Orchestrator) Infer(ctx context.Context, messages []Message) (string, string, error) {
	key, err := cacheKey(messages)
	if err != nil {
		return "", "", err
	}

	now := o.now()
	o.mu.Lock()
	if e, ok := o.cache[key]; ok && now.Before(e.expires) {
		o.mu.Unlock()
		return e.content, e.provider, nil
	}
	o.mu.Unlock()

	var errs []error
	for _, p := range o.providers {
		if !p.Enabled() {
			continue
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.Complete(ctx, messages)
		})
		if err != nil {
			o.log.Warn("Provider %s failed: %v", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		content := out.(string)

		o.mu.Lock()
		o.evictLocked(now)
		o.cache[key] = cacheEntry{content: content, provider: p.Name(), expires: now.Add(o.cacheTTL)}
		o.mu.Unlock()
		return content, p.Name(), nil
	}

	if len(errs) == 0 {
		return "", "", ErrNoProviders
	}
	return "", "", fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Consensus asks for a structured market view over the advisory context
func (o *Orchestrator) Consensus(ctx context.Context, in service.AdvisoryContext) (*entity.Consensus, error) {
	prompt, err := consensusPrompt(in)
	if err != nil {
		return nil, err
	}
	content, provider, err := o.Infer(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	consensus, err := ParseConsensus(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	consensus.Provider = provider
	consensus.Timestamp = o.now()
	return consensus, nil
}

func (o *Orchestrator) evictLocked(now time.Time) {
	for k, e := range o.cache {
		if !now.Before(e.expires) {
			delete(o.cache, k)
		}
	}
}

func cacheKey(messages []Message) (string, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func consensusPrompt(in service.AdvisoryContext) (string, error) {
	payload := in
	if in.Snapshot != nil && len(in.Snapshot.Candles) > promptCandles {
		trimmed := in.Snapshot.Clone()
		trimmed.Candles = trimmed.Candles[len(trimmed.Candles)-promptCandles:]
		trimmed.Trades = nil
		payload.Snapshot = trimmed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyse the WIN market context below and answer only with a JSON object containing:\n")
	b.WriteString("bias (BULLISH, BEARISH or NEUTRAL), confidence (0 to 1), rationale, key_levels (array of prices), ")
	b.WriteString("recommended_action (BUY, SELL or HOLD) and risk_notes.\n\n")
	b.WriteString("Context:\n")
	b.Write(data)
	return b.String(), nil
}

type rawConsensus struct {
	Bias              string          `json:"bias"`
	Confidence        json.RawMessage `json:"confidence"`
	Rationale         string          `json:"rationale"`
	KeyLevels         []interface{}   `json:"key_levels"`
	RecommendedAction string          `json:"recommended_action"`
	RiskNotes         json.RawMessage `json:"risk_notes"`
}

// ParseConsensus decodes a model answer. Code fences and surrounding prose
// are tolerated; missing fields fall back to unknown bias and HOLD.
func ParseConsensus(content string) (*entity.Consensus, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var raw rawConsensus
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode consensus: %w", err)
	}

	c := &entity.Consensus{
		Bias:              entity.ParseBias(raw.Bias),
		Confidence:        clamp01(parseNumber(raw.Confidence)),
		Rationale:         raw.Rationale,
		KeyLevels:         make([]float64, 0, len(raw.KeyLevels)),
		RecommendedAction: entity.ParseAction(raw.RecommendedAction),
		RiskNotes:         parseNotes(raw.RiskNotes),
	}
	for _, v := range raw.KeyLevels {
		switch n := v.(type) {
		case float64:
			c.KeyLevels = append(c.KeyLevels, n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				c.KeyLevels = append(c.KeyLevels, f)
			}
		}
	}
	return c, nil
}

func parseNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// risk_notes comes back as a string or a list of strings
func parseNotes(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
