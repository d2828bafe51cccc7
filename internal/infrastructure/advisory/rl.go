package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/service"
)

var _ service.ActionAdvisor = (*RLClient)(nil)

// ErrRLDisabled is returned when no endpoint is configured
var ErrRLDisabled = errors.New("rl client disabled")

// RLConfig holds configuration for the reinforcement-learning agent
type RLConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RLClient asks a remote agent for its next action
type RLClient struct {
	config     RLConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewRLClient creates an RL client
func NewRLClient(config RLConfig) *RLClient {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	return &RLClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		now: time.Now,
	}
}

// Enabled reports whether an endpoint is configured
func (c *RLClient) Enabled() bool {
	return c != nil && c.config.Endpoint != ""
}

type rlResponse struct {
	Action     string   `json:"action"`
	Quantity   *float64 `json:"quantity"`
	Confidence *float64 `json:"confidence"`
	Value      *float64 `json:"value"`
	Reason     string   `json:"reason"`
}

// Action posts the context to {endpoint}/action
func (c *RLClient) Action(ctx context.Context, in service.AdvisoryContext) (*entity.RLAdvice, error) {
	if !c.Enabled() {
		return nil, ErrRLDisabled
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/action", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("RL HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result rlResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	advice := &entity.RLAdvice{
		Action:     entity.ParseAction(result.Action),
		Confidence: result.Confidence,
		Value:      result.Value,
		Reason:     result.Reason,
		Timestamp:  c.now(),
	}
	if result.Quantity != nil {
		if q := int(math.Round(math.Abs(*result.Quantity))); q > 0 {
			advice.Quantity = entity.Int(q)
		}
	}
	return advice, nil
}
