package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var errEmptyCompletion = errors.New("empty completion")

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a chat-completions backend
type Provider interface {
	Name() string
	Enabled() bool
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatConfig holds configuration for an OpenAI-compatible endpoint
type ChatConfig struct {
	Name        string
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string
	Path        string
	Timeout     time.Duration
}

// ChatClient talks to an OpenAI-compatible chat completions API
type ChatClient struct {
	config     ChatConfig
	httpClient *http.Client
}

// NewChatClient creates a chat client
func NewChatClient(config ChatConfig) *ChatClient {
	if config.Path == "" {
		config.Path = "/chat/completions"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &ChatClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewChatGPT creates the OpenAI provider
func NewChatGPT(apiKey, model string, temperature float64, timeout time.Duration) *ChatClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return NewChatClient(ChatConfig{
		Name:        "chatgpt",
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		BaseURL:     "https://api.openai.com/v1",
		Timeout:     timeout,
	})
}

// NewDeepSeek creates the DeepSeek provider
func NewDeepSeek(apiKey, baseURL, model string, temperature float64, timeout time.Duration) *ChatClient {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if model == "" {
		model = "deepseek-chat"
	}
	return NewChatClient(ChatConfig{
		Name:        "deepseek",
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		BaseURL:     baseURL,
		Path:        "/v1/chat/completions",
		Timeout:     timeout,
	})
}

// Name returns the provider name
func (c *ChatClient) Name() string {
	return c.config.Name
}

// Enabled reports whether an API key is configured
func (c *ChatClient) Enabled() bool {
	return c.config.APIKey != "" && c.config.BaseURL != ""
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the first choice content
func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%s provider disabled (missing api key)", c.config.Name)
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.config.Model,
		Messages:       messages,
		Temperature:    c.config.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.Path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s HTTP %d: %s", c.config.Name, resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", errEmptyCompletion
	}
	return result.Choices[0].Message.Content, nil
}
