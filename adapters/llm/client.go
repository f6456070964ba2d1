package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aletheia/internal/errors"
	"aletheia/ports"
)

// Config configures an OpenAI-compatible chat completions client
type Config struct {
	Provider             string
	APIKey               string
	BaseURL              string
	Model                string
	Timeout              time.Duration
	PromptPricePer1K     float64
	CompletionPricePer1K float64
}

// OpenAIClient implements ModelClientPort against /chat/completions
type OpenAIClient struct {
	cfg    Config
	client *http.Client
}

// NewClient creates an LLM client based on config
func NewClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigInvalid("missing OpenAI API key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.ConfigInvalid("missing model")
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIClient{cfg: cfg, client: &http.Client{}}, nil
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []ports.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion. The per-call timeout applies on top of ctx.
func (c *OpenAIClient) Complete(ctx context.Context, messages []ports.Message, maxTokens int, temperature float64) (*ports.Completion, error) {
	if len(messages) == 0 {
		return nil, errors.InvalidInput("no messages to send")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	raw, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.ExternalServiceError(c.cfg.Provider, err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ExternalServiceError(c.cfg.Provider, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(respRaw), 512)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respRaw, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.ExternalServiceError(c.cfg.Provider, fmt.Errorf("response missing choices"))
	}

	model := decoded.Model
	if model == "" {
		model = c.cfg.Model
	}
	usage := ports.UsageData{
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
		Model:            model,
		Provider:         c.cfg.Provider,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &ports.Completion{
		Text:  decoded.Choices[0].Message.Content,
		Usage: usage,
		Cost:  c.Cost(usage),
	}, nil
}

// Cost prices a call with the configured per-1K token rates
func (c *OpenAIClient) Cost(u ports.UsageData) float64 {
	return float64(u.PromptTokens)/1000*c.cfg.PromptPricePer1K +
		float64(u.CompletionTokens)/1000*c.cfg.CompletionPricePer1K
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
