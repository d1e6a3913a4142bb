package llm

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

	"github.com/platinummonkey/monedita/pkg/conversation"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// DefaultSystemPrompt frames the assistant's replies
const DefaultSystemPrompt = `You are Monedita, a friendly expense assistant on WhatsApp.
Help the user record expenses, review spending and keep budgets.
Answer briefly in the user's language. Amounts are in Colombian pesos unless the user says otherwise.`

// ErrNoAPIKey is returned when no API key is configured
var ErrNoAPIKey = errors.New("anthropic API key not set")

// ClientConfig holds configuration for the Anthropic client
type ClientConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// Client answers user messages with the Anthropic Messages API
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	system     string
	httpClient *http.Client
}

// NewClient creates a new Client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:  cfg.MaxTokens,
		system:     cfg.SystemPrompt,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.system == "" {
		c.system = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		c.httpClient.Timeout = 60 * time.Second
	}
	return c, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Respond returns the assistant's reply to the conversation. The last
// message of history is the one being answered.
func (c *Client) Respond(ctx context.Context, userID string, history []conversation.Message) (string, error) {
	messages := toMessages(history)
	if len(messages) == 0 {
		return "", fmt.Errorf("no user message to respond to")
	}

	resp, err := c.call(ctx, apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.system,
		Messages:  messages,
	})
	if err != nil {
		return "", err
	}

	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return strings.Join(texts, "\n"), nil
}

// toMessages converts history into the alternating user/assistant sequence
// the API expects. Consecutive messages of the same role are merged and
// leading assistant messages are dropped.
func toMessages(history []conversation.Message) []message {
	var out []message
	for _, m := range history {
		role := string(m.Role)
		if len(out) == 0 && m.Role != conversation.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, message{Role: role, Content: m.Content})
	}
	if n := len(out); n > 0 && out[n-1].Role != string(conversation.RoleUser) {
		out = out[:n-1]
	}
	return out
}

func (c *Client) call(ctx context.Context, req apiRequest) (*apiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &apiResp, nil
}
