package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the Graph API root
const DefaultBaseURL = "https://graph.facebook.com/v18.0"

// MaxButtons is the most reply buttons one message can carry
const MaxButtons = 3

// ErrNotConfigured is returned when the client has no phone number ID or token
var ErrNotConfigured = errors.New("whatsapp client not configured")

// APIError is a non-2xx response from the Graph API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error (status %d): %s", e.StatusCode, e.Body)
}

// Button is a reply button
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ClientConfig holds configuration for the Cloud API client
type ClientConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// Client sends messages through the WhatsApp Cloud API
type Client struct {
	baseURL       string
	phoneNumberID string
	token         string
	httpClient    *http.Client
}

// NewClient creates a new Client
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.AccessToken,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// SendText sends a text message
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
}

// SendButtons sends a message with up to three reply buttons
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) error {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return fmt.Errorf("a button message needs 1 to %d buttons, got %d", MaxButtons, len(buttons))
	}

	replies := make([]map[string]interface{}, 0, len(buttons))
	for i, b := range buttons {
		id := b.ID
		if id == "" {
			id = fmt.Sprintf("btn_%d", i)
		}
		replies = append(replies, map[string]interface{}{
			"type":  "reply",
			"reply": Button{ID: id, Title: b.Title},
		})
	}

	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": replies},
		},
	})
}

// MarkRead marks an inbound message as read
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
}

func (c *Client) post(ctx context.Context, payload interface{}) error {
	if c.phoneNumberID == "" || c.token == "" {
		return ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
