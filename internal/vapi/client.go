// Package vapi is a thin REST client for the voice vendor's assistant and
// phone number APIs.
package vapi

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

var (
	ErrAuthFailed  = errors.New("vapi: authentication failed")
	ErrRateLimited = errors.New("vapi: rate limited")
	ErrNotFound    = errors.New("vapi: not found")
)

// APIError carries a non-2xx vendor response that is not one of the
// sentinel conditions above.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi: unexpected status %d: %s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type Assistant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type PhoneNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// AssistantDefinition is the payload sent when creating or updating an
// assistant. Zero-valued fields are omitted so partial updates work.
type AssistantDefinition struct {
	Name            string          `json:"name,omitempty"`
	FirstMessage    string          `json:"firstMessage,omitempty"`
	EndCallMessage  string          `json:"endCallMessage,omitempty"`
	Model           *ModelConfig    `json:"model,omitempty"`
	Voice           *VoiceConfig    `json:"voice,omitempty"`
	ServerURL       string          `json:"serverUrl,omitempty"`
	ServerURLSecret string          `json:"serverUrlSecret,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Functions       []FunctionDecl  `json:"functions,omitempty"`
}

type ModelConfig struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	SystemPrompt  string  `json:"systemPrompt,omitempty"`
}

type VoiceConfig struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type FunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// DefaultAssistant is the assistant provisioned for a newly installed shop.
// serverURL receives tool calls and end-of-call reports, authenticated by
// the per-shop secret.
func DefaultAssistant(shopName, serverURL, secret string) AssistantDefinition {
	return AssistantDefinition{
		Name:           shopName + " Receptionist",
		FirstMessage:   "Thank you for calling " + shopName + ". How can I help you today?",
		EndCallMessage: "Thank you for calling. Have a great day!",
		Model: &ModelConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.7,
			SystemPrompt: "You are a friendly phone receptionist for the online store " + shopName + ". " +
				"Help callers find products, check stock, and look up order status. " +
				"Keep answers short and conversational. If you cannot help, offer to take a message.",
		},
		Voice: &VoiceConfig{
			Provider: "11labs",
			VoiceID:  "rachel",
		},
		ServerURL:       serverURL,
		ServerURLSecret: secret,
		Functions: []FunctionDecl{
			{
				Name:        "get_products",
				Description: "List products available in the store",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			{
				Name:        "search_products",
				Description: "Search the store catalog by keyword",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Search keywords"},
					},
					"required": []string{"query"},
				},
			},
			{
				Name:        "check_order_status",
				Description: "Look up the status of an order by order number or customer email",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"order_number": map[string]any{"type": "string", "description": "Order number, e.g. #1001"},
						"email":        map[string]any{"type": "string", "description": "Customer email address"},
					},
				},
			},
		},
	}
}

func (c *Client) CreateAssistant(ctx context.Context, def AssistantDefinition) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPost, "/assistant", def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodGet, "/assistant/"+assistantID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAssistant(ctx context.Context, assistantID string, def AssistantDefinition) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPatch, "/assistant/"+assistantID, def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.do(ctx, http.MethodDelete, "/assistant/"+assistantID, nil, nil)
}

type createPhoneNumberRequest struct {
	Provider    string `json:"provider"`
	AssistantID string `json:"assistantId"`
	Name        string `json:"name,omitempty"`
}

func (c *Client) CreatePhoneNumber(ctx context.Context, assistantID, name string) (*PhoneNumber, error) {
	var out PhoneNumber
	req := createPhoneNumberRequest{Provider: "vapi", AssistantID: assistantID, Name: name}
	if err := c.do(ctx, http.MethodPost, "/phone-number", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPhoneNumber(ctx context.Context, numberID string) (*PhoneNumber, error) {
	var out PhoneNumber
	if err := c.do(ctx, http.MethodGet, "/phone-number/"+numberID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePhoneNumber(ctx context.Context, numberID string) error {
	return c.do(ctx, http.MethodDelete, "/phone-number/"+numberID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("vapi: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("vapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("vapi: decode response: %w", err)
		}
	}
	return nil
}
