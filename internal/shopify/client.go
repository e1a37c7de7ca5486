// Package shopify talks to the Shopify Admin GraphQL API and implements the
// OAuth install flow.
package shopify

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

var (
	// ErrReauthRequired means the stored access token was rejected and the
	// merchant has to go through the install flow again.
	ErrReauthRequired = errors.New("shopify: access token rejected")
	ErrRateLimited    = errors.New("shopify: rate limited")
)

// QueryError carries GraphQL-level errors returned with a 200 status.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "shopify: query failed: " + strings.Join(e.Messages, "; ")
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type Client struct {
	apiVersion string
	http       *http.Client

	// endpoint overrides the https://{shop} base in tests.
	endpoint func(shop string) string
}

func NewClient(apiVersion string) *Client {
	return &Client{
		apiVersion: apiVersion,
		http:       &http.Client{Timeout: 15 * time.Second},
		endpoint: func(shop string) string {
			return "https://" + shop
		},
	}
}

// Execute posts a GraphQL query to the shop's Admin API and decodes the data
// envelope into out.
func (c *Client) Execute(ctx context.Context, shop, accessToken, query string, variables map[string]any, out any) error {
	url := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.endpoint(shop), c.apiVersion)

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("shopify: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: post query: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrReauthRequired
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("shopify: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return &QueryError{Messages: messages}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("shopify: decode data: %w", err)
		}
	}
	return nil
}
