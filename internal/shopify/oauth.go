package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// AuthorizeURL builds the merchant-facing OAuth grant URL.
func AuthorizeURL(shop, apiKey, scopes, redirectURI, state string) string {
	query := url.Values{}
	query.Set("client_id", apiKey)
	query.Set("scope", scopes)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	return "https://" + shop + "/admin/oauth/authorize?" + query.Encode()
}

type AccessToken struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeCode trades the OAuth authorization code for an offline access
// token.
func (c *Client) ExchangeCode(ctx context.Context, shop, apiKey, apiSecret, code string) (*AccessToken, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     apiKey,
		"client_secret": apiSecret,
		"code":          code,
	})
	if err != nil {
		return nil, fmt.Errorf("shopify: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(shop)+"/admin/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shopify: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopify: exchange code: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("shopify: token exchange status %d: %s", resp.StatusCode, raw)
	}

	var token AccessToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("shopify: decode token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("shopify: empty access token in response")
	}
	return &token, nil
}
