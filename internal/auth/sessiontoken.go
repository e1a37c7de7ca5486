package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifySessionToken validates an App Bridge session token and returns the
// shop it was minted for. Tokens are HS256-signed with the app secret and
// addressed to the app's API key; the shop comes from the dest claim, so a
// caller-supplied shop parameter is never trusted.
func VerifySessionToken(token, apiKey, apiSecret string) (string, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) {
			return []byte(apiSecret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(apiKey),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected session token claims")
	}
	dest, _ := claims["dest"].(string)
	shop := SanitizeShop(strings.TrimPrefix(dest, "https://"))
	if shop == "" {
		return "", fmt.Errorf("session token dest %q is not a shop domain", dest)
	}
	return shop, nil
}
