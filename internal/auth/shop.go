package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

// ValidShopDomain reports whether shop is a well-formed *.myshopify.com
// domain. Anything else is rejected before it reaches the database.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// SanitizeShop lowercases and trims a shop parameter and returns "" when the
// result is not a valid shop domain.
func SanitizeShop(shop string) string {
	shop = strings.ToLower(strings.TrimSpace(shop))
	if !ValidShopDomain(shop) {
		return ""
	}
	return shop
}

// VerifyShopifyHMAC checks the hmac query parameter Shopify appends to OAuth
// redirects. The message is every other parameter sorted by key and joined
// with &, signed with the app secret.
func VerifyShopifyHMAC(query url.Values, secret string) bool {
	signature := query.Get("hmac")
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		if key == "hmac" || key == "signature" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+strings.Join(query[key], ","))
	}
	message := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
