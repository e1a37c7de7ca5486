package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"switchboard/api/internal/gdpr"
)

// webhookCustomer matches the customer object in Shopify's privacy webhook
// payloads.
type webhookCustomer struct {
	ID    json.Number `json:"id"`
	Email string      `json:"email"`
	Phone string      `json:"phone"`
}

func (c webhookCustomer) toCustomer() gdpr.Customer {
	return gdpr.Customer{ID: c.ID.String(), Email: c.Email, Phone: c.Phone}
}

// ProcessWebhook dispatches a verified Shopify webhook by topic. Processing
// failures are logged and recorded on the audit row; the transport answer
// is 200 either way so Shopify does not retry forever.
func (s *Service) ProcessWebhook(ctx context.Context, topic, shop string, body []byte) error {
	switch topic {
	case "app/uninstalled":
		return s.HandleUninstall(ctx, shop)

	case "app/scopes_update":
		var payload struct {
			Current []string `json:"current"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode scopes payload: %w", err)
		}
		return s.updateSessionScopes(ctx, shop, payload.Current)

	case "customers/data_request":
		customer, err := decodeCustomer(body)
		if err != nil {
			return err
		}
		_, err = s.privacy.HandleDataRequest(ctx, shop, customer, string(body))
		return err

	case "customers/redact":
		customer, err := decodeCustomer(body)
		if err != nil {
			return err
		}
		_, err = s.privacy.HandleCustomerRedact(ctx, shop, customer, string(body))
		return err

	case "shop/redact":
		_, err := s.privacy.HandleShopRedact(ctx, shop, string(body))
		return err

	default:
		log.Printf("app: ignoring webhook topic %q for %s", topic, shop)
		return nil
	}
}

func decodeCustomer(body []byte) (gdpr.Customer, error) {
	var payload struct {
		Customer webhookCustomer `json:"customer"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return gdpr.Customer{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return payload.Customer.toCustomer(), nil
}

func (s *Service) updateSessionScopes(ctx context.Context, shop string, scopes []string) error {
	session, err := s.store.GetOfflineSession(ctx, shop)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	session.Scope = strings.Join(scopes, ",")
	return s.store.UpsertSession(ctx, *session)
}
