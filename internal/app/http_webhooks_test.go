package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"switchboard/api/internal/gdpr"
	"switchboard/api/internal/store"
)

func postWebhook(t *testing.T, handler http.Handler, topic, shop, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks", strings.NewReader(body))
	req.Header.Set("X-Shopify-Topic", topic)
	req.Header.Set("X-Shopify-Shop-Domain", shop)
	if sign {
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(body))
		req.Header.Set("X-Shopify-Hmac-Sha256", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestWebhookRejectsInvalidHMAC(t *testing.T) {
	called := false
	fp := &fakePrivacy{
		shopRedactFn: func(ctx context.Context, shop, payload string) (store.RedactCounts, error) {
			called = true
			return store.RedactCounts{}, nil
		},
	}
	handler := newTestHandler(nil, nil, nil, fp)

	recorder := postWebhook(t, handler, "shop/redact", "acme.myshopify.com", `{}`, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	if called {
		t.Error("redact must not run for unverified webhooks")
	}
}

func TestWebhookShopRedact(t *testing.T) {
	var redactedShop string
	fp := &fakePrivacy{
		shopRedactFn: func(ctx context.Context, shop, payload string) (store.RedactCounts, error) {
			redactedShop = shop
			return store.RedactCounts{Sessions: 1, CallLogs: 2}, nil
		},
	}
	handler := newTestHandler(nil, nil, nil, fp)

	recorder := postWebhook(t, handler, "shop/redact", "acme.myshopify.com", `{"shop_domain":"acme.myshopify.com"}`, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if redactedShop != "acme.myshopify.com" {
		t.Errorf("redacted shop = %q", redactedShop)
	}
}

func TestWebhookProcessingFailureStillAcknowledged(t *testing.T) {
	fp := &fakePrivacy{
		shopRedactFn: func(ctx context.Context, shop, payload string) (store.RedactCounts, error) {
			return store.RedactCounts{}, errors.New("db closed")
		},
	}
	handler := newTestHandler(nil, nil, nil, fp)

	recorder := postWebhook(t, handler, "shop/redact", "acme.myshopify.com", `{}`, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite processing failure", recorder.Code)
	}
}

func TestWebhookCustomerRedactPassesCustomer(t *testing.T) {
	var got gdpr.Customer
	fp := &fakePrivacy{
		customerRedactFn: func(ctx context.Context, shop string, customer gdpr.Customer, payload string) (store.GdprRequest, error) {
			got = customer
			return store.GdprRequest{}, nil
		},
	}
	handler := newTestHandler(nil, nil, nil, fp)

	body := `{"shop_domain":"acme.myshopify.com","customer":{"id":123,"email":"jo@example.com","phone":"+15551234567"}}`
	recorder := postWebhook(t, handler, "customers/redact", "acme.myshopify.com", body, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got.ID != "123" || got.Email != "jo@example.com" || got.Phone != "+15551234567" {
		t.Errorf("customer = %+v", got)
	}
}

func TestWebhookDataRequest(t *testing.T) {
	var gotShop string
	fp := &fakePrivacy{
		dataRequestFn: func(ctx context.Context, shop string, customer gdpr.Customer, payload string) (store.GdprRequest, error) {
			gotShop = shop
			return store.GdprRequest{Status: "completed"}, nil
		},
	}
	handler := newTestHandler(nil, nil, nil, fp)

	body := `{"customer":{"id":456,"email":"sam@example.com"}}`
	recorder := postWebhook(t, handler, "customers/data_request", "acme.myshopify.com", body, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if gotShop != "acme.myshopify.com" {
		t.Errorf("shop = %q", gotShop)
	}
}

func TestWebhookUninstallRedactsShopData(t *testing.T) {
	var redactedShop string
	var deletedAssistant, deletedNumber string
	fs := &fakeStore{
		getVapiConfigFn: func(ctx context.Context, shop string) (*store.VapiConfig, error) {
			return &store.VapiConfig{Shop: shop, AssistantID: "asst_1", PhoneNumberID: "pn_1"}, nil
		},
		redactShopFn: func(ctx context.Context, shop string) (store.RedactCounts, error) {
			redactedShop = shop
			return store.RedactCounts{Sessions: 1, VapiConfigs: 1, CallLogs: 2, GdprRequests: 1}, nil
		},
	}
	fv := &fakeVapi{
		deleteAssistantFn: func(ctx context.Context, id string) error {
			deletedAssistant = id
			return nil
		},
		deletePhoneNumberFn: func(ctx context.Context, id string) error {
			deletedNumber = id
			return nil
		},
	}
	handler := newTestHandler(fs, fv, nil, nil)

	recorder := postWebhook(t, handler, "app/uninstalled", "acme.myshopify.com", `{}`, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if redactedShop != "acme.myshopify.com" {
		t.Errorf("redacted shop = %q, want acme.myshopify.com", redactedShop)
	}
	if deletedAssistant != "asst_1" || deletedNumber != "pn_1" {
		t.Errorf("deleted assistant=%q number=%q", deletedAssistant, deletedNumber)
	}
}

func TestWebhookUnknownTopicAcknowledged(t *testing.T) {
	handler := newTestHandler(nil, nil, nil, nil)
	recorder := postWebhook(t, handler, "orders/create", "acme.myshopify.com", `{}`, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
}

func TestWebhookMissingShopDomain(t *testing.T) {
	handler := newTestHandler(nil, nil, nil, nil)
	recorder := postWebhook(t, handler, "shop/redact", "", `{}`, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}
