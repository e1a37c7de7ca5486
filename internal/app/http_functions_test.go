package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"switchboard/api/internal/shopify"
	"switchboard/api/internal/store"
)

func newTestHandler(fs *fakeStore, fv *fakeVapi, fsh *fakeShopify, fp *fakePrivacy) http.Handler {
	return NewHTTPServer(newTestService(fs, fv, fsh, fp), nil, "*").Handler()
}

func postFunctions(t *testing.T, handler http.Handler, signature, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/vapi/functions", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Vapi-Signature", signature)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResults(t *testing.T, recorder *httptest.ResponseRecorder) []ToolResult {
	t.Helper()
	var body struct {
		Results []ToolResult `json:"results"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	return body.Results
}

const toolCallBody = `{
	"message": {
		"type": "tool-calls",
		"toolCallList": [{
			"id": "tc_1",
			"function": {"name": "get_products", "arguments": {}}
		}]
	}
}`

func shopConfig(shop, signature string) *store.VapiConfig {
	return &store.VapiConfig{Shop: shop, VapiSignature: signature, AssistantID: "asst_1"}
}

func TestFunctionsValidSignatureReturnsProducts(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			if signature == "sig123" {
				return shopConfig("acme.myshopify.com", "sig123"), nil
			}
			return nil, nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	fsh := &fakeShopify{
		getProductsFn: func(ctx context.Context, shop, accessToken string, first int) ([]shopify.Product, error) {
			if accessToken != "tok_test" {
				t.Errorf("access token = %q", accessToken)
			}
			return []shopify.Product{
				{Title: "Coffee Mug", Price: "12.50", Available: 8},
				{Title: "Tea Pot", Price: "30.00", Available: 2},
			}, nil
		},
	}

	recorder := postFunctions(t, newTestHandler(fs, nil, fsh, nil), "sig123", toolCallBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	results := decodeResults(t, recorder)
	if len(results) != 1 || results[0].ToolCallID != "tc_1" {
		t.Fatalf("results = %+v", results)
	}
	want := "1. Coffee Mug - $12.50 (8 in stock)\n2. Tea Pot - $30.00 (2 in stock)"
	if results[0].Result != want {
		t.Errorf("result = %q, want %q", results[0].Result, want)
	}
}

func TestFunctionsUnknownSignatureRejectedWithoutSessionLookup(t *testing.T) {
	sessionLookups := 0
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return nil, nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			sessionLookups++
			return validSession(shop), nil
		},
	}

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig-unknown", toolCallBody)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	results := decodeResults(t, recorder)
	if len(results) != 1 || !strings.HasPrefix(results[0].Result, "Error") {
		t.Fatalf("results = %+v, want Error result", results)
	}
	if sessionLookups != 0 {
		t.Errorf("session lookups = %d, want 0", sessionLookups)
	}
}

func TestFunctionsMissingSignatureRejected(t *testing.T) {
	recorder := postFunctions(t, newTestHandler(nil, nil, nil, nil), "", toolCallBody)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestFunctionsExpiredSessionReturnsErrorResult(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return nil, nil
		},
	}

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig123", toolCallBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error result", recorder.Code)
	}
	results := decodeResults(t, recorder)
	if !strings.HasPrefix(results[0].Result, "Error:") {
		t.Fatalf("result = %q, want Error: prefix", results[0].Result)
	}
}

func TestFunctionsSearchProductsRequiresQuery(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	body := `{
		"message": {
			"type": "tool-calls",
			"toolCallList": [{
				"id": "tc_2",
				"function": {"name": "search_products", "arguments": {"query": ""}}
			}]
		}
	}`

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig123", body)
	results := decodeResults(t, recorder)
	if results[0].Result != "Error: query is required" {
		t.Errorf("result = %q", results[0].Result)
	}
}

func TestFunctionsCheckOrderStatus(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	fsh := &fakeShopify{
		findOrderFn: func(ctx context.Context, shop, accessToken, orderNumber, email string) (*shopify.Order, error) {
			if orderNumber != "#1001" {
				t.Errorf("order number = %q", orderNumber)
			}
			return &shopify.Order{Name: "#1001", FulfillmentStatus: "FULFILLED", Total: "42.00", Currency: "USD"}, nil
		},
	}
	body := `{
		"message": {
			"type": "tool-calls",
			"toolCallList": [{
				"id": "tc_3",
				"function": {"name": "check_order_status", "arguments": {"order_number": "#1001"}}
			}]
		}
	}`

	recorder := postFunctions(t, newTestHandler(fs, nil, fsh, nil), "sig123", body)
	results := decodeResults(t, recorder)
	if results[0].Result != "Order #1001 is fulfilled. The total was 42.00 USD." {
		t.Errorf("result = %q", results[0].Result)
	}
}

func TestFunctionsUnknownFunction(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	body := `{
		"message": {
			"type": "tool-calls",
			"toolCallList": [{
				"id": "tc_4",
				"function": {"name": "do_magic", "arguments": {}}
			}]
		}
	}`

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig123", body)
	results := decodeResults(t, recorder)
	if results[0].Result != "Error: unknown function do_magic" {
		t.Errorf("result = %q", results[0].Result)
	}
}

func TestFunctionsEndOfCallReportStoresCallLog(t *testing.T) {
	var stored store.CallLog
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		insertCallLogFn: func(ctx context.Context, item store.CallLog) error {
			stored = item
			return nil
		},
	}
	body := `{
		"message": {
			"type": "end-of-call-report",
			"call": {"id": "vcall_1", "customer": {"number": "+15551234567"}},
			"durationSeconds": 93.4,
			"artifact": {"transcript": "Caller asked about mugs."},
			"analysis": {"summary": "Product inquiry."}
		}
	}`

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig123", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if stored.CallID != "vcall_1" || stored.Shop != "acme.myshopify.com" {
		t.Errorf("stored = %+v", stored)
	}
	if stored.PhoneNumber != "+15551234567" || stored.Duration != 93 {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Transcript != "Caller asked about mugs." || stored.Summary != "Product inquiry." {
		t.Errorf("stored = %+v", stored)
	}
}

func TestFunctionsEmptyToolCallList(t *testing.T) {
	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
	}
	body := `{"message": {"type": "tool-calls", "toolCallList": []}}`

	recorder := postFunctions(t, newTestHandler(fs, nil, nil, nil), "sig123", body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}
