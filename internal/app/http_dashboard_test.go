package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"switchboard/api/internal/ratelimit"
	"switchboard/api/internal/search"
	"switchboard/api/internal/store"
	"switchboard/api/internal/vapi"
)

// sessionToken mints an App Bridge session token for the test app
// credentials in testConfig.
func sessionToken(t *testing.T, shop string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":  "https://" + shop + "/admin",
		"dest": "https://" + shop,
		"aud":  "key",
		"exp":  time.Now().Add(time.Minute).Unix(),
		"iat":  time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign session token: %v", err)
	}
	return token
}

func get(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	recorder := get(t, newTestHandler(nil, nil, nil, nil), "/api/health", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestDashboardRequiresSessionToken(t *testing.T) {
	handler := newTestHandler(nil, nil, nil, nil)

	recorder := get(t, handler, "/api/dashboard", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == nil || body["timestamp"] == nil {
		t.Errorf("error envelope = %v", body)
	}

	recorder = get(t, handler, "/api/dashboard", "not-a-jwt")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", recorder.Code)
	}
}

func TestDashboardRejectsForeignToken(t *testing.T) {
	claims := jwt.MapClaims{
		"iss":  "https://acme.myshopify.com/admin",
		"dest": "https://acme.myshopify.com",
		"aud":  "key",
		"exp":  time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recorder := get(t, newTestHandler(nil, nil, nil, nil), "/api/dashboard", token)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestDashboardWithoutSessionIs401(t *testing.T) {
	recorder := get(t, newTestHandler(nil, nil, nil, nil), "/api/dashboard", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestDashboardPayload(t *testing.T) {
	fs := &fakeStore{
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
		getVapiConfigFn: func(ctx context.Context, shop string) (*store.VapiConfig, error) {
			return &store.VapiConfig{Shop: shop, AssistantID: "asst_1", PhoneNumber: "+15550001111"}, nil
		},
		listCallLogsFn: func(ctx context.Context, shop string, limit int) ([]store.CallLog, error) {
			return []store.CallLog{{ID: "call_1", Shop: shop, CreatedAt: time.Now()}}, nil
		},
	}

	recorder := get(t, newTestHandler(fs, nil, nil, nil), "/api/dashboard", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	var body Dashboard
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AssistantID != "asst_1" || body.PhoneNumber != "+15550001111" || len(body.RecentCalls) != 1 {
		t.Errorf("dashboard = %+v", body)
	}
}

func TestListCallsWithoutQuery(t *testing.T) {
	fs := &fakeStore{
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
		listCallLogsFn: func(ctx context.Context, shop string, limit int) ([]store.CallLog, error) {
			if limit != 5 {
				t.Errorf("limit = %d, want 5", limit)
			}
			return []store.CallLog{{ID: "call_1"}, {ID: "call_2"}}, nil
		},
	}

	recorder := get(t, newTestHandler(fs, nil, nil, nil), "/api/calls?limit=5", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body CallsPage
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 2 || body.Total != 2 {
		t.Errorf("page = %+v", body)
	}
}

func TestListCallsSearchGetsRequestContext(t *testing.T) {
	fs := &fakeStore{
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	var gotCtx context.Context
	fsearch := &fakeSearch{
		searchFn: func(ctx context.Context, q search.Query) search.Response {
			gotCtx = ctx
			return search.Response{Results: []search.Result{{ID: "call_1", Shop: q.Shop}}, Total: 1, Query: q.Text}
		},
	}
	svc := NewService(testConfig(), fs, &fakeVapi{}, &fakeShopify{}, &fakePrivacy{}, fsearch)
	handler := NewHTTPServer(svc, nil, "*").Handler()

	recorder := get(t, handler, "/api/calls?q=refund", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	if gotCtx == nil || gotCtx.Value(requestIDKey{}) == nil {
		t.Error("search did not receive the request context")
	}
}

func TestCompliance(t *testing.T) {
	fs := &fakeStore{
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
		listGdprRequestsFn: func(ctx context.Context, shop string, limit int) ([]store.GdprRequest, error) {
			return []store.GdprRequest{{ID: "gdpr_1", RequestType: "customers/redact", Status: "completed"}}, nil
		},
	}

	recorder := get(t, newTestHandler(fs, nil, nil, nil), "/api/compliance", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body struct {
		Requests []store.GdprRequest `json:"requests"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Requests) != 1 || body.Requests[0].Status != "completed" {
		t.Errorf("requests = %+v", body.Requests)
	}
}

func TestUpstreamRateLimitSurfacesAs429(t *testing.T) {
	fs := &fakeStore{
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
		getVapiConfigFn: func(ctx context.Context, shop string) (*store.VapiConfig, error) {
			return &store.VapiConfig{Shop: shop, VapiSignature: "sig"}, nil
		},
	}
	fv := &fakeVapi{
		createAssistantFn: func(context.Context, vapi.AssistantDefinition) (*vapi.Assistant, error) {
			return nil, vapi.ErrRateLimited
		},
	}
	handler := newTestHandler(fs, fv, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/assistant", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, "acme.myshopify.com"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestFunctionsRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, Max: 1})
	defer limiter.Close()

	fs := &fakeStore{
		getVapiConfigBySignatureFn: func(ctx context.Context, signature string) (*store.VapiConfig, error) {
			return shopConfig("acme.myshopify.com", signature), nil
		},
		getOfflineSessionFn: func(ctx context.Context, shop string) (*store.Session, error) {
			return validSession(shop), nil
		},
	}
	handler := NewHTTPServer(newTestService(fs, nil, nil, nil), limiter, "*").Handler()

	first := postFunctions(t, handler, "sig123", toolCallBody)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}
	second := postFunctions(t, handler, "sig123", toolCallBody)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
}

func TestPreflightIsBodylessNoContent(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/dashboard", nil)
	recorder := httptest.NewRecorder()
	newTestHandler(nil, nil, nil, nil).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", recorder.Code)
	}
	if recorder.Body.Len() != 0 {
		t.Errorf("preflight body = %q, want empty", recorder.Body.String())
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("preflight missing CORS headers")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	recorder := get(t, newTestHandler(nil, nil, nil, nil), "/api/nope", sessionToken(t, "acme.myshopify.com"))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}
