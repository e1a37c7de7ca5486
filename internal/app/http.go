package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"switchboard/api/internal/auth"
	"switchboard/api/internal/ratelimit"
	"switchboard/api/internal/shopify"
	"switchboard/api/internal/vapi"
)

type HTTPServer struct {
	service    *Service
	limiter    ratelimit.Limiter
	corsOrigin string
}

func NewHTTPServer(service *Service, limiter ratelimit.Limiter, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, limiter: limiter, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Install flow
	if r.Method == http.MethodGet && r.URL.Path == "/auth" {
		authorizeURL, err := s.service.BeginInstall(r.URL.Query().Get("shop"))
		if err != nil {
			s.respondError(w, err)
			return
		}
		http.Redirect(w, r, authorizeURL, http.StatusFound)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/auth/callback" {
		query := r.URL.Query()
		result, err := s.service.CompleteInstall(r.Context(), query, query.Get("shop"), query.Get("code"), query.Get("state"))
		if err != nil {
			s.respondError(w, err)
			return
		}
		http.Redirect(w, r, "https://"+result.Shop+"/admin/apps", http.StatusFound)
		return
	}

	// Vendor webhook, authenticated by per-shop signature
	if r.Method == http.MethodPost && r.URL.Path == "/api/vapi/functions" {
		s.handleVapiFunctions(w, r)
		return
	}

	// Shopify webhooks, authenticated by app-secret HMAC over the raw body
	if r.Method == http.MethodPost && r.URL.Path == "/api/webhooks" {
		s.handleShopifyWebhook(w, r)
		return
	}

	// Dashboard routes, authorized by an App Bridge session token. The shop
	// comes from the verified token, never from a query parameter.
	shop := ""
	if strings.HasPrefix(r.URL.Path, "/api/") {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Missing session token", nil)
			return
		}
		verified, err := auth.VerifySessionToken(token, s.service.cfg.ShopifyAPIKey, s.service.cfg.ShopifyAPISecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Session token rejected", nil)
			return
		}
		shop = verified
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		payload, err := s.service.GetDashboard(r.Context(), shop)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/assistant" {
		switch r.Method {
		case http.MethodPost:
			assistantID, err := s.service.CreateAssistant(r.Context(), shop)
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"assistantId": assistantID})
			return
		case http.MethodPatch:
			var body UpdateAssistantInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateAssistant(r.Context(), shop, body); err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.DeleteAssistant(r.Context(), shop); err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if r.URL.Path == "/api/phone-number" {
		switch r.Method {
		case http.MethodPost:
			number, err := s.service.CreatePhoneNumber(r.Context(), shop)
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"phoneNumber": number})
			return
		case http.MethodDelete:
			if err := s.service.DeletePhoneNumber(r.Context(), shop); err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/calls" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}

		payload, err := s.service.ListCalls(r.Context(), shop, q, limit)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/compliance" {
		requests, err := s.service.Compliance(r.Context(), shop)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVapiFunctions(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Advisory limit: fail open when the backend is unavailable.
			log.Printf("http: rate limiter: %v", err)
		} else if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.service.cfg.RateLimitWindow.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
	}

	// The signature is checked before anything else is read from the
	// request; an unknown caller learns nothing about stored sessions.
	cfg, ok := s.service.AuthenticateVapiRequest(r.Context(), r.Header.Get("X-Vapi-Signature"))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"results": []ToolResult{{ToolCallID: "unknown", Result: "Error: Unauthorized"}},
		})
		return
	}

	var req FunctionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"results": []ToolResult{{ToolCallID: "unknown", Result: "Error: Invalid request body"}},
		})
		return
	}

	if req.Message.Type == "end-of-call-report" {
		if err := s.service.RecordCallReport(r.Context(), cfg.Shop, req); err != nil {
			log.Printf("http: record call report for %s: %v", cfg.Shop, err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(req.Message.ToolCallList) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"results": []ToolResult{{ToolCallID: "unknown", Result: "Error: No tool call in request"}},
		})
		return
	}

	result := s.service.HandleToolCall(r.Context(), cfg.Shop, req.Message.ToolCallList[0])
	writeJSON(w, http.StatusOK, map[string]any{"results": []ToolResult{result}})
}

func (s *HTTPServer) handleShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	defer r.Body.Close()

	if !auth.VerifyWebhookHMAC(body, s.service.cfg.ShopifyAPISecret, r.Header.Get("X-Shopify-Hmac-Sha256")) {
		writeError(w, http.StatusUnauthorized, "INVALID_HMAC", "Webhook failed verification", nil)
		return
	}

	topic := r.Header.Get("X-Shopify-Topic")
	shop := auth.SanitizeShop(r.Header.Get("X-Shopify-Shop-Domain"))
	if shop == "" {
		writeError(w, http.StatusBadRequest, "INVALID_SHOP", "Missing shop domain header", nil)
		return
	}

	// A verified webhook is always acknowledged; failures live on the
	// audit trail, not in the response status.
	if err := s.service.ProcessWebhook(r.Context(), topic, shop, body); err != nil {
		log.Printf("http: webhook %s for %s: %v", topic, shop, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":      code,
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, shopify.ErrReauthRequired) {
		return http.StatusUnauthorized, "REAUTH_REQUIRED", "Shopify rejected the stored token, please reinstall the app", nil
	}
	if errors.Is(err, shopify.ErrRateLimited) || errors.Is(err, vapi.ErrRateLimited) {
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "Upstream API is rate limiting, try again shortly", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// upstreamRetryAfterSeconds is the hint sent with 429s caused by an
// upstream API throttling us, as opposed to our own fixed-window limit.
const upstreamRetryAfterSeconds = 5

// respondError maps err onto the error envelope. Rate-limit responses
// carry a Retry-After hint.
func (s *HTTPServer) respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(upstreamRetryAfterSeconds))
	}
	writeError(w, status, code, message, details)
}
