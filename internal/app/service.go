package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"switchboard/api/internal/auth"
	"switchboard/api/internal/config"
	"switchboard/api/internal/gdpr"
	"switchboard/api/internal/search"
	"switchboard/api/internal/shopify"
	"switchboard/api/internal/store"
	"switchboard/api/internal/util"
	"switchboard/api/internal/vapi"
)

type dataStore interface {
	UpsertSession(context.Context, store.Session) error
	GetOfflineSession(context.Context, string) (*store.Session, error)
	RedactShop(context.Context, string) (store.RedactCounts, error)
	EnsureVapiConfig(context.Context, string, string) (store.VapiConfig, error)
	GetVapiConfig(context.Context, string) (*store.VapiConfig, error)
	GetVapiConfigBySignature(context.Context, string) (*store.VapiConfig, error)
	SetAssistant(context.Context, string, string) error
	SetPhoneNumber(context.Context, string, string, string) error
	InsertCallLog(context.Context, store.CallLog) error
	ListCallLogs(context.Context, string, int) ([]store.CallLog, error)
	ListGdprRequests(context.Context, string, int) ([]store.GdprRequest, error)
	Ping(context.Context) error
}

type vapiClient interface {
	CreateAssistant(context.Context, vapi.AssistantDefinition) (*vapi.Assistant, error)
	UpdateAssistant(context.Context, string, vapi.AssistantDefinition) (*vapi.Assistant, error)
	DeleteAssistant(context.Context, string) error
	CreatePhoneNumber(ctx context.Context, assistantID, name string) (*vapi.PhoneNumber, error)
	DeletePhoneNumber(context.Context, string) error
}

type shopifyClient interface {
	GetProducts(ctx context.Context, shop, accessToken string, first int) ([]shopify.Product, error)
	SearchProducts(ctx context.Context, shop, accessToken, query string, first int) ([]shopify.Product, error)
	FindOrder(ctx context.Context, shop, accessToken, orderNumber, email string) (*shopify.Order, error)
	ExchangeCode(ctx context.Context, shop, apiKey, apiSecret, code string) (*shopify.AccessToken, error)
}

type privacyService interface {
	HandleDataRequest(ctx context.Context, shop string, customer gdpr.Customer, payload string) (store.GdprRequest, error)
	HandleCustomerRedact(ctx context.Context, shop string, customer gdpr.Customer, payload string) (store.GdprRequest, error)
	HandleShopRedact(ctx context.Context, shop, payload string) (store.RedactCounts, error)
}

type callSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexCall(call search.CallRecord)
	DeleteShopCalls(shop string)
}

// Service holds the business logic behind the HTTP surface: the install
// flow, assistant provisioning, call history, and webhook processing.
type Service struct {
	cfg     config.Config
	store   dataStore
	vapi    vapiClient
	shopify shopifyClient
	privacy privacyService
	search  callSearcher

	mu     sync.Mutex
	states map[string]installState
}

type installState struct {
	shop      string
	expiresAt time.Time
}

func NewService(cfg config.Config, s dataStore, v vapiClient, sc shopifyClient, p privacyService, cs callSearcher) *Service {
	return &Service{
		cfg:     cfg,
		store:   s,
		vapi:    v,
		shopify: sc,
		privacy: p,
		search:  cs,
		states:  make(map[string]installState),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func sessionID(shop string) string {
	return "offline_" + shop
}

// ResolveShopSession returns the shop's valid offline session or a 401
// domain error telling the merchant to reinstall.
func (s *Service) ResolveShopSession(ctx context.Context, shop string) (store.Session, error) {
	session, err := s.store.GetOfflineSession(ctx, shop)
	if err != nil {
		return store.Session{}, err
	}
	if !store.SessionValid(session, time.Now()) {
		return store.Session{}, domainError(http.StatusUnauthorized, "SESSION_EXPIRED", "No valid session, please reinstall the app", nil)
	}
	return *session, nil
}

// BeginInstall validates the shop and returns the OAuth grant URL to
// redirect the merchant to. The state nonce is held for the callback.
func (s *Service) BeginInstall(shop string) (string, error) {
	shop = auth.SanitizeShop(shop)
	if shop == "" {
		return "", domainError(http.StatusBadRequest, "INVALID_SHOP", "Invalid shop domain", nil)
	}

	state := util.NewID("state")

	s.mu.Lock()
	s.states[state] = installState{shop: shop, expiresAt: time.Now().Add(10 * time.Minute)}
	for key, st := range s.states {
		if time.Now().After(st.expiresAt) {
			delete(s.states, key)
		}
	}
	s.mu.Unlock()

	redirectURI := s.cfg.AppBaseURL + "/auth/callback"
	return shopify.AuthorizeURL(shop, s.cfg.ShopifyAPIKey, s.cfg.ShopifyScopes, redirectURI, state), nil
}

func (s *Service) consumeState(state, shop string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return st.shop == shop && time.Now().Before(st.expiresAt)
}

// InstallResult is what a completed OAuth callback produces.
type InstallResult struct {
	Shop        string `json:"shop"`
	AssistantID string `json:"assistantId"`
}

// CompleteInstall handles the OAuth callback: verify the redirect, exchange
// the code, store the offline session, and make sure the shop has a vendor
// config and an assistant.
func (s *Service) CompleteInstall(ctx context.Context, query url.Values, shop, code, state string) (InstallResult, error) {
	shop = auth.SanitizeShop(shop)
	if shop == "" {
		return InstallResult{}, domainError(http.StatusBadRequest, "INVALID_SHOP", "Invalid shop domain", nil)
	}
	if !auth.VerifyShopifyHMAC(query, s.cfg.ShopifyAPISecret) {
		return InstallResult{}, domainError(http.StatusUnauthorized, "INVALID_HMAC", "OAuth redirect failed verification", nil)
	}
	if !s.consumeState(state, shop) {
		return InstallResult{}, domainError(http.StatusUnauthorized, "INVALID_STATE", "OAuth state mismatch", nil)
	}

	token, err := s.shopify.ExchangeCode(ctx, shop, s.cfg.ShopifyAPIKey, s.cfg.ShopifyAPISecret, code)
	if err != nil {
		return InstallResult{}, fmt.Errorf("exchange oauth code: %w", err)
	}

	if err := s.store.UpsertSession(ctx, store.Session{
		ID:          sessionID(shop),
		Shop:        shop,
		AccessToken: token.AccessToken,
		Scope:       token.Scope,
		IsOnline:    false,
	}); err != nil {
		return InstallResult{}, err
	}

	cfg, err := s.store.EnsureVapiConfig(ctx, shop, util.NewSecret())
	if err != nil {
		return InstallResult{}, err
	}

	if cfg.AssistantID == "" {
		assistantID, err := s.provisionAssistant(ctx, shop, cfg.VapiSignature)
		if err != nil {
			// The merchant can retry from the dashboard; the install itself
			// succeeded.
			log.Printf("app: provision assistant for %s: %v", shop, err)
		} else {
			cfg.AssistantID = assistantID
		}
	}

	return InstallResult{Shop: shop, AssistantID: cfg.AssistantID}, nil
}

func (s *Service) provisionAssistant(ctx context.Context, shop, signature string) (string, error) {
	def := vapi.DefaultAssistant(shopName(shop), s.cfg.AppBaseURL+"/api/vapi/functions", signature)
	assistant, err := s.vapi.CreateAssistant(ctx, def)
	if err != nil {
		return "", mapVapiError(err)
	}
	if err := s.store.SetAssistant(ctx, shop, assistant.ID); err != nil {
		return "", err
	}
	return assistant.ID, nil
}

func shopName(shop string) string {
	return strings.TrimSuffix(shop, ".myshopify.com")
}

// Dashboard is the payload backing the embedded app's main page.
type Dashboard struct {
	Shop        string          `json:"shop"`
	AssistantID string          `json:"assistantId"`
	PhoneNumber string          `json:"phoneNumber"`
	CallCount   int             `json:"callCount"`
	RecentCalls []store.CallLog `json:"recentCalls"`
}

func (s *Service) GetDashboard(ctx context.Context, shop string) (Dashboard, error) {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return Dashboard{}, err
	}

	cfg, err := s.store.GetVapiConfig(ctx, shop)
	if err != nil {
		return Dashboard{}, err
	}
	if cfg == nil {
		return Dashboard{}, domainError(http.StatusNotFound, "NOT_CONFIGURED", "App not configured for this shop", nil)
	}

	calls, err := s.store.ListCallLogs(ctx, shop, 10)
	if err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		Shop:        shop,
		AssistantID: cfg.AssistantID,
		PhoneNumber: cfg.PhoneNumber,
		CallCount:   len(calls),
		RecentCalls: calls,
	}, nil
}

// CreateAssistant provisions an assistant for a shop that does not have one
// yet.
func (s *Service) CreateAssistant(ctx context.Context, shop string) (string, error) {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return "", err
	}

	cfg, err := s.requireConfig(ctx, shop)
	if err != nil {
		return "", err
	}
	if cfg.AssistantID != "" {
		return "", domainError(http.StatusConflict, "ASSISTANT_EXISTS", "Assistant already provisioned", nil)
	}

	return s.provisionAssistant(ctx, shop, cfg.VapiSignature)
}

// UpdateAssistantInput carries the merchant-editable assistant settings.
type UpdateAssistantInput struct {
	FirstMessage   string `json:"firstMessage"`
	EndCallMessage string `json:"endCallMessage"`
	SystemPrompt   string `json:"systemPrompt"`
}

func (s *Service) UpdateAssistant(ctx context.Context, shop string, input UpdateAssistantInput) error {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return err
	}

	cfg, err := s.requireConfig(ctx, shop)
	if err != nil {
		return err
	}
	if cfg.AssistantID == "" {
		return domainError(http.StatusNotFound, "NO_ASSISTANT", "No assistant provisioned", nil)
	}

	def := vapi.AssistantDefinition{
		FirstMessage:   input.FirstMessage,
		EndCallMessage: input.EndCallMessage,
	}
	if input.SystemPrompt != "" {
		def.Model = &vapi.ModelConfig{
			Provider:     "openai",
			Model:        "gpt-4o",
			Temperature:  0.7,
			SystemPrompt: input.SystemPrompt,
		}
	}

	if _, err := s.vapi.UpdateAssistant(ctx, cfg.AssistantID, def); err != nil {
		return mapVapiError(err)
	}
	return nil
}

func (s *Service) DeleteAssistant(ctx context.Context, shop string) error {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return err
	}

	cfg, err := s.requireConfig(ctx, shop)
	if err != nil {
		return err
	}
	if cfg.AssistantID == "" {
		return domainError(http.StatusNotFound, "NO_ASSISTANT", "No assistant provisioned", nil)
	}

	if err := s.vapi.DeleteAssistant(ctx, cfg.AssistantID); err != nil && !errors.Is(err, vapi.ErrNotFound) {
		return mapVapiError(err)
	}
	return s.store.SetAssistant(ctx, shop, "")
}

// CreatePhoneNumber attaches a vendor-provisioned number to the shop's
// assistant.
func (s *Service) CreatePhoneNumber(ctx context.Context, shop string) (string, error) {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return "", err
	}

	cfg, err := s.requireConfig(ctx, shop)
	if err != nil {
		return "", err
	}
	if cfg.AssistantID == "" {
		return "", domainError(http.StatusPreconditionFailed, "NO_ASSISTANT", "Provision an assistant before requesting a number", nil)
	}
	if cfg.PhoneNumberID != "" {
		return "", domainError(http.StatusConflict, "NUMBER_EXISTS", "Phone number already provisioned", nil)
	}

	number, err := s.vapi.CreatePhoneNumber(ctx, cfg.AssistantID, shopName(shop))
	if err != nil {
		return "", mapVapiError(err)
	}
	if err := s.store.SetPhoneNumber(ctx, shop, number.Number, number.ID); err != nil {
		return "", err
	}
	return number.Number, nil
}

func (s *Service) DeletePhoneNumber(ctx context.Context, shop string) error {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return err
	}

	cfg, err := s.requireConfig(ctx, shop)
	if err != nil {
		return err
	}
	if cfg.PhoneNumberID == "" {
		return domainError(http.StatusNotFound, "NO_NUMBER", "No phone number provisioned", nil)
	}

	if err := s.vapi.DeletePhoneNumber(ctx, cfg.PhoneNumberID); err != nil && !errors.Is(err, vapi.ErrNotFound) {
		return mapVapiError(err)
	}
	return s.store.SetPhoneNumber(ctx, shop, "", "")
}

// CallsPage lists recent calls, optionally narrowed by a search query.
type CallsPage struct {
	Calls   []store.CallLog `json:"calls"`
	Results []search.Result `json:"results,omitempty"`
	Total   int             `json:"total"`
	Query   string          `json:"query,omitempty"`
}

func (s *Service) ListCalls(ctx context.Context, shop, query string, limit int) (CallsPage, error) {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return CallsPage{}, err
	}

	if query != "" && s.search != nil {
		resp := s.search.Search(ctx, search.Query{Shop: shop, Text: query, Limit: limit})
		return CallsPage{Results: resp.Results, Total: resp.Total, Query: query}, nil
	}

	calls, err := s.store.ListCallLogs(ctx, shop, limit)
	if err != nil {
		return CallsPage{}, err
	}
	return CallsPage{Calls: calls, Total: len(calls)}, nil
}

// Compliance lists the shop's privacy request audit trail.
func (s *Service) Compliance(ctx context.Context, shop string) ([]store.GdprRequest, error) {
	if _, err := s.ResolveShopSession(ctx, shop); err != nil {
		return nil, err
	}
	return s.store.ListGdprRequests(ctx, shop, 50)
}

// HandleUninstall tears down the shop's vendor resources and then deletes
// everything stored for the shop in one transaction, like a shop redaction.
func (s *Service) HandleUninstall(ctx context.Context, shop string) error {
	cfg, err := s.store.GetVapiConfig(ctx, shop)
	if err != nil {
		return err
	}
	if cfg != nil {
		if cfg.PhoneNumberID != "" {
			if err := s.vapi.DeletePhoneNumber(ctx, cfg.PhoneNumberID); err != nil && !errors.Is(err, vapi.ErrNotFound) {
				log.Printf("app: delete phone number for %s: %v", shop, err)
			}
		}
		if cfg.AssistantID != "" {
			if err := s.vapi.DeleteAssistant(ctx, cfg.AssistantID); err != nil && !errors.Is(err, vapi.ErrNotFound) {
				log.Printf("app: delete assistant for %s: %v", shop, err)
			}
		}
	}

	counts, err := s.store.RedactShop(ctx, shop)
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteShopCalls(shop)
	}
	log.Printf("app: uninstall removed %d rows for %s", counts.Total(), shop)
	return nil
}

func (s *Service) requireConfig(ctx context.Context, shop string) (store.VapiConfig, error) {
	cfg, err := s.store.GetVapiConfig(ctx, shop)
	if err != nil {
		return store.VapiConfig{}, err
	}
	if cfg == nil {
		return store.VapiConfig{}, domainError(http.StatusNotFound, "NOT_CONFIGURED", "App not configured for this shop", nil)
	}
	return *cfg, nil
}

func mapVapiError(err error) error {
	switch {
	case errors.Is(err, vapi.ErrAuthFailed):
		return domainError(http.StatusBadGateway, "VAPI_AUTH", "Voice vendor rejected our credentials", nil)
	case errors.Is(err, vapi.ErrRateLimited):
		return domainError(http.StatusTooManyRequests, "VAPI_RATE_LIMITED", "Voice vendor is rate limiting, try again shortly", nil)
	case errors.Is(err, vapi.ErrNotFound):
		return domainError(http.StatusNotFound, "VAPI_NOT_FOUND", "Voice vendor resource not found", nil)
	default:
		return err
	}
}
