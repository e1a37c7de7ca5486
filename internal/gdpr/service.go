// Package gdpr processes the three Shopify privacy webhooks: customer data
// requests, customer redaction, and shop redaction. Every request is
// recorded as an audit row that moves pending -> completed or failed.
package gdpr

import (
	"context"
	"fmt"
	"log"
	"time"

	"switchboard/api/internal/search"
	"switchboard/api/internal/store"
	"switchboard/api/internal/util"
)

const (
	TypeDataRequest    = "customers/data_request"
	TypeCustomerRedact = "customers/redact"
	TypeShopRedact     = "shop/redact"

	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Customer identifies the data subject of a privacy request.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ExportPackage is what a completed data request hands to the merchant.
type ExportPackage struct {
	Shop        string         `json:"shop"`
	RequestID   string         `json:"requestId"`
	Customer    Customer       `json:"customer"`
	Calls       []store.CallLog `json:"calls"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Store is the subset of the data layer the privacy service needs.
type Store interface {
	InsertGdprRequest(ctx context.Context, item store.GdprRequest) (store.GdprRequest, error)
	MarkGdprRequest(ctx context.Context, requestID, status, failureReason string) error
	CustomerCallLogs(ctx context.Context, shop, phone, email string) ([]store.CallLog, error)
	DeleteCustomerCallLogs(ctx context.Context, shop, phone, email string) (int64, error)
	RedactShop(ctx context.Context, shop string) (store.RedactCounts, error)
}

// Service orchestrates privacy request processing. exporter and searcher
// may be nil when those backends are not configured.
type Service struct {
	store    Store
	exporter *Exporter
	searcher *search.Service
}

func NewService(s Store, exporter *Exporter, searcher *search.Service) *Service {
	return &Service{store: s, exporter: exporter, searcher: searcher}
}

// HandleDataRequest collects everything stored about one customer and, when
// an exporter is configured, uploads the package for the merchant. The
// returned audit row reflects the final status.
func (s *Service) HandleDataRequest(ctx context.Context, shop string, customer Customer, payload string) (store.GdprRequest, error) {
	request, err := s.record(ctx, shop, TypeDataRequest, customer, payload)
	if err != nil {
		return store.GdprRequest{}, err
	}

	calls, err := s.store.CustomerCallLogs(ctx, shop, customer.Phone, customer.Email)
	if err != nil {
		return s.fail(ctx, request, fmt.Errorf("collect customer data: %w", err))
	}

	pkg := ExportPackage{
		Shop:        shop,
		RequestID:   request.ID,
		Customer:    customer,
		Calls:       calls,
		GeneratedAt: time.Now().UTC(),
	}
	if s.exporter != nil {
		key, err := s.exporter.Upload(ctx, pkg)
		if err != nil {
			return s.fail(ctx, request, fmt.Errorf("upload export: %w", err))
		}
		log.Printf("gdpr: data request %s exported to %s (%d calls)", request.ID, key, len(calls))
	} else {
		log.Printf("gdpr: data request %s collected %d calls, no exporter configured", request.ID, len(calls))
	}

	return s.complete(ctx, request)
}

// HandleCustomerRedact deletes one customer's call logs and their search
// index entries.
func (s *Service) HandleCustomerRedact(ctx context.Context, shop string, customer Customer, payload string) (store.GdprRequest, error) {
	request, err := s.record(ctx, shop, TypeCustomerRedact, customer, payload)
	if err != nil {
		return store.GdprRequest{}, err
	}

	// IDs are needed before the rows go away so the index can be cleaned.
	calls, err := s.store.CustomerCallLogs(ctx, shop, customer.Phone, customer.Email)
	if err != nil {
		return s.fail(ctx, request, fmt.Errorf("find customer data: %w", err))
	}

	deleted, err := s.store.DeleteCustomerCallLogs(ctx, shop, customer.Phone, customer.Email)
	if err != nil {
		return s.fail(ctx, request, fmt.Errorf("delete customer data: %w", err))
	}

	if s.searcher != nil {
		for _, call := range calls {
			s.searcher.DeleteCall(call.ID)
		}
	}

	log.Printf("gdpr: customer redact %s removed %d call logs for %s", request.ID, deleted, shop)
	return s.complete(ctx, request)
}

// HandleShopRedact wipes every row belonging to the shop. The audit row is
// deleted along with the rest of the shop's data when the transaction
// succeeds; it only survives to record a failure.
func (s *Service) HandleShopRedact(ctx context.Context, shop, payload string) (store.RedactCounts, error) {
	request, err := s.record(ctx, shop, TypeShopRedact, Customer{}, payload)
	if err != nil {
		return store.RedactCounts{}, err
	}

	counts, err := s.store.RedactShop(ctx, shop)
	if err != nil {
		_, failErr := s.fail(ctx, request, fmt.Errorf("redact shop: %w", err))
		return store.RedactCounts{}, failErr
	}

	if s.searcher != nil {
		s.searcher.DeleteShopCalls(shop)
	}

	log.Printf("gdpr: shop redact removed %d rows for %s", counts.Total(), shop)
	return counts, nil
}

func (s *Service) record(ctx context.Context, shop, requestType string, customer Customer, payload string) (store.GdprRequest, error) {
	request := store.GdprRequest{
		ID:            util.NewID("gdpr"),
		Shop:          shop,
		RequestType:   requestType,
		Status:        StatusPending,
		CustomerID:    customer.ID,
		CustomerEmail: customer.Email,
		CustomerPhone: customer.Phone,
		Payload:       payload,
	}
	created, err := s.store.InsertGdprRequest(ctx, request)
	if err != nil {
		return store.GdprRequest{}, fmt.Errorf("record gdpr request: %w", err)
	}
	return created, nil
}

func (s *Service) complete(ctx context.Context, request store.GdprRequest) (store.GdprRequest, error) {
	if err := s.store.MarkGdprRequest(ctx, request.ID, StatusCompleted, ""); err != nil {
		return request, fmt.Errorf("mark gdpr request completed: %w", err)
	}
	request.Status = StatusCompleted
	return request, nil
}

func (s *Service) fail(ctx context.Context, request store.GdprRequest, cause error) (store.GdprRequest, error) {
	if err := s.store.MarkGdprRequest(ctx, request.ID, StatusFailed, cause.Error()); err != nil {
		log.Printf("gdpr: mark request %s failed: %v", request.ID, err)
	}
	request.Status = StatusFailed
	request.FailureReason = cause.Error()
	return request, cause
}
