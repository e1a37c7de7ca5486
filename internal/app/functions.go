package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"switchboard/api/internal/auth"
	"switchboard/api/internal/search"
	"switchboard/api/internal/shopify"
	"switchboard/api/internal/store"
	"switchboard/api/internal/util"
)

// FunctionsRequest is the vendor webhook body. Tool calls and end-of-call
// reports arrive on the same endpoint, distinguished by message type.
type FunctionsRequest struct {
	Message struct {
		Type         string     `json:"type"`
		ToolCallList []ToolCall `json:"toolCallList"`
		Call         struct {
			ID       string `json:"id"`
			Customer struct {
				Number string `json:"number"`
			} `json:"customer"`
		} `json:"call"`
		DurationSeconds float64 `json:"durationSeconds"`
		Artifact        struct {
			Transcript string `json:"transcript"`
		} `json:"artifact"`
		Analysis struct {
			Summary string `json:"summary"`
		} `json:"analysis"`
	} `json:"message"`
}

type ToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ToolResult is one entry of the {"results": [...]} envelope the vendor
// expects back. Failures are reported as a result string starting with
// "Error:" so the assistant can relay them to the caller.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// AuthenticateVapiRequest maps the webhook signature header to the owning
// shop. The signature is both the lookup key and the credential, so the
// final comparison is constant time.
func (s *Service) AuthenticateVapiRequest(ctx context.Context, signature string) (store.VapiConfig, bool) {
	if signature == "" {
		return store.VapiConfig{}, false
	}
	cfg, err := s.store.GetVapiConfigBySignature(ctx, signature)
	if err != nil {
		log.Printf("app: vapi signature lookup: %v", err)
		return store.VapiConfig{}, false
	}
	if cfg == nil || !auth.SecureCompare(signature, cfg.VapiSignature) {
		return store.VapiConfig{}, false
	}
	return *cfg, true
}

// HandleToolCall executes one assistant tool call against the shop's Admin
// API and returns the spoken-back result.
func (s *Service) HandleToolCall(ctx context.Context, shop string, call ToolCall) ToolResult {
	result, err := s.dispatchToolCall(ctx, shop, call)
	if err != nil {
		return ToolResult{ToolCallID: call.ID, Result: "Error: " + errorMessage(err)}
	}
	return ToolResult{ToolCallID: call.ID, Result: result}
}

func (s *Service) dispatchToolCall(ctx context.Context, shop string, call ToolCall) (string, error) {
	session, err := s.ResolveShopSession(ctx, shop)
	if err != nil {
		return "", err
	}

	var args struct {
		Query       string `json:"query"`
		OrderNumber string `json:"order_number"`
		Email       string `json:"email"`
	}
	if len(call.Function.Arguments) > 0 {
		if err := json.Unmarshal(call.Function.Arguments, &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments")
		}
	}

	switch call.Function.Name {
	case "get_products":
		products, err := s.shopify.GetProducts(ctx, shop, session.AccessToken, 10)
		if err != nil {
			return "", err
		}
		return formatProducts(products), nil

	case "search_products":
		if strings.TrimSpace(args.Query) == "" {
			return "", fmt.Errorf("query is required")
		}
		products, err := s.shopify.SearchProducts(ctx, shop, session.AccessToken, args.Query, 10)
		if err != nil {
			return "", err
		}
		return formatProducts(products), nil

	case "check_order_status":
		if args.OrderNumber == "" && args.Email == "" {
			return "", fmt.Errorf("order_number or email is required")
		}
		order, err := s.shopify.FindOrder(ctx, shop, session.AccessToken, args.OrderNumber, args.Email)
		if err != nil {
			return "", err
		}
		if order == nil {
			return "No order was found matching those details.", nil
		}
		return fmt.Sprintf("Order %s is %s. The total was %s %s.",
			order.Name, strings.ToLower(order.FulfillmentStatus), order.Total, order.Currency), nil

	default:
		return "", fmt.Errorf("unknown function %s", call.Function.Name)
	}
}

func formatProducts(products []shopify.Product) string {
	if len(products) == 0 {
		return "No products found."
	}
	lines := make([]string, 0, len(products))
	for i, p := range products {
		lines = append(lines, fmt.Sprintf("%d. %s - $%s (%d in stock)", i+1, p.Title, p.Price, p.Available))
	}
	return strings.Join(lines, "\n")
}

// RecordCallReport stores an end-of-call report as a call log and pushes it
// into the search index.
func (s *Service) RecordCallReport(ctx context.Context, shop string, req FunctionsRequest) error {
	msg := req.Message
	if msg.Call.ID == "" {
		return fmt.Errorf("call report missing call id")
	}

	call := store.CallLog{
		ID:          util.NewID("call"),
		CallID:      msg.Call.ID,
		Shop:        shop,
		PhoneNumber: msg.Call.Customer.Number,
		Duration:    int(msg.DurationSeconds),
		Transcript:  msg.Artifact.Transcript,
		Summary:     msg.Analysis.Summary,
	}
	if err := s.store.InsertCallLog(ctx, call); err != nil {
		return err
	}

	if s.search != nil {
		s.search.IndexCall(search.CallRecord{
			ID:          call.ID,
			CallID:      call.CallID,
			Shop:        call.Shop,
			PhoneNumber: call.PhoneNumber,
			Transcript:  call.Transcript,
			Summary:     call.Summary,
		})
	}
	return nil
}

func errorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
