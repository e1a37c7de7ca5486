package store

import "time"

// Session is one Shopify OAuth grant. Offline sessions carry a null Expires
// and are treated as non-expiring.
type Session struct {
	ID          string
	Shop        string
	AccessToken string
	Scope       string
	IsOnline    bool
	Expires     *time.Time
	CreatedAt   time.Time
}

// VapiConfig is the per-shop voice-AI configuration. VapiSignature is the
// shared secret the vendor presents on webhook calls; it is unique across
// shops and is the only credential accepted from vendor-originated requests.
type VapiConfig struct {
	Shop          string
	VapiSignature string
	AssistantID   string
	PhoneNumber   string
	PhoneNumberID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CallLog struct {
	ID          string
	CallID      string
	Shop        string
	PhoneNumber string
	Duration    int
	Transcript  string
	Summary     string
	CreatedAt   time.Time
}

type GdprRequest struct {
	ID            string
	Shop          string
	RequestType   string
	Status        string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	Payload       string
	FailureReason string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// RedactCounts reports per-table row counts removed by a shop redaction.
type RedactCounts struct {
	Sessions     int64 `json:"sessions"`
	VapiConfigs  int64 `json:"vapiConfigs"`
	CallLogs     int64 `json:"callLogs"`
	GdprRequests int64 `json:"gdprRequests"`
}

func (c RedactCounts) Total() int64 {
	return c.Sessions + c.VapiConfigs + c.CallLogs + c.GdprRequests
}
