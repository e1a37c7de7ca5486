package search

import "context"

// Result is a single call log hit returned to the dashboard.
type Result struct {
	ID          string `json:"id"`
	CallID      string `json:"callId"`
	Shop        string `json:"shop"`
	PhoneNumber string `json:"phoneNumber"`
	Snippet     string `json:"snippet"`
	Summary     string `json:"summary"`
}

// Query describes a call log search, always scoped to one shop.
type Query struct {
	Shop   string
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over call logs.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// CallRecord is the data we index for a call.
type CallRecord struct {
	ID          string `json:"id"`
	CallID      string `json:"callId"`
	Shop        string `json:"shop"`
	PhoneNumber string `json:"phoneNumber"`
	Transcript  string `json:"transcript"`
	Summary     string `json:"summary"`
}
