package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over call transcripts and summaries with
// ts_headline snippets, scoped to the query's shop.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM call_logs
		WHERE shop = $1 AND fts @@ plainto_tsquery('english', $2)
	`, q.Shop, q.Text).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, call_id, shop, phone_number,
			ts_headline('english', coalesce(transcript, ''), plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet,
			summary,
			ts_rank(fts, plainto_tsquery('english', $2)) AS rank
		FROM call_logs
		WHERE shop = $1 AND fts @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC
		LIMIT %d OFFSET %d
	`, limit, offset), q.Shop, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.CallID, &r.Shop, &r.PhoneNumber, &r.Snippet, &r.Summary, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}
