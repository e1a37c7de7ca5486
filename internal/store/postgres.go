package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertSession(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, shop, access_token, scope, is_online, expires)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			scope=EXCLUDED.scope,
			is_online=EXCLUDED.is_online,
			expires=EXCLUDED.expires
	`, session.ID, session.Shop, session.AccessToken, session.Scope, session.IsOnline, session.Expires)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetOfflineSession returns the most recent session for the shop that holds a
// non-empty access token and has not expired. A null expires means a
// non-expiring offline token. Returns nil when no valid session exists.
func (s *PostgresStore) GetOfflineSession(ctx context.Context, shop string) (*Session, error) {
	var item Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop, access_token, scope, is_online, expires, created_at
		FROM sessions
		WHERE shop=$1
		  AND access_token <> ''
		  AND (expires IS NULL OR expires > NOW())
		ORDER BY created_at DESC
		LIMIT 1
	`, shop).Scan(&item.ID, &item.Shop, &item.AccessToken, &item.Scope, &item.IsOnline, &item.Expires, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offline session: %w", err)
	}
	return &item, nil
}

// EnsureVapiConfig creates the per-shop config with the given signature if no
// row exists, and returns the surviving row. ON CONFLICT DO NOTHING on the
// unique shop column keeps concurrent installs from creating duplicates.
func (s *PostgresStore) EnsureVapiConfig(ctx context.Context, shop, signature string) (VapiConfig, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vapi_configs (shop, vapi_signature)
		VALUES ($1, $2)
		ON CONFLICT (shop) DO NOTHING
	`, shop, signature)
	if err != nil {
		return VapiConfig{}, fmt.Errorf("ensure vapi config: %w", err)
	}

	config, err := s.GetVapiConfig(ctx, shop)
	if err != nil {
		return VapiConfig{}, err
	}
	if config == nil {
		return VapiConfig{}, fmt.Errorf("ensure vapi config: row missing after insert for %s", shop)
	}
	return *config, nil
}

func (s *PostgresStore) GetVapiConfig(ctx context.Context, shop string) (*VapiConfig, error) {
	var item VapiConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT shop, vapi_signature, assistant_id, phone_number, phone_number_id, created_at, updated_at
		FROM vapi_configs
		WHERE shop=$1
	`, shop).Scan(&item.Shop, &item.VapiSignature, &item.AssistantID, &item.PhoneNumber, &item.PhoneNumberID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vapi config: %w", err)
	}
	return &item, nil
}

// GetVapiConfigBySignature is the single lookup that maps a vendor webhook
// secret to its owning shop. The signature column is unique.
func (s *PostgresStore) GetVapiConfigBySignature(ctx context.Context, signature string) (*VapiConfig, error) {
	var item VapiConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT shop, vapi_signature, assistant_id, phone_number, phone_number_id, created_at, updated_at
		FROM vapi_configs
		WHERE vapi_signature=$1
	`, signature).Scan(&item.Shop, &item.VapiSignature, &item.AssistantID, &item.PhoneNumber, &item.PhoneNumberID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vapi config by signature: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) SetAssistant(ctx context.Context, shop, assistantID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vapi_configs SET assistant_id=$2, updated_at=NOW() WHERE shop=$1
	`, shop, assistantID)
	if err != nil {
		return fmt.Errorf("set assistant: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetPhoneNumber(ctx context.Context, shop, number, numberID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vapi_configs SET phone_number=$2, phone_number_id=$3, updated_at=NOW() WHERE shop=$1
	`, shop, number, numberID)
	if err != nil {
		return fmt.Errorf("set phone number: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCallLog(ctx context.Context, item CallLog) error {
	// Vendor call reports can be redelivered; call_id is unique.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, call_id, shop, phone_number, duration, transcript, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO NOTHING
	`, item.ID, item.CallID, item.Shop, item.PhoneNumber, item.Duration, item.Transcript, item.Summary)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCallLogs(ctx context.Context, shop string, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, shop, phone_number, duration, transcript, summary, created_at
		FROM call_logs
		WHERE shop=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, shop, limit)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close()

	return scanCallLogs(rows)
}

// CustomerCallLogs returns a shop's call logs belonging to one customer:
// phone number equality, or the customer's email or phone appearing in the
// transcript. Empty identifiers never match.
func (s *PostgresStore) CustomerCallLogs(ctx context.Context, shop, phone, email string) ([]CallLog, error) {
	rows, err := s.db.QueryContext(ctx, customerCallLogSelect, shop, phone, email)
	if err != nil {
		return nil, fmt.Errorf("customer call logs: %w", err)
	}
	defer rows.Close()

	return scanCallLogs(rows)
}

const customerCallLogMatch = `
	shop=$1
	AND (
		($2 <> '' AND phone_number = $2)
		OR ($3 <> '' AND transcript LIKE '%' || $3 || '%')
		OR ($2 <> '' AND transcript LIKE '%' || $2 || '%')
	)
`

const customerCallLogSelect = `
	SELECT id, call_id, shop, phone_number, duration, transcript, summary, created_at
	FROM call_logs
	WHERE ` + customerCallLogMatch + `
	ORDER BY created_at DESC
`

func (s *PostgresStore) DeleteCustomerCallLogs(ctx context.Context, shop, phone, email string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM call_logs WHERE `+customerCallLogMatch, shop, phone, email)
	if err != nil {
		return 0, fmt.Errorf("delete customer call logs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete customer call logs rows: %w", err)
	}
	return affected, nil
}

func scanCallLogs(rows *sql.Rows) ([]CallLog, error) {
	items := make([]CallLog, 0)
	for rows.Next() {
		var item CallLog
		if err := rows.Scan(&item.ID, &item.CallID, &item.Shop, &item.PhoneNumber, &item.Duration, &item.Transcript, &item.Summary, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call logs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertGdprRequest(ctx context.Context, item GdprRequest) (GdprRequest, error) {
	if item.Status == "" {
		item.Status = "pending"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO gdpr_requests (id, shop, request_type, status, customer_id, customer_email, customer_phone, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, item.ID, item.Shop, item.RequestType, item.Status, item.CustomerID, item.CustomerEmail, item.CustomerPhone, item.Payload).Scan(&item.CreatedAt)
	if err != nil {
		return GdprRequest{}, fmt.Errorf("insert gdpr request: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) MarkGdprRequest(ctx context.Context, requestID, status, failureReason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gdpr_requests
		SET status=$2, failure_reason=$3, processed_at=NOW()
		WHERE id=$1
	`, requestID, status, failureReason)
	if err != nil {
		return fmt.Errorf("mark gdpr request: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGdprRequests(ctx context.Context, shop string, limit int) ([]GdprRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop, request_type, status, customer_id, customer_email, customer_phone, payload, failure_reason, created_at, processed_at
		FROM gdpr_requests
		WHERE shop=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, shop, limit)
	if err != nil {
		return nil, fmt.Errorf("list gdpr requests: %w", err)
	}
	defer rows.Close()

	items := make([]GdprRequest, 0)
	for rows.Next() {
		var item GdprRequest
		if err := rows.Scan(
			&item.ID,
			&item.Shop,
			&item.RequestType,
			&item.Status,
			&item.CustomerID,
			&item.CustomerEmail,
			&item.CustomerPhone,
			&item.Payload,
			&item.FailureReason,
			&item.CreatedAt,
			&item.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan gdpr request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gdpr requests: %w", err)
	}
	return items, nil
}

// RedactShop removes every row belonging to the shop across all four tables
// in one transaction. Running it again for the same shop deletes nothing and
// returns no error.
func (s *PostgresStore) RedactShop(ctx context.Context, shop string) (RedactCounts, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RedactCounts{}, fmt.Errorf("begin redact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var counts RedactCounts
	deletes := []struct {
		query string
		out   *int64
	}{
		{`DELETE FROM sessions WHERE shop=$1`, &counts.Sessions},
		{`DELETE FROM vapi_configs WHERE shop=$1`, &counts.VapiConfigs},
		{`DELETE FROM call_logs WHERE shop=$1`, &counts.CallLogs},
		{`DELETE FROM gdpr_requests WHERE shop=$1`, &counts.GdprRequests},
	}
	for _, del := range deletes {
		result, err := tx.ExecContext(ctx, del.query, shop)
		if err != nil {
			return RedactCounts{}, fmt.Errorf("redact shop: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return RedactCounts{}, fmt.Errorf("redact shop rows: %w", err)
		}
		*del.out = affected
	}

	if err := tx.Commit(); err != nil {
		return RedactCounts{}, fmt.Errorf("commit redact tx: %w", err)
	}
	return counts, nil
}

// SessionValid reports whether a session can authenticate Admin API calls.
// A null Expires is a non-expiring offline token.
func SessionValid(session *Session, now time.Time) bool {
	if session == nil {
		return false
	}
	if session.AccessToken == "" {
		return false
	}
	if session.Expires == nil {
		return true
	}
	return session.Expires.After(now)
}
