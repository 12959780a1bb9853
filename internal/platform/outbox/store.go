package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/docbook/docbook/internal/platform/db"
)

// Entry is one recorded event awaiting delivery.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  string          `json:"tenantId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store persists events in shared.outbox. Writes join the transaction carried
// by ctx so an event is recorded only when the state change commits.
type Store struct {
	q db.Querier
}

func NewStore(q db.Querier) *Store {
	if q == nil {
		panic("outbox: querier required")
	}
	return &Store{q: q}
}

// Publish records an event for the tenant in ctx.
func (s *Store) Publish(ctx context.Context, eventType string, payload any) error {
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return errors.New("outbox: no tenant in context")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	_, err = db.Conn(ctx, s.q).Exec(ctx, `
		INSERT INTO shared.outbox (id, tenant_id, type, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), tenantID, eventType, data)
	if err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

// FetchPending returns undelivered entries across all tenants that have
// failed fewer than maxAttempts times, least-tried first so a run of broken
// entries cannot starve newer ones.
func (s *Store) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]Entry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, tenant_id, type, payload, attempts, created_at
		FROM shared.outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY attempts, created_at
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		e.Payload = append([]byte(nil), payload...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered reports false when another dispatcher got there first.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE shared.outbox SET delivered_at = NOW()
		WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("outbox: mark delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed bumps the attempt counter and keeps the last error for operators.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := truncate(cause.Error(), maxErrorLen)
	_, err := s.q.Exec(ctx, `
		UPDATE shared.outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

const maxErrorLen = 500

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
