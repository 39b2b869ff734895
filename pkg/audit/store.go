package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// MemoryStore keeps events in memory. Used by tests and the dev binary.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) ByRequest(_ context.Context, tenantID, requestID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		// Tenant key is a first-class predicate, not a post-filter.
		if e.TenantID != tenantID {
			continue
		}
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded event. Test helper.
func (s *MemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// PostgresStore persists events to the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate ensures the audit_events table exists.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			audit_id   TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			tenant_id  TEXT NOT NULL,
			actor      TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			payload    JSONB NOT NULL,
			hmac_chain TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("audit migrate: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS audit_events_request
		ON audit_events (tenant_id, request_id, ts)`); err != nil {
		return fmt.Errorf("audit migrate index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (audit_id, request_id, tenant_id, actor, ts, event_type, payload, hmac_chain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.AuditID, e.RequestID, e.TenantID, e.Actor, e.TS, string(e.Type), payload, e.Chain)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByRequest(ctx context.Context, tenantID, requestID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, request_id, tenant_id, actor, ts, event_type, payload, hmac_chain
		FROM audit_events
		WHERE tenant_id = $1 AND request_id = $2
		ORDER BY ts ASC, audit_id ASC`,
		tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		var payload []byte
		if err := rows.Scan(&e.AuditID, &e.RequestID, &e.TenantID, &e.Actor, &e.TS, &typ, &payload, &e.Chain); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("audit: unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
