package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists security events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit_events table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          VARCHAR(40) PRIMARY KEY,
			event_type  VARCHAR(40) NOT NULL,
			message     TEXT NOT NULL,
			risk_level  VARCHAR(10) NOT NULL CHECK (risk_level IN ('low', 'medium', 'high', 'critical')),
			user_id     VARCHAR(255),
			ip          VARCHAR(45),
			user_agent  TEXT,
			endpoint    TEXT,
			metadata    JSONB NOT NULL DEFAULT '{}',
			tags        TEXT[] NOT NULL DEFAULT '{}',
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_type
			ON audit_events (event_type, occurred_at DESC);

		CREATE INDEX IF NOT EXISTS idx_audit_events_ip
			ON audit_events (ip, occurred_at DESC) WHERE ip IS NOT NULL;
	`)
	return err
}

func (s *PostgresStore) WriteBatch(ctx context.Context, events []*Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (id, event_type, message, risk_level, user_id, ip, user_agent, endpoint, metadata, tags, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			metadataJSON = []byte("{}")
		}

		var userID, ip, userAgent, endpoint sql.NullString
		if e.User != nil {
			userID = sql.NullString{String: e.User.ID, Valid: true}
		}
		if e.Request != nil {
			if e.Request.IP != "" {
				ip = sql.NullString{String: e.Request.IP, Valid: true}
			}
			if e.Request.UserAgent != "" {
				userAgent = sql.NullString{String: e.Request.UserAgent, Valid: true}
			}
			if e.Request.Endpoint != "" {
				endpoint = sql.NullString{String: e.Request.Endpoint, Valid: true}
			}
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID,
			string(e.Type),
			e.Message,
			string(e.RiskLevel),
			userID,
			ip,
			userAgent,
			endpoint,
			metadataJSON,
			pq.Array(e.Tags),
			e.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

// ListByType returns recent events of the given type, newest first.
func (s *PostgresStore) ListByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, message, risk_level, user_id, ip, user_agent, endpoint, metadata, tags, occurred_at
		FROM audit_events
		WHERE event_type = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, string(eventType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var e Event
		var typ, riskLevel string
		var userID, ip, userAgent, endpoint sql.NullString
		var metadataJSON []byte
		var tags pq.StringArray
		var occurredAt time.Time

		if err := rows.Scan(&e.ID, &typ, &e.Message, &riskLevel, &userID, &ip, &userAgent, &endpoint, &metadataJSON, &tags, &occurredAt); err != nil {
			continue
		}
		e.Type = EventType(typ)
		e.RiskLevel = RiskLevel(riskLevel)
		e.Timestamp = occurredAt
		e.Tags = tags
		if userID.Valid {
			e.User = &UserContext{ID: userID.String}
		}
		if ip.Valid || userAgent.Valid || endpoint.Valid {
			e.Request = &RequestContext{IP: ip.String, UserAgent: userAgent.String, Endpoint: endpoint.String}
		}
		e.Metadata = make(map[string]any)
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
		result = append(result, &e)
	}
	return result, nil
}
