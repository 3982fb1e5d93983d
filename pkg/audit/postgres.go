package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Package-level singleton instance.
var pgInstance *PostgresStore

// Init initializes the audit package with config.
func Init(cfg PostgresConfig) error {
	if !cfg.Enabled {
		return nil
	}

	store, err := newPostgresStore(cfg)
	if err != nil {
		return err
	}

	pgInstance = store
	return nil
}

// NewStore returns the PostgresStore singleton instance.
// Returns nil if the audit trail is not enabled or not initialized.
func NewStore() *PostgresStore {
	return pgInstance
}

// Close closes the PostgresStore connection.
func Close(ctx context.Context) error {
	if pgInstance != nil {
		return pgInstance.Close(ctx)
	}
	return nil
}

// TaskRecord is a finished task persisted to the audit trail.
type TaskRecord struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AgentType   string         `json:"agent_type"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Params      map[string]any `json:"params"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// EventRecord is a bus event persisted to the audit trail.
type EventRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryFilter narrows task history queries.
type HistoryFilter struct {
	AgentType string
	Status    string
	Type      string
	Since     time.Time
	Limit     int
}

// PostgresStore persists task history and bus events for audit queries.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

func newPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return store, nil
}

// ensureSchema creates the audit tables and indexes if they don't exist.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS task_history (
    id           TEXT        PRIMARY KEY,
    type         TEXT        NOT NULL,
    agent_type   TEXT        NOT NULL,
    status       TEXT        NOT NULL,
    priority     TEXT        NOT NULL,
    params       JSONB,
    result       JSONB,
    error        TEXT,
    submitted_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_task_history_agent  ON task_history (agent_type);
CREATE INDEX IF NOT EXISTS idx_task_history_status ON task_history (status);

CREATE TABLE IF NOT EXISTS audit_events (
    id        TEXT        PRIMARY KEY,
    type      TEXT        NOT NULL,
    source    TEXT        NOT NULL,
    payload   JSONB,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type   ON audit_events (type);
CREATE INDEX IF NOT EXISTS idx_audit_events_source ON audit_events (source);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// RecordTask inserts a finished task into the history (UPSERT on reschedule).
func (s *PostgresStore) RecordTask(ctx context.Context, rec TaskRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal task params: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}

	query := `
INSERT INTO task_history (id, type, agent_type, status, priority, params, result, error, submitted_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status, result = EXCLUDED.result,
              error = EXCLUDED.error, completed_at = EXCLUDED.completed_at
`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Type, rec.AgentType, rec.Status, rec.Priority,
		params, result, rec.Error, rec.SubmittedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record task: %w", err)
	}
	return nil
}

// RecordEvent inserts a bus event into the audit trail.
func (s *PostgresStore) RecordEvent(ctx context.Context, rec EventRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
INSERT INTO audit_events (id, type, source, payload, timestamp)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`
	_, err = s.pool.Exec(ctx, query, rec.ID, rec.Type, rec.Source, payload, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// taskHistoryQuery builds the task history SQL for a filter.
func taskHistoryQuery(sb sq.StatementBuilderType, filter HistoryFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	builder := sb.
		Select("id", "type", "agent_type", "status", "priority", "params", "result", "error", "submitted_at", "completed_at").
		From("task_history").
		OrderBy("completed_at DESC").
		Limit(uint64(limit))

	if filter.AgentType != "" {
		builder = builder.Where(sq.Eq{"agent_type": filter.AgentType})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"type": filter.Type})
	}
	if !filter.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"completed_at": filter.Since})
	}

	return builder.ToSql()
}

// eventsQuery builds the audit event SQL for a type filter.
func eventsQuery(sb sq.StatementBuilderType, eventType string, limit int) (string, []any, error) {
	if limit <= 0 {
		limit = 100
	}

	builder := sb.
		Select("id", "type", "source", "payload", "timestamp").
		From("audit_events").
		OrderBy("timestamp DESC").
		Limit(uint64(limit))

	if eventType != "" {
		builder = builder.Where(sq.Eq{"type": eventType})
	}

	return builder.ToSql()
}

// TaskHistory returns finished tasks matching the filter, newest first.
func (s *PostgresStore) TaskHistory(ctx context.Context, filter HistoryFilter) ([]TaskRecord, error) {
	query, args, err := taskHistoryQuery(s.sb, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var params, result []byte
		var errText *string
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.AgentType, &rec.Status, &rec.Priority,
			&params, &result, &errText, &rec.SubmittedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task record: %w", err)
		}
		if len(params) > 0 {
			_ = json.Unmarshal(params, &rec.Params)
		}
		if len(result) > 0 {
			_ = json.Unmarshal(result, &rec.Result)
		}
		if errText != nil {
			rec.Error = *errText
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Events returns audited bus events of a type, newest first.
func (s *PostgresStore) Events(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	query, args, err := eventsQuery(s.sb, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build events query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Source, &payload, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event record: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &rec.Payload)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
