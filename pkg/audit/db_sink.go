package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS audit_events (
	id BIGINT PRIMARY KEY,
	occurred_at TIMESTAMP NOT NULL,
	actor_user_id VARCHAR(128) NOT NULL DEFAULT '',
	tenant_id VARCHAR(64) NOT NULL DEFAULT '',
	action VARCHAR(64) NOT NULL,
	resource_code VARCHAR(255) NOT NULL DEFAULT '',
	succeeded BOOLEAN NOT NULL,
	severity VARCHAR(16) NOT NULL,
	reason VARCHAR(64) NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	source_ip VARCHAR(64) NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	request_id VARCHAR(64) NOT NULL DEFAULT ''
)`

const createEventsIndexes = `
CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action)`

const eventColumns = `id, occurred_at, actor_user_id, tenant_id, action, resource_code,
	succeeded, severity, reason, detail, source_ip, user_agent, request_id`

// DBSink mirrors events into the append-only audit_events table. The table
// is kept apart from any entity tables so retention can rotate it on its own.
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates the sink and ensures the table exists
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &DBSink{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return s, nil
}

func (s *DBSink) ensureTable() error {
	if _, err := s.db.Exec(createEventsTable); err != nil {
		return err
	}
	_, err := s.db.Exec(createEventsIndexes)
	return err
}

func (s *DBSink) Name() string { return "sql" }

// Write inserts e. Re-delivering an id already stored is ignored.
func (s *DBSink) Write(ctx context.Context, e Event) error {
	query := `INSERT INTO audit_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp, e.ActorUserID, e.TenantID, e.Action, e.ResourceCode,
		e.Succeeded, string(e.Severity), e.Reason, e.Detail, e.SourceIP, e.UserAgent, e.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query reads stored events with the same semantics as Log.Query
func (s *DBSink) Query(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.UserID != "" {
		add("actor_user_id = ?", f.UserID)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Succeeded != nil {
		add("succeeded = ?", *f.Succeeded)
	}
	if !f.From.IsZero() {
		add("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= ?", f.To)
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	if f.ResourceCode != "" {
		add("resource_code LIKE ?", "%"+f.ResourceCode+"%")
	}
	if f.SourceIP != "" {
		add("source_ip = ?", f.SourceIP)
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at ASC, id ASC"
	switch {
	case f.Limit > 0:
		query += " LIMIT " + strconv.Itoa(f.Limit)
	case f.Offset > 0:
		// sqlite requires LIMIT before OFFSET
		query += " LIMIT " + strconv.FormatInt(math.MaxInt64, 10)
	}
	if f.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e        Event
			severity string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorUserID, &e.TenantID, &e.Action, &e.ResourceCode,
			&e.Succeeded, &severity, &e.Reason, &e.Detail, &e.SourceIP, &e.UserAgent, &e.RequestID); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Severity = Severity(severity)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return out, nil
}

// Close does not close the shared *sql.DB
func (s *DBSink) Close() error {
	return nil
}
