// Package audit persists domain events to the audit_logs table and
// broadcasts them over MQTT.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout keeps fractional seconds fixed-width so created_at sorts
// lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// AuditLog is one row of the audit trail: a single fleet event.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects audit rows. Zero fields match everything.
type Filter struct {
	Action     string    // create, update, delete, broadcast
	EntityType string    // hardware_record, channel_slot, reconciliation_job, conflict_report
	EntityID   string    // a single record, slot or job
	Since      time.Time // rows created at or after
	Limit      int       // default 50, capped at 200
	Offset     int
}

// ListResult is one page of audit rows.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores and queries the audit trail.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry, assigning ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details := sql.NullString{}
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	entityID := sql.NullString{String: entry.EntityID, Valid: entry.EntityID != ""}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType, entityID, entry.Source, details,
		entry.CreatedAt.UTC().Format(timestampLayout),
	); err != nil {
		return fmt.Errorf("inserting audit log %s: %w", entry.ID, err)
	}
	return nil
}

// List returns one page of matching rows, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = min(filter.Limit, maxPageSize)
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	filter.Offset = max(filter.Offset, 0)

	where, args := filter.clause()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, entity_type, entity_id, source, details, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// clause renders the filter as a parameterised WHERE clause.
func (f Filter) clause() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(timestampLayout))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditLog(rows *sql.Rows) (AuditLog, error) {
	var (
		entry     AuditLog
		entityID  sql.NullString
		details   sql.NullString
		createdAt string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &entry.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}

	entry.EntityID = entityID.String
	if details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
			return AuditLog{}, fmt.Errorf("decoding details of audit log %s: %w", entry.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}
