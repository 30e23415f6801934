package hardware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
)

// ConflictRepository is the durable queue of dedup conflicts awaiting
// manual resolution.
type ConflictRepository interface {
	// Record stores c, or bumps the occurrence count of the matching open
	// conflict. created reports whether a new row was inserted.
	Record(ctx context.Context, c *Conflict) (created bool, err error)

	// ListOpen returns unresolved conflicts; an empty manufacturer lists all.
	ListOpen(ctx context.Context, manufacturer string) ([]Conflict, error)

	// Resolve marks an open conflict resolved. Returns ErrConflictNotFound
	// if the ID is unknown or already resolved.
	Resolve(ctx context.Context, id string) error
}

const conflictColumns = `id, manufacturer, reported_vendor_id, reported_serial,
	reported_mac, reported_ip, matched_record_id, ip_holder_id, reason,
	detected_at, last_seen_at, occurrences, resolved, resolved_at`

// SQLiteConflictRepository implements ConflictRepository using SQLite.
type SQLiteConflictRepository struct {
	db *sql.DB
}

// NewSQLiteConflictRepository creates a new SQLite-backed conflict queue.
func NewSQLiteConflictRepository(db *sql.DB) *SQLiteConflictRepository {
	return &SQLiteConflictRepository{db: db}
}

// Record inserts or refreshes an open conflict.
func (r *SQLiteConflictRepository) Record(ctx context.Context, c *Conflict) (bool, error) {
	now := time.Now().UTC()
	if c.DetectedAt.IsZero() {
		c.DetectedAt = now
	}
	c.LastSeenAt = now

	var created bool
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var id string
		var occurrences int
		var detectedAt sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT id, occurrences, detected_at FROM conflict_reports
			WHERE manufacturer = ? AND matched_record_id = ? AND ip_holder_id = ?
				AND reported_ip = ? AND resolved = 0`,
			c.Manufacturer, c.MatchedRecordID, c.IPHolderID, c.ReportedIP,
		).Scan(&id, &occurrences, &detectedAt)

		switch {
		case err == nil:
			c.ID = id
			c.Occurrences = occurrences + 1
			c.DetectedAt = parseTime(detectedAt)
			_, err = tx.ExecContext(ctx, `
				UPDATE conflict_reports
				SET occurrences = ?, last_seen_at = ?, reason = ?
				WHERE id = ?`,
				c.Occurrences, formatTime(c.LastSeenAt), c.Reason, c.ID)
			if err != nil {
				return fmt.Errorf("updating conflict: %w", err)
			}
			return nil

		case errors.Is(err, sql.ErrNoRows):
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.Occurrences = 1
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conflict_reports (`+conflictColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
				c.ID, c.Manufacturer, c.ReportedVendorID, c.ReportedSerial,
				c.ReportedMAC, c.ReportedIP, c.MatchedRecordID, c.IPHolderID, c.Reason,
				formatTime(c.DetectedAt), formatTime(c.LastSeenAt), c.Occurrences,
			)
			if err != nil {
				return fmt.Errorf("inserting conflict: %w", err)
			}
			created = true
			return nil

		default:
			return fmt.Errorf("querying open conflict: %w", err)
		}
	})
	return created, err
}

// ListOpen returns unresolved conflicts, oldest first.
func (r *SQLiteConflictRepository) ListOpen(ctx context.Context, manufacturer string) ([]Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_reports WHERE resolved = 0`
	var args []any
	if manufacturer != "" {
		query += ` AND manufacturer = ?`
		args = append(args, manufacturer)
	}
	query += ` ORDER BY detected_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		var resolved int
		var detectedAt, lastSeenAt, resolvedAt sql.NullString
		if err := rows.Scan(
			&c.ID, &c.Manufacturer, &c.ReportedVendorID, &c.ReportedSerial,
			&c.ReportedMAC, &c.ReportedIP, &c.MatchedRecordID, &c.IPHolderID, &c.Reason,
			&detectedAt, &lastSeenAt, &c.Occurrences, &resolved, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		c.Resolved = resolved != 0
		c.DetectedAt = parseTime(detectedAt)
		c.LastSeenAt = parseTime(lastSeenAt)
		c.ResolvedAt = parseTime(resolvedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflicts: %w", err)
	}
	return out, nil
}

// Resolve closes an open conflict.
func (r *SQLiteConflictRepository) Resolve(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conflict_reports SET resolved = 1, resolved_at = ?
		WHERE id = ? AND resolved = 0`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	return requireOneRow(result, ErrConflictNotFound)
}
