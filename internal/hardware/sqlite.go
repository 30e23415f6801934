package hardware

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// timeLayout keeps fractional seconds fixed-width so TEXT timestamps sort
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders t for a TEXT column; the zero time becomes NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// parseTime reads a nullable TEXT timestamp; NULL and garbage yield the zero time.
func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// uniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// violation and, if so, the constraint text (e.g. "hardware_records.ip").
func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique &&
		sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	_, detail, _ := strings.Cut(sqliteErr.Error(), "failed: ")
	return detail, true
}

// recordConstraintError maps a hardware_records write failure onto the
// domain errors, or returns nil when err is not a uniqueness violation.
func recordConstraintError(err error) error {
	detail, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	if strings.Contains(detail, "hardware_records.ip") {
		return ErrIPInUse
	}
	return ErrRecordExists
}
