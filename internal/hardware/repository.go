package hardware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for hardware records.
type Repository interface {
	// GetByID returns ErrRecordNotFound if the record does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List returns every record, retired included.
	List(ctx context.Context) ([]Record, error)

	// ListByManufacturer returns all records of one manufacturer, retired included.
	ListByManufacturer(ctx context.Context, manufacturer string) ([]Record, error)

	// FindActiveByIP returns the non-retired record holding ip, or ErrRecordNotFound.
	FindActiveByIP(ctx context.Context, ip string) (*Record, error)

	// Create inserts a record, assigning an ID when empty.
	// Returns ErrRecordExists or ErrIPInUse on uniqueness violations.
	Create(ctx context.Context, r *Record) error

	// Update writes identity, metadata, capability and last_seen. Status,
	// status_changed_at, uptime and the stale flag are left to UpdateLifecycle.
	Update(ctx context.Context, r *Record) error

	// UpdateLifecycle writes only status, last_seen, status_changed_at,
	// uptime and the stale flag.
	UpdateLifecycle(ctx context.Context, r *Record) error
}

const recordColumns = `id, manufacturer, vendor_id, serial, mac, ip, name, model,
	firmware_version, role, status, capacity, capacity_exempt, uptime_seconds,
	stale, last_seen, status_changed_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed record repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a record by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM hardware_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying record by id: %w", err)
	}
	return rec, nil
}

// List retrieves all records ordered by manufacturer and creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	return r.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM hardware_records ORDER BY manufacturer, created_at, id`)
}

// ListByManufacturer retrieves the records of one manufacturer.
func (r *SQLiteRepository) ListByManufacturer(ctx context.Context, manufacturer string) ([]Record, error) {
	return r.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM hardware_records WHERE manufacturer = ? ORDER BY created_at, id`,
		manufacturer)
}

// FindActiveByIP retrieves the non-retired holder of ip.
func (r *SQLiteRepository) FindActiveByIP(ctx context.Context, ip string) (*Record, error) {
	if ip == "" {
		return nil, ErrRecordNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM hardware_records WHERE ip = ? AND status != 'retired'`, ip)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying record by ip: %w", err)
	}
	return rec, nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusDiscovered
	}
	if err := ValidateRecord(rec); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hardware_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Manufacturer, rec.VendorID, rec.Serial, rec.MAC, rec.IP,
		rec.Name, rec.Model, rec.FirmwareVersion,
		string(rec.Role), string(rec.Status),
		rec.Capacity, boolToInt(rec.CapacityExempt), rec.UptimeSeconds,
		boolToInt(rec.Stale), formatTime(rec.LastSeen), formatTime(rec.StatusChangedAt),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if domainErr := recordConstraintError(err); domainErr != nil {
			return domainErr
		}
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Update writes the observed fields of an existing record. The lifecycle
// columns are not touched, so a concurrent transition is never reverted.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE hardware_records SET
			vendor_id = ?, serial = ?, mac = ?, ip = ?, name = ?, model = ?,
			firmware_version = ?, role = ?, capacity = ?, capacity_exempt = ?,
			last_seen = ?, updated_at = ?
		WHERE id = ?`,
		rec.VendorID, rec.Serial, rec.MAC, rec.IP, rec.Name, rec.Model,
		rec.FirmwareVersion, string(rec.Role), rec.Capacity,
		boolToInt(rec.CapacityExempt), formatTime(rec.LastSeen),
		formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		if domainErr := recordConstraintError(err); domainErr != nil {
			return domainErr
		}
		return fmt.Errorf("updating record: %w", err)
	}
	return requireOneRow(result, ErrRecordNotFound)
}

// UpdateLifecycle writes the lifecycle fields only, leaving identity and
// metadata untouched.
func (r *SQLiteRepository) UpdateLifecycle(ctx context.Context, rec *Record) error {
	if _, ok := validStatuses[rec.Status]; !ok {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, rec.Status)
	}
	rec.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE hardware_records SET
			status = ?, last_seen = ?, status_changed_at = ?,
			uptime_seconds = ?, stale = ?, updated_at = ?
		WHERE id = ?`,
		string(rec.Status), formatTime(rec.LastSeen), formatTime(rec.StatusChangedAt),
		rec.UptimeSeconds, boolToInt(rec.Stale), formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		if domainErr := recordConstraintError(err); domainErr != nil {
			return domainErr
		}
		return fmt.Errorf("updating record lifecycle: %w", err)
	}
	return requireOneRow(result, ErrRecordNotFound)
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var role, status string
	var exempt, stale int
	var lastSeen, statusChangedAt, createdAt, updatedAt sql.NullString

	err := scanner.Scan(
		&rec.ID, &rec.Manufacturer, &rec.VendorID, &rec.Serial, &rec.MAC, &rec.IP,
		&rec.Name, &rec.Model, &rec.FirmwareVersion, &role, &status,
		&rec.Capacity, &exempt, &rec.UptimeSeconds,
		&stale, &lastSeen, &statusChangedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Role = Role(role)
	rec.Status = Status(status)
	rec.CapacityExempt = exempt != 0
	rec.Stale = stale != 0
	rec.LastSeen = parseTime(lastSeen)
	rec.StatusChangedAt = parseTime(statusChangedAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func requireOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
