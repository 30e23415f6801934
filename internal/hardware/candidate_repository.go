package hardware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// CandidateRepository persists manual discovery candidates.
type CandidateRepository interface {
	GetByID(ctx context.Context, id string) (*Candidate, error)
	ListByManufacturer(ctx context.Context, manufacturer string) ([]Candidate, error)
	Create(ctx context.Context, c *Candidate) error
	Delete(ctx context.Context, id string) error
}

// SQLiteCandidateRepository implements CandidateRepository using SQLite.
type SQLiteCandidateRepository struct {
	db *sql.DB
}

// NewSQLiteCandidateRepository creates a new SQLite-backed candidate repository.
func NewSQLiteCandidateRepository(db *sql.DB) *SQLiteCandidateRepository {
	return &SQLiteCandidateRepository{db: db}
}

// GetByID retrieves a manual candidate.
func (r *SQLiteCandidateRepository) GetByID(ctx context.Context, id string) (*Candidate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, manufacturer, ip, note, created_at
		FROM discovery_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCandidateNotFound
		}
		return nil, fmt.Errorf("querying candidate: %w", err)
	}
	return c, nil
}

// ListByManufacturer returns manual candidates in insertion order.
func (r *SQLiteCandidateRepository) ListByManufacturer(ctx context.Context, manufacturer string) ([]Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, manufacturer, ip, note, created_at
		FROM discovery_candidates
		WHERE manufacturer = ?
		ORDER BY created_at, id`, manufacturer)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return out, nil
}

// Create inserts a manual candidate. The IP is normalized; duplicates per
// manufacturer return ErrCandidateExists.
func (r *SQLiteCandidateRepository) Create(ctx context.Context, c *Candidate) error {
	addr, err := netip.ParseAddr(c.IP)
	if err != nil {
		return fmt.Errorf("%w: candidate ip %q: %w", ErrInvalidRecord, c.IP, err)
	}
	if c.Manufacturer == "" {
		return fmt.Errorf("%w: candidate manufacturer is required", ErrInvalidRecord)
	}
	c.IP = addr.Unmap().String()
	c.Source = SourceManual
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO discovery_candidates (id, manufacturer, ip, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Manufacturer, c.IP, c.Note, formatTime(c.CreatedAt),
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrCandidateExists
		}
		return fmt.Errorf("inserting candidate: %w", err)
	}
	return nil
}

// Delete removes a manual candidate.
func (r *SQLiteCandidateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM discovery_candidates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting candidate: %w", err)
	}
	return requireOneRow(result, ErrCandidateNotFound)
}

func scanCandidate(scanner rowScanner) (*Candidate, error) {
	var c Candidate
	var createdAt sql.NullString
	if err := scanner.Scan(&c.ID, &c.Manufacturer, &c.IP, &c.Note, &createdAt); err != nil {
		return nil, err
	}
	c.Source = SourceManual
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
