package hardware

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChannelRepository defines persistence for channel slots.
type ChannelRepository interface {
	// ListByRecord returns a record's slots ordered by channel.
	ListByRecord(ctx context.Context, recordID string) ([]ChannelSlot, error)

	// Create inserts a slot. Returns ErrSlotExists on a duplicate channel.
	Create(ctx context.Context, slot *ChannelSlot) error

	// Delete removes one slot. Returns ErrSlotNotFound if absent.
	Delete(ctx context.Context, recordID string, channel int) error
}

// SQLiteChannelRepository implements ChannelRepository using SQLite.
type SQLiteChannelRepository struct {
	db *sql.DB
}

// NewSQLiteChannelRepository creates a new SQLite-backed slot repository.
func NewSQLiteChannelRepository(db *sql.DB) *SQLiteChannelRepository {
	return &SQLiteChannelRepository{db: db}
}

// ListByRecord returns the slots owned by recordID.
func (r *SQLiteChannelRepository) ListByRecord(ctx context.Context, recordID string) ([]ChannelSlot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record_id, channel, direction, state, created_at
		FROM channel_slots
		WHERE record_id = ?
		ORDER BY channel`, recordID)
	if err != nil {
		return nil, fmt.Errorf("querying channel slots: %w", err)
	}
	defer rows.Close()

	var slots []ChannelSlot
	for rows.Next() {
		var s ChannelSlot
		var direction, state string
		var createdAt sql.NullString
		if err := rows.Scan(&s.RecordID, &s.Channel, &direction, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning channel slot: %w", err)
		}
		s.Direction = Direction(direction)
		s.State = SlotState(state)
		s.CreatedAt = parseTime(createdAt)
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channel slots: %w", err)
	}
	return slots, nil
}

// Create inserts a slot.
func (r *SQLiteChannelRepository) Create(ctx context.Context, slot *ChannelSlot) error {
	if slot.State == "" {
		slot.State = SlotFree
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_slots (record_id, channel, direction, state, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		slot.RecordID, slot.Channel, string(slot.Direction), string(slot.State),
		formatTime(slot.CreatedAt),
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrSlotExists
		}
		return fmt.Errorf("inserting channel slot: %w", err)
	}
	return nil
}

// Delete removes the slot (recordID, channel).
func (r *SQLiteChannelRepository) Delete(ctx context.Context, recordID string, channel int) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_slots WHERE record_id = ? AND channel = ?`, recordID, channel)
	if err != nil {
		return fmt.Errorf("deleting channel slot: %w", err)
	}
	return requireOneRow(result, ErrSlotNotFound)
}
