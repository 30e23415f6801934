package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetsync-core/migrations"
)

// setupTestDB opens an in-memory database with the full schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.MigrateFrom(ctx, migrations.FS(), "."); err != nil {
		t.Fatalf("MigrateFrom() error = %v", err)
	}
	return db.DB
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	entries := []*AuditLog{
		{Action: "create", EntityType: "hardware_record", EntityID: "rec-1", Source: "fleetsync", CreatedAt: base},
		{Action: "update", EntityType: "hardware_record", EntityID: "rec-1", Source: "fleetsync",
			Details: map[string]any{"type": "status_changed"}, CreatedAt: base.Add(100 * time.Millisecond)},
		{Action: "create", EntityType: "channel_slot", EntityID: "rec-1:1", Source: "fleetsync", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 3, "channel_slot"},
		{"by action", Filter{Action: "update"}, 1, "hardware_record"},
		{"by entity type", Filter{EntityType: "hardware_record"}, 2, "hardware_record"},
		{"by entity id", Filter{EntityID: "rec-1:1"}, 1, "channel_slot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Logs) == 0 || res.Logs[0].EntityType != tt.wantFirst {
				t.Errorf("first entity = %+v, want %s", res.Logs, tt.wantFirst)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: "update"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Logs[0].Details["type"] != "status_changed" {
		t.Errorf("Details = %v", res.Logs[0].Details)
	}
	if !res.Logs[0].CreatedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v", res.Logs[0].CreatedAt)
	}
}

func TestSQLiteRepository_ListPagination(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &AuditLog{Action: "update", EntityType: "hardware_record", Source: "fleetsync"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Logs) != 1 {
		t.Errorf("Total = %d, len = %d, want 5 and 1", res.Total, len(res.Logs))
	}

	res, err = repo.List(ctx, Filter{Limit: 1000, Offset: -1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("Limit = %d, Offset = %d, want clamped 200 and 0", res.Limit, res.Offset)
	}
}

func TestSQLiteRepository_ListSince(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		entry := &AuditLog{Action: "broadcast", EntityType: "reconciliation_job", Source: "fleetsync",
			CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Since: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total = %d, want 2", res.Total)
	}
	if len(res.Logs) == 2 && res.Logs[1].EntityID != "" {
		t.Errorf("EntityID = %q, want empty", res.Logs[1].EntityID)
	}
}
