package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/database"
	_ "github.com/sscm-labs/sscm-relay/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: ActionRegister, EntityType: EntityDevice, EntityID: "SSCM-ABC123", Source: SourceDevice, CreatedAt: base},
		{Action: ActionPair, EntityType: EntityDevice, EntityID: "SSCM-ABC123", UserID: "admin-1", Source: SourceAdmin,
			Details: map[string]any{"pairedAt": "2026-03-01T12:01:00Z"}, CreatedAt: base.Add(time.Minute)},
		{Action: ActionRegister, EntityType: EntityDevice, EntityID: "SSCM-000001", Source: SourceDevice, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !strings.HasPrefix(entries[i].ID, "aud-") {
			t.Errorf("ID = %q", entries[i].ID)
		}
	}

	res, err := repo.List(ctx, Filter{EntityType: EntityDevice, EntityID: "SSCM-ABC123"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 || len(res.Logs) != 2 {
		t.Fatalf("List() total=%d len=%d", res.Total, len(res.Logs))
	}
	if res.Logs[0].Action != ActionPair {
		t.Errorf("newest first: got %s", res.Logs[0].Action)
	}
	if res.Logs[0].UserID != "admin-1" || res.Logs[0].Details["pairedAt"] != "2026-03-01T12:01:00Z" {
		t.Errorf("pair entry = %+v", res.Logs[0])
	}
	if res.Limit != 50 {
		t.Errorf("default limit = %d", res.Limit)
	}
}

func TestList_Pagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := range 5 {
		if err := repo.Create(ctx, &AuditLog{
			Action: ActionRegister, EntityType: EntityDevice, Source: SourceDevice,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := repo.List(ctx, Filter{Action: ActionRegister, Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Logs) != 1 {
		t.Errorf("total=%d len=%d", res.Total, len(res.Logs))
	}

	res, err = repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("clamped limit=%d offset=%d", res.Limit, res.Offset)
	}
}

func TestList_Since(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Half-second offsets check that fractional timestamps still order as text.
	for i := range 4 {
		if err := repo.Create(ctx, &AuditLog{
			Action: ActionRegister, EntityType: EntityDevice, EntityID: "SSCM-ABC123", Source: SourceDevice,
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := repo.List(ctx, Filter{EntityID: "SSCM-ABC123", Since: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	if want := base.Add(1500 * time.Millisecond); !res.Logs[0].CreatedAt.Equal(want) {
		t.Errorf("newest = %v, want %v", res.Logs[0].CreatedAt, want)
	}
}

func TestFilterWhere(t *testing.T) {
	where, args := Filter{}.where()
	if where != "" || args != nil {
		t.Errorf("empty filter = %q %v", where, args)
	}

	where, args = Filter{Action: ActionPair, EntityID: "SSCM-ABC123"}.where()
	if where != "WHERE action = ? AND entity_id = ?" || len(args) != 2 {
		t.Errorf("where = %q %v", where, args)
	}
}
