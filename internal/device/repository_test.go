package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/database"
	_ "github.com/sscm-labs/sscm-relay/migrations"
)

// setupTestDB opens an in-memory database with the production schema.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

var (
	mainID = deviceid.MustParse("SSCM-ABC123")
	camID  = deviceid.MustParse("SSCM-CAM-ABC123")
)

func TestSQLiteRepository_UpsertCreatesAndMerges(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := repo.Upsert(ctx, mainID, Fields{PairingCode: strPtr("123456"), LastSeen: &seen})
	if err != nil {
		t.Fatalf("Upsert() create error = %v", err)
	}
	if created.Paired || created.PairingCode == nil || *created.PairingCode != "123456" {
		t.Fatalf("created = %+v", created)
	}

	// Partial update leaves the code alone.
	updated, err := repo.Upsert(ctx, mainID, Fields{CamDeviceID: &camID, CamSynced: boolPtr(true)})
	if err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}
	if updated.PairingCode == nil || *updated.PairingCode != "123456" {
		t.Errorf("pairing code lost: %+v", updated.PairingCode)
	}
	if updated.CamDeviceID == nil || *updated.CamDeviceID != camID || !updated.CamSynced {
		t.Errorf("cam fields = %v/%v", updated.CamDeviceID, updated.CamSynced)
	}

	found, err := repo.FindByDeviceID(ctx, mainID)
	if err != nil {
		t.Fatalf("FindByDeviceID() error = %v", err)
	}
	if found.LastSeen == nil || !found.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", found.LastSeen, seen)
	}
	if found.CreatedAt.IsZero() || found.UpdatedAt.Before(found.CreatedAt) {
		t.Errorf("timestamps = %v / %v", found.CreatedAt, found.UpdatedAt)
	}
}

func TestSQLiteRepository_FindMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	if _, err := repo.FindByDeviceID(context.Background(), mainID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdatePaired(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	if _, err := repo.UpdatePaired(ctx, mainID, PairedState{Paired: true}); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("UpdatePaired() on missing device error = %v", err)
	}

	if _, err := repo.Upsert(ctx, mainID, Fields{PairingCode: strPtr("123456")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	paired, err := repo.UpdatePaired(ctx, mainID, PairedState{Paired: true, PairedAt: &at, PairedBy: strPtr("admin-1")})
	if err != nil {
		t.Fatalf("UpdatePaired() error = %v", err)
	}
	if !paired.Paired || paired.PairingCode != nil || paired.PairedBy == nil || *paired.PairedBy != "admin-1" {
		t.Errorf("paired = %+v", paired)
	}

	// A paired device ignores a proposed code.
	again, err := repo.Upsert(ctx, mainID, Fields{PairingCode: strPtr("654321")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if again.PairingCode != nil {
		t.Errorf("paired device took a code: %v", *again.PairingCode)
	}

	if _, err := repo.UpdatePaired(ctx, mainID, PairedState{Paired: true, PairingCode: strPtr("1")}); !errors.Is(err, ErrInvalidPairedState) {
		t.Errorf("invalid state error = %v", err)
	}
}

func TestSQLiteRepository_ListPairedBy(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	ids := []string{"SSCM-000001", "SSCM-000002", "SSCM-000003"}
	for _, s := range ids {
		if _, err := repo.Upsert(ctx, deviceid.MustParse(s), Fields{}); err != nil {
			t.Fatalf("Upsert(%s) error = %v", s, err)
		}
	}
	now := time.Now()
	for _, s := range ids[:2] {
		if _, err := repo.UpdatePaired(ctx, deviceid.MustParse(s), PairedState{Paired: true, PairedAt: &now, PairedBy: strPtr("admin-1")}); err != nil {
			t.Fatalf("UpdatePaired(%s) error = %v", s, err)
		}
	}

	mine, err := repo.ListPairedBy(ctx, "admin-1")
	if err != nil {
		t.Fatalf("ListPairedBy() error = %v", err)
	}
	if len(mine) != 2 || mine[0].DeviceID.String() != "SSCM-000001" {
		t.Errorf("ListPairedBy() = %v", mine)
	}

	all, err := repo.List(ctx)
	if err != nil || len(all) != 3 {
		t.Errorf("List() = %d devices, err = %v", len(all), err)
	}
}
