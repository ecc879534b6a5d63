package lease

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLeaseTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS leases (
			lease_key TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create leases: %v", err)
	}
	return db
}

func TestAcquireIsExclusive(t *testing.T) {
	db := setupLeaseTestDB(t)
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	store := &Store{db: db, clock: clock.Fixed{At: now}}

	ctx := context.Background()
	if err := store.Acquire(ctx, PollKey, 10*time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := store.Acquire(ctx, PollKey, 10*time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire = %v, want ErrHeld", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	db := setupLeaseTestDB(t)
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	store := &Store{db: db, clock: clock.Fixed{At: now}}

	ctx := context.Background()
	if err := store.Acquire(ctx, ServiceKey(42), time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.Release(ctx, ServiceKey(42)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.Acquire(ctx, ServiceKey(42), time.Minute); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	db := setupLeaseTestDB(t)
	start := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	first := &Store{db: db, clock: clock.Fixed{At: start}}
	if err := first.Acquire(context.Background(), PollKey, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A later worker sees the lease expired and takes it over.
	second := &Store{db: db, clock: clock.Fixed{At: start.Add(2 * time.Minute)}}
	if err := second.Acquire(context.Background(), PollKey, time.Minute); err != nil {
		t.Fatalf("takeover of expired lease: %v", err)
	}
}

func TestReleaseUnknownKeyIsNoop(t *testing.T) {
	db := setupLeaseTestDB(t)
	store := &Store{db: db, clock: clock.SystemClock{}}

	if err := store.Release(context.Background(), "never-acquired"); err != nil {
		t.Fatalf("release unknown key: %v", err)
	}
}

func TestServiceKeysAreIndependent(t *testing.T) {
	db := setupLeaseTestDB(t)
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	store := &Store{db: db, clock: clock.Fixed{At: now}}

	ctx := context.Background()
	if err := store.Acquire(ctx, ServiceKey(1), time.Minute); err != nil {
		t.Fatalf("acquire service 1: %v", err)
	}
	if err := store.Acquire(ctx, ServiceKey(2), time.Minute); err != nil {
		t.Fatalf("acquire service 2: %v", err)
	}
}
