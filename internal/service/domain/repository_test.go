package domain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Service{}, &ServiceState{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedService(t *testing.T, db *gorm.DB, svc Service) {
	t.Helper()
	if svc.Status == "" {
		svc.Status = ServiceStatusActive
	}
	if svc.BillingCycle == "" {
		svc.BillingCycle = "monthly"
	}
	if svc.NextDueDate.IsZero() {
		svc.NextDueDate = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	}
	if err := db.Create(&svc).Error; err != nil {
		t.Fatalf("seed service: %v", err)
	}
}

func TestListEligibleFiltersUnmappedAndTerminated(t *testing.T) {
	db := setupServiceTestDB(t)
	seedService(t, db, Service{ID: 1, AccountID: 5, ProductID: 9, RemoteServiceID: 77})
	seedService(t, db, Service{ID: 2, AccountID: 5, ProductID: 9, RemoteServiceID: 0})
	seedService(t, db, Service{ID: 3, AccountID: 5, ProductID: 9, RemoteServiceID: 78, Status: "terminated"})
	seedService(t, db, Service{ID: 4, AccountID: 5, ProductID: 9, RemoteServiceID: 79, Status: ServiceStatusSuspended})

	repo := NewRepository(db)
	services, err := repo.ListEligible(context.Background(), nil)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("eligible = %d, want 2", len(services))
	}
	if services[0].ID != 1 || services[1].ID != 4 {
		t.Fatalf("eligible IDs = %d, %d", services[0].ID, services[1].ID)
	}
}

func TestListEligibleProductAllowList(t *testing.T) {
	db := setupServiceTestDB(t)
	seedService(t, db, Service{ID: 1, AccountID: 5, ProductID: 9, RemoteServiceID: 77})
	seedService(t, db, Service{ID: 2, AccountID: 5, ProductID: 10, RemoteServiceID: 78})

	repo := NewRepository(db)
	services, err := repo.ListEligible(context.Background(), []int64{10})
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(services) != 1 || services[0].ID != 2 {
		t.Fatalf("services = %+v, want only product 10", services)
	}
}

func TestGetStateMissingReturnsNil(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := NewRepository(db)

	state, err := repo.GetState(context.Background(), 42)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != nil {
		t.Fatalf("state = %+v, want nil for unreconciled service", state)
	}
}

func TestSaveStateUpserts(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	state := &ServiceState{
		ServiceID:   1,
		LastUsedGb:  10,
		LastStatus:  StateStatusOK,
		LastCheckAt: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("first save: %v", err)
	}

	state.LastUsedGb = 120
	state.LastStatus = StateStatusLimited
	state.PortsLimited = true
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := repo.GetState(ctx, 1)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if loaded.LastUsedGb != 120 || loaded.LastStatus != StateStatusLimited || !loaded.PortsLimited {
		t.Fatalf("state = %+v, want the second save", loaded)
	}

	var rows int64
	if err := db.Model(&ServiceState{}).Count(&rows).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want a single upserted row", rows)
	}
}
