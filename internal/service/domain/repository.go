package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository loads eligible services and persists reconciliation state.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListEligible returns active or suspended services that can be reconciled.
// Services without a mapped remote identifier are skipped, and an allow-list
// of product IDs narrows the set when configured.
func (r *Repository) ListEligible(ctx context.Context, productAllowList []int64) ([]Service, error) {
	query := r.db.WithContext(ctx).
		Where("remote_service_id > 0").
		Where("status IN ?", []string{ServiceStatusActive, ServiceStatusSuspended})
	if len(productAllowList) > 0 {
		query = query.Where("product_id IN ?", productAllowList)
	}

	var services []Service
	if err := query.Order("id").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

// Find returns one service by ID, or nil when absent.
func (r *Repository) Find(ctx context.Context, serviceID int64) (*Service, error) {
	var svc Service
	err := r.db.WithContext(ctx).First(&svc, "id = ?", serviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetState returns the persisted state for a service, or nil when the service
// has never been reconciled.
func (r *Repository) GetState(ctx context.Context, serviceID int64) (*ServiceState, error) {
	var state ServiceState
	err := r.db.WithContext(ctx).First(&state, "service_id = ?", serviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ListStates returns all persisted states ordered by service ID.
func (r *Repository) ListStates(ctx context.Context) ([]ServiceState, error) {
	var states []ServiceState
	if err := r.db.WithContext(ctx).Order("service_id").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// SaveState upserts the reconciliation result for a service.
func (r *Repository) SaveState(ctx context.Context, state *ServiceState) error {
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cycle_start", "cycle_end",
			"base_quota_gb", "mode", "action", "unlimited",
			"last_used_gb", "last_remaining_gb", "last_status",
			"ports_limited", "service_suspended",
			"last_check_at", "updated_at",
		}),
	}).Create(state).Error
}
