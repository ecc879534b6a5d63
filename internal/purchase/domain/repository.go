package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists and aggregates top-up purchases.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a purchase row.
func (r *Repository) Create(ctx context.Context, p *Purchase) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

// PaidExtraGb sums paid purchases for a service inside the cycle window.
func (r *Repository) PaidExtraGb(ctx context.Context, serviceID int64, cycleStart, cycleEnd time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(size_gb), 0)
		 FROM purchases
		 WHERE service_id = ? AND payment_status = ? AND cycle_start = ? AND cycle_end = ?`,
		serviceID,
		PaymentStatusPaid,
		cycleStart,
		cycleEnd,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountByActor counts a service's purchases by actor inside the cycle window,
// regardless of payment status. The auto-buy per-cycle cap is checked against
// this count so a pending invoice still consumes a slot.
func (r *Repository) CountByActor(ctx context.Context, serviceID int64, actor string, cycleStart, cycleEnd time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM purchases
		 WHERE service_id = ? AND actor = ? AND cycle_start = ? AND cycle_end = ?`,
		serviceID,
		actor,
		cycleStart,
		cycleEnd,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListPending returns purchases whose invoices have not settled yet.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Purchase
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", PaymentStatusPending).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkPaid flips a pending purchase to paid. Returns true when the row was
// still pending.
func (r *Repository) MarkPaid(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE purchases SET payment_status = ? WHERE id = ? AND payment_status = ?`,
		PaymentStatusPaid,
		id,
		PaymentStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByService returns a service's purchases, newest first.
func (r *Repository) ListByService(ctx context.Context, serviceID int64) ([]Purchase, error) {
	var rows []Purchase
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
