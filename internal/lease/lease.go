// Package lease implements a persisted TTL advisory lock. Workers are
// request-scoped with no shared memory, so coordination lives in the
// database: acquire is a non-blocking compare-and-set upsert, and stale
// leases from crashed holders self-heal via expiry.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// ErrHeld means another worker holds the lease. It is contention, not a
// failure; callers skip the unit of work.
var ErrHeld = errors.New("lease_held")

// PollKey guards the whole reconciliation pass.
const PollKey = "poll"

// ServiceKey guards a single service's reconciliation.
func ServiceKey(serviceID int64) string {
	return fmt.Sprintf("service:%d", serviceID)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
}

// Store persists leases in the leases table.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewStore(p Params) *Store {
	return &Store{db: p.DB, clock: p.Clock}
}

// Acquire takes the lease when no unexpired record exists for the key.
// It never blocks; contention returns ErrHeld immediately.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO leases (lease_key, expires_at) VALUES (?, ?)
		 ON CONFLICT (lease_key) DO NOTHING`,
		key,
		expiresAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// A record exists; take it over only if it has expired.
	result = s.db.WithContext(ctx).Exec(
		`UPDATE leases SET expires_at = ? WHERE lease_key = ? AND expires_at <= ?`,
		expiresAt,
		key,
		now,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrHeld
	}
	return nil
}

// Release deletes the lease record. Releasing a lease that already expired
// or was never held is a no-op.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM leases WHERE lease_key = ?`,
		key,
	).Error
}
