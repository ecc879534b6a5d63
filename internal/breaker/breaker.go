// Package breaker tracks consecutive pass failures and suppresses upstream
// polling while the failure count is above threshold within the cool-down.
package breaker

import (
	"context"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// counterRow is the single persisted failure counter.
const counterRow = 1

type Params struct {
	fx.In

	DB    *gorm.DB
	Cfg   config.Config
	Clock clock.Clock
}

// Breaker persists the failure counter so any worker instance sees the same
// state.
type Breaker struct {
	db        *gorm.DB
	clock     clock.Clock
	threshold int
	cooldown  time.Duration
}

func NewBreaker(p Params) *Breaker {
	return &Breaker{
		db:        p.DB,
		clock:     p.Clock,
		threshold: p.Cfg.Breaker.Threshold,
		cooldown:  p.Cfg.Breaker.Cooldown,
	}
}

type counter struct {
	Count      int
	LastFailAt *time.Time
}

// Open reports whether polling should be suppressed: the failure count has
// reached the threshold and the last failure is within the cool-down window.
func (b *Breaker) Open(ctx context.Context) (bool, error) {
	var row counter
	err := b.db.WithContext(ctx).Raw(
		`SELECT count, last_fail_at FROM failure_counter WHERE id = ?`,
		counterRow,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	if row.Count < b.threshold || row.LastFailAt == nil {
		return false, nil
	}
	return b.clock.Now().Sub(*row.LastFailAt) < b.cooldown, nil
}

// RecordFailure increments the counter and stamps the failure time.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	now := b.clock.Now()
	return b.db.WithContext(ctx).Exec(
		`INSERT INTO failure_counter (id, count, last_fail_at) VALUES (?, 1, ?)
		 ON CONFLICT (id) DO UPDATE SET count = failure_counter.count + 1, last_fail_at = excluded.last_fail_at`,
		counterRow,
		now,
	).Error
}

// Reset zeroes the counter after a successful pass.
func (b *Breaker) Reset(ctx context.Context) error {
	return b.db.WithContext(ctx).Exec(
		`UPDATE failure_counter SET count = 0 WHERE id = ?`,
		counterRow,
	).Error
}
