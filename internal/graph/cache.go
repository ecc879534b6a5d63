// Package graph caches exported usage graphs keyed by a canonical request
// hash. Rows are superseded, never updated; pruning is left to an external
// retention job.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one persisted graph payload.
type Entry struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	ServiceID   int64          `gorm:"not null"`
	RangeStart  time.Time      `gorm:"not null"`
	RangeEnd    time.Time      `gorm:"not null"`
	PayloadHash string         `gorm:"type:text;not null"`
	JSONPayload datatypes.JSON `gorm:"column:json_payload;type:jsonb;not null"`
	CachedAt    time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "graph_cache" }

// Exporter is the upstream graph export call.
type Exporter interface {
	ExportGraph(ctx context.Context, remoteServiceID int64, start, end time.Time, raw bool, impersonate string) (json.RawMessage, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Clock    clock.Clock
	Exporter Exporter
}

// Cache serves graph exports, hitting upstream only when no row newer than
// the TTL exists for the same canonical request.
type Cache struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	exporter Exporter
	ttl      time.Duration
}

func NewCache(p Params) *Cache {
	return &Cache{
		db:       p.DB,
		log:      p.Log.Named("graph.cache"),
		genID:    p.GenID,
		clock:    p.Clock,
		exporter: p.Exporter,
		ttl:      p.Cfg.Graph.TTL,
	}
}

type request struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Raw    bool   `json:"raw"`
}

// Export returns the graph payload for the window, served from cache when a
// fresh row exists for the same canonical request.
func (c *Cache) Export(ctx context.Context, serviceID, remoteServiceID int64, start, end time.Time, raw bool, impersonate string) (json.RawMessage, error) {
	hash, err := requestHash(start, end, raw)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()

	var row Entry
	err = c.db.WithContext(ctx).
		Where("service_id = ? AND payload_hash = ? AND cached_at >= ?", serviceID, hash, now.Add(-c.ttl)).
		Order("cached_at DESC").
		First(&row).Error
	if err == nil {
		return json.RawMessage(row.JSONPayload), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	payload, err := c.exporter.ExportGraph(ctx, remoteServiceID, start, end, raw, impersonate)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		ID:          c.genID.Generate(),
		ServiceID:   serviceID,
		RangeStart:  start,
		RangeEnd:    end,
		PayloadHash: hash,
		JSONPayload: datatypes.JSON(payload),
		CachedAt:    now,
	}
	if err := c.db.WithContext(ctx).Create(&entry).Error; err != nil {
		// The fresh payload is still good; losing the cache row only costs
		// an extra upstream call later.
		c.log.Warn("failed to persist graph cache entry",
			zap.Int64("service_id", serviceID),
			zap.Error(err),
		)
	}
	return payload, nil
}

// requestHash builds the canonical request descriptor and hashes it, so
// identical requests share one cache slot regardless of caller.
func requestHash(start, end time.Time, raw bool) (string, error) {
	descriptor := request{
		Type:   "AggregateTraffic",
		Target: "service",
		Start:  start.UTC().Format(time.RFC3339),
		End:    end.UTC().Format(time.RFC3339),
		Raw:    raw,
	}
	encoded, err := json.Marshal(descriptor)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
