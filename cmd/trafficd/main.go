package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/majidisaloo/easydcim-traffic/internal/autobuy"
	"github.com/majidisaloo/easydcim-traffic/internal/billing"
	"github.com/majidisaloo/easydcim-traffic/internal/breaker"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	"github.com/majidisaloo/easydcim-traffic/internal/enforce"
	"github.com/majidisaloo/easydcim-traffic/internal/graph"
	"github.com/majidisaloo/easydcim-traffic/internal/lease"
	"github.com/majidisaloo/easydcim-traffic/internal/logger"
	"github.com/majidisaloo/easydcim-traffic/internal/migration"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/metrics"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/tracing"
	"github.com/majidisaloo/easydcim-traffic/internal/purchase"
	"github.com/majidisaloo/easydcim-traffic/internal/quota"
	"github.com/majidisaloo/easydcim-traffic/internal/reconcile"
	"github.com/majidisaloo/easydcim-traffic/internal/server"
	"github.com/majidisaloo/easydcim-traffic/internal/service"
	"github.com/majidisaloo/easydcim-traffic/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),

		tracing.Module,
		metrics.Module,

		dcim.Module,
		billing.Module,
		service.Module,
		purchase.Module,
		quota.Module,
		graph.Module,
		lease.Module,
		breaker.Module,
		enforce.Module,
		autobuy.Module,
		reconcile.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
