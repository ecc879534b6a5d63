package metrics

import (
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(func(cfg config.Config) *ReconcileMetrics {
		return ReconcileWithConfig(Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		})
	}),
)
