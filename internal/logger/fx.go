package logger

import (
	"context"

	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("logger",
	fx.Provide(func(cfg config.Config) (*zap.Logger, error) {
		return New(cfg.Environment)
	}),
	fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
	}),
)
