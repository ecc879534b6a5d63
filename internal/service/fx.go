package service

import (
	"github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(domain.NewRepository),
)
