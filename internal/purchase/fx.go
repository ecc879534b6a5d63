package purchase

import (
	"github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase",
	fx.Provide(domain.NewRepository),
)
