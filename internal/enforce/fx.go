package enforce

import (
	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	"go.uber.org/fx"
)

var Module = fx.Module("enforce",
	fx.Provide(func(client *dcim.Client) Gateway { return client }),
	fx.Provide(NewEngine),
)
