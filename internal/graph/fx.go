package graph

import (
	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	"go.uber.org/fx"
)

var Module = fx.Module("graph",
	fx.Provide(func(client *dcim.Client) Exporter { return client }),
	fx.Provide(NewCache),
)
