package dcim

import "go.uber.org/fx"

var Module = fx.Module("dcim",
	fx.Provide(NewClient),
)
