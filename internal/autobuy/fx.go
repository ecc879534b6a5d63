package autobuy

import "go.uber.org/fx"

var Module = fx.Module("autobuy",
	fx.Provide(NewCoordinator),
)
