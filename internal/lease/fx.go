package lease

import "go.uber.org/fx"

var Module = fx.Module("lease",
	fx.Provide(NewStore),
)
