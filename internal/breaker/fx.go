package breaker

import "go.uber.org/fx"

var Module = fx.Module("breaker",
	fx.Provide(NewBreaker),
)
