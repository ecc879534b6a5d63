package reconcile

import (
	"context"

	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(func(client *dcim.Client) UsageGateway { return client }),
	fx.Provide(NewLoop),
	fx.Invoke(runLoop),
)

func runLoop(lc fx.Lifecycle, loop *Loop) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go loop.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
