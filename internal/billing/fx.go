package billing

import (
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/billing/whmcs"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(whmcs.NewClient),
	fx.Provide(func(client *whmcs.Client) billingdomain.Gateway { return client }),
)
