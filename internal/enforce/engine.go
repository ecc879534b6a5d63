// Package enforce applies and lifts overage enforcement on services.
package enforce

import (
	"context"

	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Gateway is the subset of the upstream API the engine drives.
type Gateway interface {
	ListPorts(ctx context.Context, remoteServiceID int64, impersonate string) ([]dcim.Port, error)
	DisablePort(ctx context.Context, portID int64) error
	EnablePort(ctx context.Context, portID int64) error
	SuspendOrder(ctx context.Context, remoteOrderID int64) error
	UnsuspendOrder(ctx context.Context, remoteOrderID int64) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Gateway Gateway
}

// Engine is the ok/limited state machine. The persisted PortsLimited and
// ServiceSuspended flags gate every upstream call, so re-running a pass
// against an already-enforced service issues no traffic.
type Engine struct {
	log     *zap.Logger
	gateway Gateway
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:     p.Log.Named("enforce.engine"),
		gateway: p.Gateway,
	}
}

// Apply transitions the service between ok and limited. Flags flip only
// after the corresponding upstream call succeeds; a failed call leaves them
// unchanged so the next pass retries naturally.
func (e *Engine) Apply(
	ctx context.Context,
	svc servicedomain.Service,
	state *servicedomain.ServiceState,
	policy quotadomain.Policy,
	usedGb, allowedGb float64,
) error {
	over := !policy.Unlimited && usedGb >= allowedGb

	if over {
		state.LastStatus = servicedomain.StateStatusLimited
		return e.enforce(ctx, svc, state, policy)
	}

	state.LastStatus = servicedomain.StateStatusOK
	return e.unlock(ctx, svc, state)
}

func (e *Engine) enforce(ctx context.Context, svc servicedomain.Service, state *servicedomain.ServiceState, policy quotadomain.Policy) error {
	if policy.Action.IncludesPorts() && !state.PortsLimited {
		if err := e.setPorts(ctx, svc, false); err != nil {
			return err
		}
		state.PortsLimited = true
		e.log.Info("traffic_enforced",
			zap.Int64("service_id", svc.ID),
			zap.Int64("remote_service_id", svc.RemoteServiceID),
			zap.String("action", string(quotadomain.ActionDisablePorts)),
		)
	}

	if policy.Action.IncludesSuspend() && !state.ServiceSuspended {
		if svc.RemoteOrderID == nil {
			e.log.Warn("cannot suspend service without a remote order",
				zap.Int64("service_id", svc.ID),
			)
			return nil
		}
		if err := e.gateway.SuspendOrder(ctx, *svc.RemoteOrderID); err != nil {
			return err
		}
		state.ServiceSuspended = true
		e.log.Info("traffic_enforced",
			zap.Int64("service_id", svc.ID),
			zap.Int64("remote_order_id", *svc.RemoteOrderID),
			zap.String("action", string(quotadomain.ActionSuspend)),
		)
	}

	return nil
}

// unlock lifts enforcement, but only for flags that are actually set: a
// service that was never limited gets no upstream calls.
func (e *Engine) unlock(ctx context.Context, svc servicedomain.Service, state *servicedomain.ServiceState) error {
	if state.PortsLimited {
		if err := e.setPorts(ctx, svc, true); err != nil {
			return err
		}
		state.PortsLimited = false
		e.log.Info("traffic_unlocked",
			zap.Int64("service_id", svc.ID),
			zap.Int64("remote_service_id", svc.RemoteServiceID),
			zap.String("action", string(quotadomain.ActionDisablePorts)),
		)
	}

	if state.ServiceSuspended {
		if svc.RemoteOrderID == nil {
			e.log.Warn("cannot unsuspend service without a remote order",
				zap.Int64("service_id", svc.ID),
			)
			return nil
		}
		if err := e.gateway.UnsuspendOrder(ctx, *svc.RemoteOrderID); err != nil {
			return err
		}
		state.ServiceSuspended = false
		e.log.Info("traffic_unlocked",
			zap.Int64("service_id", svc.ID),
			zap.Int64("remote_order_id", *svc.RemoteOrderID),
			zap.String("action", string(quotadomain.ActionSuspend)),
		)
	}

	return nil
}

func (e *Engine) setPorts(ctx context.Context, svc servicedomain.Service, enable bool) error {
	ports, err := e.gateway.ListPorts(ctx, svc.RemoteServiceID, "")
	if err != nil {
		return err
	}
	for _, port := range ports {
		if enable {
			err = e.gateway.EnablePort(ctx, port.ID)
		} else {
			err = e.gateway.DisablePort(ctx, port.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
