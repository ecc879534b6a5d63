// Package reconcile orchestrates the per-tick reconciliation pass: leases,
// breaker, usage measurement, enforcement, top-ups, persisted state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/autobuy"
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/breaker"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/cycle"
	"github.com/majidisaloo/easydcim-traffic/internal/dcim"
	"github.com/majidisaloo/easydcim-traffic/internal/enforce"
	"github.com/majidisaloo/easydcim-traffic/internal/lease"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/metrics"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/tracing"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/quota"
	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UsageGateway is the single upstream call the loop makes directly; the
// enforcement engine and graph cache hold their own views of the client.
type UsageGateway interface {
	Usage(ctx context.Context, remoteServiceID int64, start, end time.Time, impersonate string) (dcim.Sample, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	Clock     clock.Clock
	Leases    *lease.Store
	Breaker   *breaker.Breaker
	Services  *servicedomain.Repository
	Purchases *purchasedomain.Repository
	Resolver  *quota.Resolver
	Gateway   UsageGateway
	Engine    *enforce.Engine
	AutoBuy   *autobuy.Coordinator
	Billing   billingdomain.Gateway
	Metrics   *metrics.ReconcileMetrics
}

// Loop runs one reconciliation pass per scheduler tick.
type Loop struct {
	log       *zap.Logger
	cfg       config.Config
	clock     clock.Clock
	leases    *lease.Store
	breaker   *breaker.Breaker
	services  *servicedomain.Repository
	purchases *purchasedomain.Repository
	resolver  *quota.Resolver
	gateway   UsageGateway
	engine    *enforce.Engine
	autoBuy   *autobuy.Coordinator
	billing   billingdomain.Gateway
	metrics   *metrics.ReconcileMetrics
}

func NewLoop(p Params) *Loop {
	return &Loop{
		log:       p.Log.Named("reconcile.loop"),
		cfg:       p.Cfg,
		clock:     p.Clock,
		leases:    p.Leases,
		breaker:   p.Breaker,
		services:  p.Services,
		purchases: p.Purchases,
		resolver:  p.Resolver,
		gateway:   p.Gateway,
		engine:    p.Engine,
		autoBuy:   p.AutoBuy,
		billing:   p.Billing,
		metrics:   p.Metrics,
	}
}

// RunForever ticks until the context is cancelled.
func (l *Loop) RunForever(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Reconcile.Interval)
	defer ticker.Stop()

	for {
		if err := l.RunOnce(ctx); err != nil {
			l.log.Warn("reconciliation pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass. Configuration errors abort before any
// upstream contact and never count against the breaker; pass-level failures
// increment it, and a completed pass resets it.
func (l *Loop) RunOnce(ctx context.Context) error {
	if err := l.cfg.DCIM.Validate(); err != nil {
		l.log.Error("upstream configuration incomplete, skipping pass", zap.Error(err))
		return err
	}

	// The poll lease TTL doubles as the pass deadline: a pass must not
	// outlive its own lease.
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Reconcile.PollLeaseTTL)
	defer cancel()

	open, err := l.breaker.Open(ctx)
	if err != nil {
		return fmt.Errorf("read breaker state: %w", err)
	}
	l.metrics.SetBreakerOpen(open)
	if open {
		l.log.Warn("circuit breaker open, skipping pass")
		return nil
	}

	if err := l.leases.Acquire(ctx, lease.PollKey, l.cfg.Reconcile.PollLeaseTTL); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			l.log.Debug("poll lease held by another worker, skipping pass")
			return nil
		}
		return fmt.Errorf("acquire poll lease: %w", err)
	}
	defer func() {
		if err := l.leases.Release(context.WithoutCancel(ctx), lease.PollKey); err != nil {
			l.log.Warn("failed to release poll lease", zap.Error(err))
		}
	}()

	start := time.Now()
	err = l.runPass(ctx)
	l.metrics.ObservePass(time.Since(start))

	if err != nil {
		if recordErr := l.breaker.RecordFailure(context.WithoutCancel(ctx)); recordErr != nil {
			l.log.Warn("failed to record breaker failure", zap.Error(recordErr))
		}
		return err
	}
	if err := l.breaker.Reset(ctx); err != nil {
		l.log.Warn("failed to reset breaker", zap.Error(err))
	}
	return nil
}

func (l *Loop) runPass(ctx context.Context) error {
	ctx, span := tracing.Tracer().Start(ctx, "reconcile.pass")
	defer span.End()

	l.settlePendingPurchases(ctx)

	services, err := l.services.ListEligible(ctx, l.cfg.Reconcile.ProductAllowList)
	if err != nil {
		return fmt.Errorf("load eligible services: %w", err)
	}

	concurrency := l.cfg.Reconcile.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, svc := range services {
		g.Go(func() error {
			l.processService(gctx, svc)
			return nil
		})
	}
	return g.Wait()
}

// processService is the per-service failure boundary: nothing that happens
// inside fails the pass.
func (l *Loop) processService(ctx context.Context, svc servicedomain.Service) {
	ctx, span := tracing.Tracer().Start(ctx, "reconcile.service",
		trace.WithAttributes(attribute.Int64("service.id", svc.ID)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			l.metrics.IncServiceProcessed("failed")
			l.log.Error("panic while reconciling service",
				zap.Int64("service_id", svc.ID),
				zap.Any("panic", r),
			)
		}
	}()

	key := lease.ServiceKey(svc.ID)
	if err := l.leases.Acquire(ctx, key, l.cfg.Reconcile.ServiceLeaseTTL); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			l.metrics.IncServiceProcessed("skipped")
			l.log.Debug("service lease held, skipping", zap.Int64("service_id", svc.ID))
			return
		}
		l.metrics.IncServiceProcessed("failed")
		l.log.Warn("failed to acquire service lease", zap.Int64("service_id", svc.ID), zap.Error(err))
		return
	}
	defer func() {
		if err := l.leases.Release(context.WithoutCancel(ctx), key); err != nil {
			l.log.Warn("failed to release service lease", zap.Int64("service_id", svc.ID), zap.Error(err))
		}
	}()

	window := cycle.Compute(svc.NextDueDate, svc.BillingCycle)

	policy, err := l.resolver.Resolve(ctx, svc, window)
	if err != nil {
		l.metrics.IncServiceProcessed("failed")
		l.log.Warn("quota resolution failed", zap.Int64("service_id", svc.ID), zap.Error(err))
		return
	}

	sample, err := l.gateway.Usage(ctx, svc.RemoteServiceID, window.Start, window.End, "")
	if err != nil {
		l.metrics.IncServiceProcessed("failed")
		l.log.Warn("usage fetch failed", zap.Int64("service_id", svc.ID), zap.Error(err))
		return
	}
	usedGb := sample.Gb(policy.Mode)
	allowedGb := policy.AllowedGb()

	if added := l.autoBuy.Evaluate(ctx, svc, window, policy, usedGb, allowedGb); added > 0 && !policy.Unlimited {
		// The top-up counts immediately; no usage re-fetch needed.
		allowedGb += added
	}

	state, err := l.services.GetState(ctx, svc.ID)
	if err != nil {
		l.metrics.IncServiceProcessed("failed")
		l.log.Warn("state load failed", zap.Int64("service_id", svc.ID), zap.Error(err))
		return
	}
	if state == nil {
		state = &servicedomain.ServiceState{ServiceID: svc.ID}
	}

	state.CycleStart = window.Start
	state.CycleEnd = window.End
	state.BaseQuotaGb = policy.BaseQuotaGb
	state.Mode = string(policy.Mode)
	state.Action = string(policy.Action)
	state.Unlimited = policy.Unlimited
	state.LastUsedGb = usedGb
	state.LastRemainingGb = remainingGb(policy, usedGb, allowedGb)
	state.LastCheckAt = l.clock.Now()

	enforceErr := l.engine.Apply(ctx, svc, state, policy, usedGb, allowedGb)
	if enforceErr != nil {
		// Flags stay as they were; the next pass retries the action.
		l.log.Warn("enforcement failed", zap.Int64("service_id", svc.ID), zap.Error(enforceErr))
	}

	if err := l.services.SaveState(ctx, state); err != nil {
		l.metrics.IncServiceProcessed("failed")
		l.log.Warn("state persist failed, result lost for this pass",
			zap.Int64("service_id", svc.ID),
			zap.Error(err),
		)
		return
	}

	if enforceErr != nil {
		l.metrics.IncServiceProcessed("failed")
		return
	}
	if state.LastStatus == servicedomain.StateStatusLimited {
		l.metrics.IncServiceProcessed("limited")
	} else {
		l.metrics.IncServiceProcessed("ok")
	}
}

// settlePendingPurchases flips manual purchases to paid once the billing
// platform reports their invoices settled. Best effort; the pass continues
// on failure.
func (l *Loop) settlePendingPurchases(ctx context.Context) {
	pending, err := l.purchases.ListPending(ctx, 100)
	if err != nil {
		l.log.Warn("failed to list pending purchases", zap.Error(err))
		return
	}
	for _, purchase := range pending {
		status, err := l.billing.InvoiceStatus(ctx, purchase.InvoiceID)
		if err != nil {
			l.log.Warn("invoice status lookup failed",
				zap.Int64("invoice_id", purchase.InvoiceID),
				zap.Error(err),
			)
			continue
		}
		if status != billingdomain.InvoiceStatusPaid {
			continue
		}
		if _, err := l.purchases.MarkPaid(ctx, int64(purchase.ID)); err != nil {
			l.log.Warn("failed to mark purchase paid",
				zap.Int64("purchase_id", int64(purchase.ID)),
				zap.Error(err),
			)
		}
	}
}

func remainingGb(policy quotadomain.Policy, usedGb, allowedGb float64) float64 {
	if policy.Unlimited {
		return 0
	}
	return math.Max(0, allowedGb-usedGb)
}
