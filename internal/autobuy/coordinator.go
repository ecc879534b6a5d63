// Package autobuy performs automatic quota top-ups when a service's
// remaining allowance falls to the configured threshold.
package autobuy

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/cycle"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/metrics"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Billing   billingdomain.Gateway
	Purchases *purchasedomain.Repository
	Metrics   *metrics.ReconcileMetrics
}

// Coordinator evaluates and executes one top-up per service per pass.
type Coordinator struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	billing   billingdomain.Gateway
	purchases *purchasedomain.Repository
	metrics   *metrics.ReconcileMetrics
}

func NewCoordinator(p Params) *Coordinator {
	return &Coordinator{
		db:        p.DB,
		log:       p.Log.Named("autobuy.coordinator"),
		genID:     p.GenID,
		clock:     p.Clock,
		billing:   p.Billing,
		purchases: p.Purchases,
		metrics:   p.Metrics,
	}
}

// Evaluate runs the top-up preconditions and, when they all hold, buys the
// configured package from account credit. The returned gigabytes raise the
// in-memory allowance for the remainder of the pass; the reconciliation
// never fails because a top-up did; failures are logged and skipped.
func (c *Coordinator) Evaluate(
	ctx context.Context,
	svc servicedomain.Service,
	window cycle.Window,
	policy quotadomain.Policy,
	usedGb, allowedGb float64,
) float64 {
	settings := policy.AutoBuy
	if !settings.Enabled || policy.Unlimited {
		return 0
	}

	remaining := allowedGb - usedGb
	// Boundary rule: remaining exactly at the threshold still triggers.
	if remaining > settings.ThresholdGb {
		return 0
	}
	if settings.PackageID == 0 {
		return 0
	}

	pkg, err := c.loadPackage(ctx, settings.PackageID)
	if err != nil {
		c.log.Warn("autobuy package lookup failed",
			zap.Int64("service_id", svc.ID),
			zap.Int64("package_id", settings.PackageID),
			zap.Error(err),
		)
		return 0
	}
	if pkg == nil {
		return 0
	}

	count, err := c.purchases.CountByActor(ctx, svc.ID, purchasedomain.ActorAutoBuyCron, window.Start, window.End)
	if err != nil {
		c.log.Warn("autobuy purchase count failed", zap.Int64("service_id", svc.ID), zap.Error(err))
		return 0
	}
	if count >= int64(settings.MaxPerCycle) {
		c.log.Info("autobuy per-cycle cap reached",
			zap.Int64("service_id", svc.ID),
			zap.Int64("purchases", count),
			zap.Int("cap", settings.MaxPerCycle),
		)
		return 0
	}

	credit, err := c.billing.AccountCredit(ctx, svc.AccountID)
	if err != nil {
		c.log.Warn("autobuy credit lookup failed", zap.Int64("service_id", svc.ID), zap.Error(err))
		return 0
	}
	if credit < pkg.Price {
		c.log.Info("autobuy skipped, insufficient credit",
			zap.Int64("service_id", svc.ID),
			zap.Float64("credit", credit),
			zap.Float64("price", pkg.Price),
		)
		return 0
	}

	added, err := c.execute(ctx, svc, window, *pkg)
	if err != nil {
		c.log.Warn("autobuy failed",
			zap.Int64("service_id", svc.ID),
			zap.Int64("package_id", pkg.ID),
			zap.Error(err),
		)
		return 0
	}

	c.metrics.IncAutoBuyPurchase()
	c.log.Info("autobuy completed",
		zap.Int64("service_id", svc.ID),
		zap.Int64("package_id", pkg.ID),
		zap.Float64("added_gb", added),
	)
	return added
}

func (c *Coordinator) execute(ctx context.Context, svc servicedomain.Service, window cycle.Window, pkg quotadomain.Package) (float64, error) {
	description := fmt.Sprintf("Traffic top-up: %s (%.0f GB)", pkg.Name, pkg.SizeGb)
	invoiceID, err := c.billing.CreateInvoice(ctx, svc.AccountID, []billingdomain.LineItem{
		{Description: description, Amount: pkg.Price},
	})
	if err != nil {
		return 0, fmt.Errorf("create invoice: %w", err)
	}

	ref := fmt.Sprintf("autobuy-%d-%d", svc.ID, invoiceID)
	if err := c.billing.AddPayment(ctx, invoiceID, ref, "credit"); err != nil {
		// Direct payment can be rejected on some deployments; applying the
		// amount as credit settles the invoice the slow way.
		if creditErr := c.billing.ApplyCredit(ctx, invoiceID, pkg.Price); creditErr != nil {
			return 0, errors.Join(fmt.Errorf("add payment: %w", err), fmt.Errorf("apply credit: %w", creditErr))
		}
	}

	purchase := &purchasedomain.Purchase{
		ID:            c.genID.Generate(),
		ServiceID:     svc.ID,
		PackageID:     pkg.ID,
		SizeGb:        pkg.SizeGb,
		Price:         pkg.Price,
		InvoiceID:     invoiceID,
		CycleStart:    window.Start,
		CycleEnd:      window.End,
		Actor:         purchasedomain.ActorAutoBuyCron,
		PaymentStatus: purchasedomain.PaymentStatusPaid,
		CreatedAt:     c.clock.Now(),
	}
	if err := c.purchases.Create(ctx, purchase); err != nil {
		return 0, fmt.Errorf("record purchase: %w", err)
	}
	return pkg.SizeGb, nil
}

func (c *Coordinator) loadPackage(ctx context.Context, packageID int64) (*quotadomain.Package, error) {
	var pkg quotadomain.Package
	err := c.db.WithContext(ctx).First(&pkg, "id = ? AND active", packageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
