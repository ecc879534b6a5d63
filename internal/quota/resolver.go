// Package quota resolves the effective traffic policy for a service from
// layered sources: service overrides, product defaults, global config.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/cache"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/cycle"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// source is one layer of the resolution chain. A nil return means the layer
// does not define the value and the next layer is consulted.
type source interface {
	QuotaGb(mode domain.Mode) *float64
	Mode() *domain.Mode
	Action() *domain.Action
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Purchases *purchasedomain.Repository
}

// productCacheTTL bounds how long a product default row is reused across
// services of the same product within a pass.
const productCacheTTL = 30 * time.Second

// Resolver builds the effective Policy for a service once per pass.
type Resolver struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	purchases *purchasedomain.Repository
	products  *cache.TTLCache[int64, *domain.ProductDefault]
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:        p.DB,
		log:       p.Log.Named("quota.resolver"),
		cfg:       p.Cfg,
		purchases: p.Purchases,
		products:  cache.NewTTLCache[int64, *domain.ProductDefault](),
	}
}

// Resolve computes the policy for one service and cycle window. Layers are
// evaluated in priority order and the first defined value wins per field;
// the enforcement action has its own independent chain. An explicit numeric
// override always beats a product-level unlimited flag.
func (r *Resolver) Resolve(ctx context.Context, svc servicedomain.Service, window cycle.Window) (domain.Policy, error) {
	overrides, err := r.loadOverrides(ctx, svc.ID)
	if err != nil {
		return domain.Policy{}, err
	}
	product, err := r.loadProductDefault(ctx, svc.ProductID)
	if err != nil {
		return domain.Policy{}, err
	}

	sources := make([]source, 0, 4)
	for _, ov := range overrides {
		sources = append(sources, overrideSource{ov})
	}
	if product != nil {
		sources = append(sources, productSource{*product})
	}
	sources = append(sources, globalSource{r.cfg.Quota})

	mode := firstMode(sources)
	action := firstAction(sources)
	base, overridden := firstQuota(sources, mode)

	unlimited := false
	if product != nil && !overridden {
		unlimited = product.UnlimitedFor(mode)
	}

	extra, err := r.purchases.PaidExtraGb(ctx, svc.ID, window.Start, window.End)
	if err != nil {
		return domain.Policy{}, err
	}

	autoBuy, err := r.resolveAutoBuy(overrides)
	if err != nil {
		return domain.Policy{}, err
	}

	return domain.Policy{
		BaseQuotaGb: base,
		Mode:        mode,
		Action:      action,
		Unlimited:   unlimited,
		ExtraGb:     extra,
		AutoBuy:     autoBuy,
	}, nil
}

func (r *Resolver) loadOverrides(ctx context.Context, serviceID int64) ([]domain.ServiceOverride, error) {
	var rows []domain.ServiceOverride
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// custom_field rows outrank permanent rows.
	ordered := make([]domain.ServiceOverride, 0, len(rows))
	for _, row := range rows {
		if row.Source == domain.OverrideSourceCustomField {
			ordered = append(ordered, row)
		}
	}
	for _, row := range rows {
		if row.Source != domain.OverrideSourceCustomField {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

func (r *Resolver) loadProductDefault(ctx context.Context, productID int64) (*domain.ProductDefault, error) {
	if cached, ok := r.products.Get(productID); ok {
		return cached, nil
	}

	var row domain.ProductDefault
	err := r.db.WithContext(ctx).First(&row, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.products.Set(productID, nil, productCacheTTL)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.products.Set(productID, &row, productCacheTTL)
	return &row, nil
}

func (r *Resolver) resolveAutoBuy(overrides []domain.ServiceOverride) (domain.AutoBuySettings, error) {
	settings := domain.AutoBuySettings{
		Enabled:     r.cfg.AutoBuy.Enabled,
		ThresholdGb: r.cfg.AutoBuy.ThresholdGb,
		PackageID:   r.cfg.AutoBuy.PackageID,
		MaxPerCycle: r.cfg.AutoBuy.MaxPerCycle,
	}
	for _, ov := range overrides {
		if ov.AutoBuyEnabled != nil {
			settings.Enabled = *ov.AutoBuyEnabled
			break
		}
	}
	for _, ov := range overrides {
		if ov.AutoBuyThresholdGb != nil {
			settings.ThresholdGb = *ov.AutoBuyThresholdGb
			break
		}
	}
	return settings, nil
}

func firstMode(sources []source) domain.Mode {
	for _, s := range sources {
		if mode := s.Mode(); mode != nil {
			return *mode
		}
	}
	return domain.ModeTotal
}

func firstAction(sources []source) domain.Action {
	for _, s := range sources {
		if action := s.Action(); action != nil {
			return *action
		}
	}
	return domain.ActionDisablePorts
}

// firstQuota returns the base quota and whether it came from a per-service
// override. An explicit override forces the product unlimited flag off.
func firstQuota(sources []source, mode domain.Mode) (float64, bool) {
	for _, s := range sources {
		quota := s.QuotaGb(mode)
		if quota == nil {
			continue
		}
		_, isOverride := s.(overrideSource)
		return *quota, isOverride
	}
	return 0, false
}

type overrideSource struct {
	row domain.ServiceOverride
}

func (s overrideSource) QuotaGb(domain.Mode) *float64 { return s.row.QuotaGb }

func (s overrideSource) Mode() *domain.Mode {
	if s.row.Mode == nil {
		return nil
	}
	mode := domain.ParseMode(*s.row.Mode)
	return &mode
}

func (s overrideSource) Action() *domain.Action {
	if s.row.Action == nil {
		return nil
	}
	action := domain.ParseAction(*s.row.Action)
	return &action
}

type productSource struct {
	row domain.ProductDefault
}

func (s productSource) QuotaGb(mode domain.Mode) *float64 { return s.row.QuotaGb(mode) }

func (s productSource) Mode() *domain.Mode {
	if s.row.Mode == nil {
		return nil
	}
	mode := domain.ParseMode(*s.row.Mode)
	return &mode
}

func (s productSource) Action() *domain.Action {
	if s.row.Action == nil {
		return nil
	}
	action := domain.ParseAction(*s.row.Action)
	return &action
}

type globalSource struct {
	cfg config.QuotaConfig
}

func (s globalSource) QuotaGb(domain.Mode) *float64 {
	if s.cfg.DefaultQuotaGb <= 0 {
		return nil
	}
	quota := s.cfg.DefaultQuotaGb
	return &quota
}

func (s globalSource) Mode() *domain.Mode {
	mode := domain.ParseMode(s.cfg.DefaultMode)
	return &mode
}

func (s globalSource) Action() *domain.Action {
	action := domain.ParseAction(s.cfg.DefaultAction)
	return &action
}
