// Package domain contains quota policy models and the layered sources the
// resolver draws from.
package domain

import (
	"math"
	"strings"
	"time"
)

// Mode selects which traffic direction counts against quota.
type Mode string

const (
	ModeIn    Mode = "IN"
	ModeOut   Mode = "OUT"
	ModeTotal Mode = "TOTAL"
)

// ParseMode normalizes a stored mode label, defaulting to TOTAL.
func ParseMode(value string) Mode {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "IN":
		return ModeIn
	case "OUT":
		return ModeOut
	default:
		return ModeTotal
	}
}

// Action is the enforcement measure applied on overage.
type Action string

const (
	ActionDisablePorts Action = "disable_ports"
	ActionSuspend      Action = "suspend"
	ActionBoth         Action = "both"
)

// ParseAction normalizes a stored action label, defaulting to disable_ports.
func ParseAction(value string) Action {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "suspend":
		return ActionSuspend
	case "both":
		return ActionBoth
	default:
		return ActionDisablePorts
	}
}

// IncludesPorts reports whether the action disables/enables ports.
func (a Action) IncludesPorts() bool { return a == ActionDisablePorts || a == ActionBoth }

// IncludesSuspend reports whether the action suspends/unsuspends the order.
func (a Action) IncludesSuspend() bool { return a == ActionSuspend || a == ActionBoth }

// UnlimitedGb is the sentinel allowance for unlimited policies.
const UnlimitedGb = math.MaxFloat64

// Policy is the effective quota for one service during one pass, resolved
// fresh each pass and never persisted independently of the service state.
type Policy struct {
	BaseQuotaGb float64
	Mode        Mode
	Action      Action
	Unlimited   bool

	// ExtraGb is the sum of paid top-up purchases inside the cycle window.
	ExtraGb float64

	AutoBuy AutoBuySettings
}

// AllowedGb is the total allowance for the cycle.
func (p Policy) AllowedGb() float64 {
	if p.Unlimited {
		return UnlimitedGb
	}
	return p.BaseQuotaGb + p.ExtraGb
}

// AutoBuySettings is the per-service auto top-up preference after overrides.
type AutoBuySettings struct {
	Enabled     bool
	ThresholdGb float64
	PackageID   int64
	MaxPerCycle int
}

// Override source labels, in precedence order.
const (
	OverrideSourceCustomField = "custom_field"
	OverrideSourcePermanent   = "permanent"
)

// ServiceOverride is a per-service policy override. custom_field rows take
// precedence over permanent rows; both beat product defaults.
type ServiceOverride struct {
	ID        int64  `gorm:"primaryKey"`
	ServiceID int64  `gorm:"not null;index"`
	Source    string `gorm:"type:text;not null"`

	QuotaGb *float64 `gorm:"column:quota_gb"`
	Mode    *string  `gorm:"type:text"`
	Action  *string  `gorm:"type:text"`

	AutoBuyEnabled     *bool    `gorm:"column:autobuy_enabled"`
	AutoBuyThresholdGb *float64 `gorm:"column:autobuy_threshold_gb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ServiceOverride) TableName() string { return "service_overrides" }

// ProductDefault is the per-product policy layer, optionally split by mode.
type ProductDefault struct {
	ProductID int64 `gorm:"primaryKey"`

	QuotaInGb    *float64 `gorm:"column:quota_in_gb"`
	QuotaOutGb   *float64 `gorm:"column:quota_out_gb"`
	QuotaTotalGb *float64 `gorm:"column:quota_total_gb"`

	UnlimitedIn    bool `gorm:"not null;default:false"`
	UnlimitedOut   bool `gorm:"not null;default:false"`
	UnlimitedTotal bool `gorm:"not null;default:false"`

	Mode   *string `gorm:"type:text"`
	Action *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProductDefault) TableName() string { return "product_defaults" }

// QuotaGb returns the product's base quota for the given mode.
func (p ProductDefault) QuotaGb(mode Mode) *float64 {
	switch mode {
	case ModeIn:
		return p.QuotaInGb
	case ModeOut:
		return p.QuotaOutGb
	default:
		return p.QuotaTotalGb
	}
}

// UnlimitedFor returns the product's unlimited flag for the given mode.
func (p ProductDefault) UnlimitedFor(mode Mode) bool {
	switch mode {
	case ModeIn:
		return p.UnlimitedIn
	case ModeOut:
		return p.UnlimitedOut
	default:
		return p.UnlimitedTotal
	}
}

// Package is a purchasable top-up quota package.
type Package struct {
	ID     int64   `gorm:"primaryKey" json:"id"`
	Name   string  `gorm:"type:text;not null" json:"name"`
	SizeGb float64 `gorm:"not null" json:"size_gb"`
	Price  float64 `gorm:"not null" json:"price"`
	Active bool    `gorm:"not null;default:true" json:"active"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }
