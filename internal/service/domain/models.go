// Package domain contains the hosted-service records the engine reconciles.
package domain

import "time"

const (
	ServiceStatusActive    = "active"
	ServiceStatusSuspended = "suspended"

	StateStatusOK      = "ok"
	StateStatusLimited = "limited"
)

// Service mirrors a hosted service owned by the billing platform. Rows are
// created and updated by the platform; this engine only reads them.
type Service struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	AccountID       int64  `gorm:"not null" json:"account_id"`
	ProductID       int64  `gorm:"not null" json:"product_id"`
	RemoteServiceID int64  `gorm:"not null;default:0" json:"remote_service_id"`
	RemoteOrderID   *int64 `gorm:"column:remote_order_id" json:"remote_order_id,omitempty"`
	RemoteServerID  *int64 `gorm:"column:remote_server_id" json:"remote_server_id,omitempty"`
	Status          string `gorm:"type:text;not null;default:active" json:"status"`

	BillingCycle string    `gorm:"type:text;not null;default:monthly" json:"billing_cycle"`
	NextDueDate  time.Time `gorm:"not null" json:"next_due_date"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Service) TableName() string { return "services" }

// ServiceState is the persisted reconciliation result for one service,
// monotonically updated every pass. PortsLimited and ServiceSuspended are
// idempotence flags: enforcement calls are only issued when a flag disagrees
// with the desired state.
type ServiceState struct {
	ServiceID int64 `gorm:"primaryKey" json:"service_id"`

	CycleStart time.Time `gorm:"not null" json:"cycle_start"`
	CycleEnd   time.Time `gorm:"not null" json:"cycle_end"`

	// Snapshot of the policy resolved for this pass.
	BaseQuotaGb float64 `gorm:"not null;default:0" json:"base_quota_gb"`
	Mode        string  `gorm:"type:text;not null;default:TOTAL" json:"mode"`
	Action      string  `gorm:"type:text;not null;default:disable_ports" json:"action"`
	Unlimited   bool    `gorm:"not null;default:false" json:"unlimited"`

	LastUsedGb      float64 `gorm:"not null;default:0" json:"last_used_gb"`
	LastRemainingGb float64 `gorm:"not null;default:0" json:"last_remaining_gb"`
	LastStatus      string  `gorm:"type:text;not null;default:ok" json:"last_status"`

	PortsLimited     bool `gorm:"not null;default:false" json:"ports_limited"`
	ServiceSuspended bool `gorm:"not null;default:false" json:"service_suspended"`

	LastCheckAt time.Time `gorm:"not null" json:"last_check_at"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (ServiceState) TableName() string { return "service_state" }
