// Package domain contains top-up purchase records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ActorClientManual = "client_manual"
	ActorAutoBuyCron  = "autobuy_cron"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Purchase records one quota top-up. Paid purchases inside the active cycle
// window add to the service's allowance.
type Purchase struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ServiceID int64        `gorm:"not null;index:idx_purchases_service_cycle,priority:1" json:"service_id"`
	PackageID int64        `gorm:"not null" json:"package_id"`
	SizeGb    float64      `gorm:"not null" json:"size_gb"`
	Price     float64      `gorm:"not null" json:"price"`
	InvoiceID int64        `gorm:"not null;default:0" json:"invoice_id"`

	CycleStart time.Time `gorm:"not null;index:idx_purchases_service_cycle,priority:2" json:"cycle_start"`
	CycleEnd   time.Time `gorm:"not null;index:idx_purchases_service_cycle,priority:3" json:"cycle_end"`

	Actor         string `gorm:"type:text;not null" json:"actor"`
	PaymentStatus string `gorm:"type:text;not null;default:pending" json:"payment_status"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Purchase) TableName() string { return "purchases" }
