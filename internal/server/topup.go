package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/cycle"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type topUpRequest struct {
	PackageID int64 `json:"package_id" binding:"required,gt=0"`
}

type topUpResponse struct {
	Purchase  purchasedomain.Purchase `json:"purchase"`
	InvoiceID int64                   `json:"invoice_id"`
}

// CreateTopUp raises an invoice for a quota package and records a pending
// purchase against the service's current cycle. The purchase starts counting
// toward the allowance once the invoice settles.
func (s *Server) CreateTopUp(c *gin.Context) {
	serviceID, err := parseServiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("package_id is required"))
		return
	}

	ctx := c.Request.Context()

	svc, err := s.services.Find(ctx, serviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if svc == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var pkg quotadomain.Package
	err = s.db.WithContext(ctx).First(&pkg, "id = ? AND active", req.PackageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		AbortWithError(c, invalidRequestError("unknown package"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoiceID, err := s.billing.CreateInvoice(ctx, svc.AccountID, []billingdomain.LineItem{{
		Description: fmt.Sprintf("Traffic top-up: %s (%.0f GB) for service #%d", pkg.Name, pkg.SizeGb, svc.ID),
		Amount:      pkg.Price,
	}})
	if err != nil {
		s.log.Warn("top-up invoice creation failed",
			zap.Int64("service_id", svc.ID),
			zap.Int64("package_id", pkg.ID),
			zap.Error(err),
		)
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	window := cycle.Compute(svc.NextDueDate, svc.BillingCycle)
	purchase := purchasedomain.Purchase{
		ID:            s.genID.Generate(),
		ServiceID:     svc.ID,
		PackageID:     pkg.ID,
		SizeGb:        pkg.SizeGb,
		Price:         pkg.Price,
		InvoiceID:     invoiceID,
		CycleStart:    window.Start,
		CycleEnd:      window.End,
		Actor:         purchasedomain.ActorClientManual,
		PaymentStatus: purchasedomain.PaymentStatusPending,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.purchases.Create(ctx, &purchase); err != nil {
		s.log.Error("top-up purchase not recorded",
			zap.Int64("service_id", svc.ID),
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	s.log.Info("top-up purchase recorded",
		zap.Int64("service_id", svc.ID),
		zap.Int64("package_id", pkg.ID),
		zap.Int64("invoice_id", invoiceID),
	)
	c.JSON(http.StatusCreated, topUpResponse{Purchase: purchase, InvoiceID: invoiceID})
}
