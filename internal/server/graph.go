package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/majidisaloo/easydcim-traffic/internal/cycle"
	"go.uber.org/zap"
)

// GetServiceGraph serves the exported usage graph for a service. The window
// defaults to the current billing cycle; callers can narrow it with RFC3339
// start and end query parameters.
func (s *Server) GetServiceGraph(c *gin.Context) {
	serviceID, err := parseServiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	svc, err := s.services.Find(c.Request.Context(), serviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if svc == nil || svc.RemoteServiceID <= 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	window := cycle.Compute(svc.NextDueDate, svc.BillingCycle)
	start, end := window.Start, window.End
	if raw := c.Query("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			AbortWithError(c, invalidRequestError("invalid start time"))
			return
		}
	}
	if raw := c.Query("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			AbortWithError(c, invalidRequestError("invalid end time"))
			return
		}
	}
	if !end.After(start) {
		AbortWithError(c, invalidRequestError("end must be after start"))
		return
	}

	rawPayload := c.Query("raw") == "true"

	payload, err := s.graphs.Export(c.Request.Context(), svc.ID, svc.RemoteServiceID, start, end, rawPayload, s.cfg.DCIM.Impersonate)
	if err != nil {
		s.log.Warn("graph export failed",
			zap.Int64("service_id", svc.ID),
			zap.Error(err),
		)
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.Data(http.StatusOK, "application/json", payload)
}
