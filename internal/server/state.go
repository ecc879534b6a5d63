package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) ListServiceStates(c *gin.Context) {
	states, err := s.services.ListStates(c.Request.Context())
	if err != nil {
		s.log.Warn("failed to list service states", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": states})
}

func (s *Server) GetServiceState(c *gin.Context) {
	serviceID, err := parseServiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := s.services.GetState(c.Request.Context(), serviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if state == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) ListServicePurchases(c *gin.Context) {
	serviceID, err := parseServiceID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	purchases, err := s.purchases.ListByService(c.Request.Context(), serviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": purchases})
}

func parseServiceID(c *gin.Context) (int64, error) {
	serviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || serviceID <= 0 {
		return 0, invalidRequestError("invalid service id")
	}
	return serviceID, nil
}
