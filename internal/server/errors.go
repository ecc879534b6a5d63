package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	ErrNotFound           = &apiError{status: http.StatusNotFound, code: "not_found", message: "resource not found"}
	ErrServiceUnavailable = &apiError{status: http.StatusServiceUnavailable, code: "service_unavailable", message: "service unavailable"}
)

type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.code }

func invalidRequestError(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: "invalid_request", message: message}
}

// AbortWithError maps an error onto a JSON error response.
func AbortWithError(c *gin.Context, err error) {
	var typed *apiError
	if errors.As(err, &typed) {
		c.AbortWithStatusJSON(typed.status, gin.H{"error": typed.code, "message": typed.message})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
}
