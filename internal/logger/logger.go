// Package logger provides the process-wide zap logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a production or development logger depending on the environment.
func New(environment string) (*zap.Logger, error) {
	env := strings.ToLower(strings.TrimSpace(environment))
	if env == "development" || env == "dev" || env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
