// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"estimate_backend/internal/events"
	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	Config config.HTTPConfig
	Logger *logger.Logger
	// Health backs /api/health; nil when running on memory stores only.
	Health   HealthChecker
	EventBus events.Bus
	Modules  []Module
}
