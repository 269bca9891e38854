// Package http provides HTTP server infrastructure including the Module interface
// that all domain modules must implement for route registration.
package http

import (
	"estimate_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	// RegisterRoutes mounts the module's routes on the provided router group.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared dependencies for module route registration.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is the /api/v1 route group.
	V1 *gin.RouterGroup
	// Public is /api/v1/public, behind the general per-IP limiter.
	Public *gin.RouterGroup
	// Admin is /api/v1/admin.
	Admin *gin.RouterGroup
	// AuthRateLimiter is the stricter limiter for login routes.
	AuthRateLimiter *httpkit.IPRateLimiter
}
