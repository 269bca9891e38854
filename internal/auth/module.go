// Package auth provides the LINE Login bounded context module.
// This file defines the module that encapsulates auth setup and route registration.
package auth

import (
	"estimate_backend/internal/auth/handler"
	"estimate_backend/internal/auth/token"
	apphttp "estimate_backend/internal/http"
	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"
)

// Config is the subset of settings the module reads.
type Config interface {
	config.AppConfig
	config.LoginConfig
}

// Module is the auth bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
}

func NewModule(login handler.LoginProvider, leads handler.LeadLinker, cfg Config, log *logger.Logger) *Module {
	states := token.NewStateSigner(cfg.GetStateSigningSecret(), cfg.GetStateTTL())
	return &Module{
		handler: handler.New(login, leads, states, cfg.GetAppBaseURL(), log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "auth"
}

// LoginURL is used by the leads module to render the QR code for a lead.
func (m *Module) LoginURL(leadID string) (string, error) {
	return m.handler.LoginURL(leadID)
}

// RegisterRoutes mounts auth routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	authGroup := ctx.V1.Group("/auth")
	authGroup.Use(ctx.AuthRateLimiter.RateLimit())
	m.handler.RegisterRoutes(authGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
