// Package webhook provides the LINE webhook bounded context module.
// This file defines the module that encapsulates webhook setup and route registration.
package webhook

import (
	apphttp "estimate_backend/internal/http"
	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	secret  string
}

func NewModule(handler EventHandler, cfg config.LineConfig, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(NewDispatcher(handler, log)),
		secret:  cfg.GetLineChannelSecret(),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/webhook/line", SignatureMiddleware(m.secret), m.handler.HandleLine)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
