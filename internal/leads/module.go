// Package leads provides the questionnaire and lead bounded context module.
// This file defines the module that encapsulates leads setup and route registration.
package leads

import (
	apphttp "estimate_backend/internal/http"
	"estimate_backend/internal/leads/handler"
	"estimate_backend/internal/leads/service"
	"estimate_backend/internal/storage"
	"estimate_backend/platform/logger"
	"estimate_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	public *handler.PublicHandler
	admin  *handler.AdminHandler
}

// NewModule wires the public questionnaire and admin handlers around svc.
// photos may be nil when object storage is not configured.
func NewModule(svc *service.Service, status handler.DeliveryStatusReader, photos storage.PhotoStore, maxUpload int64, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		public: handler.NewPublicHandler(svc, val, maxUpload, log),
		admin:  handler.NewAdminHandler(svc, status, photos, log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// SetLoginURLFunc injects the LINE Login URL builder used for QR codes.
func (m *Module) SetLoginURLFunc(fn func(leadID string) (string, error)) {
	m.public.SetLoginLinker(fn)
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.public.RegisterRoutes(ctx.Public)
	m.admin.RegisterRoutes(ctx.Admin)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
