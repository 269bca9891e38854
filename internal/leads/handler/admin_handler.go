package handler

import (
	"context"

	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/leads/service"
	"estimate_backend/internal/leads/transport"
	"estimate_backend/internal/reconcile"
	"estimate_backend/internal/storage"
	"estimate_backend/platform/httpkit"
	"estimate_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// DeliveryStatusReader exposes reconciliation state for the admin view.
type DeliveryStatusReader interface {
	Status(ctx context.Context, identity string) (reconcile.State, string, error)
	Delivered(ctx context.Context, leadID, identity string) (bool, error)
}

// AdminHandler serves the back-office lead view.
type AdminHandler struct {
	svc    *service.Service
	status DeliveryStatusReader
	photos storage.PhotoStore
	log    *logger.Logger
}

func NewAdminHandler(svc *service.Service, status DeliveryStatusReader, photos storage.PhotoStore, log *logger.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, status: status, photos: photos, log: log}
}

func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/leads/:id", withLeadID, h.GetLead)
}

// GetLead returns a lead with its delivery state and photo links.
// GET /api/v1/admin/leads/:id
func (h *AdminHandler) GetLead(c *gin.Context) {
	ctx := c.Request.Context()
	lead, err := h.svc.GetLead(ctx, c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.AdminLeadResponse{
		ID:          lead.ID,
		Answers:     lead.Answers,
		Estimate:    lead.Estimate,
		Identity:    lead.Identity,
		Details:     lead.Details,
		Photos:      h.photoLinks(ctx, lead),
		CreatedAt:   lead.CreatedAt,
		EstimatedAt: lead.EstimatedAt,
		LinkedAt:    lead.LinkedAt,
		DetailsAt:   lead.DetailsAt,
	}
	if lead.Identity != "" {
		resp.Delivery = h.deliveryStatus(ctx, lead)
	}
	httpkit.OK(c, resp)
}

func (h *AdminHandler) deliveryStatus(ctx context.Context, lead repository.Lead) *transport.DeliveryStatus {
	delivered, err := h.status.Delivered(ctx, lead.ID, lead.Identity)
	if err != nil {
		h.log.WithContext(ctx).Warn("delivery status unavailable", "error", err)
		return nil
	}
	state, current, err := h.status.Status(ctx, lead.Identity)
	if err != nil {
		h.log.WithContext(ctx).Warn("delivery status unavailable", "error", err)
		return nil
	}
	// The identity may since have relinked to another lead.
	if current != lead.ID {
		state = reconcile.StateUnknown
	}
	if delivered {
		state = reconcile.StateDelivered
	}
	return &transport.DeliveryStatus{State: string(state), Delivered: delivered}
}

func (h *AdminHandler) photoLinks(ctx context.Context, lead repository.Lead) []transport.PhotoResponse {
	if lead.Details == nil {
		return []transport.PhotoResponse{}
	}
	out := make([]transport.PhotoResponse, 0, len(lead.Details.Photos))
	for _, p := range lead.Details.Photos {
		item := transport.PhotoResponse{PhotoRef: p}
		if h.photos != nil && p.FileKey != "" {
			if link, err := h.photos.PhotoURL(ctx, p.FileKey); err == nil {
				item.Download = link
			}
		}
		out = append(out, item)
	}
	return out
}
