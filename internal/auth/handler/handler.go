package handler

import (
	"context"
	"net/http"
	"net/url"

	"estimate_backend/internal/auth/token"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/platform/apperr"
	"estimate_backend/platform/httpkit"
	"estimate_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// LoginProvider is the LINE Login side of the flow.
type LoginProvider interface {
	AuthorizeURL(state, nonce string) (string, error)
	ExchangeAndVerify(ctx context.Context, code, nonce string) (string, error)
}

// LeadLinker is the lead facade side of the flow.
type LeadLinker interface {
	GetLead(ctx context.Context, id string) (repository.Lead, error)
	LinkIdentity(ctx context.Context, leadID, identity string) error
}

const (
	linkedPath = "/line/linked"
	retryPath  = "/line/retry"

	reasonCancelled = "cancelled"
	reasonState     = "state"
	reasonVerify    = "verify"
	reasonLink      = "link"
)

type Handler struct {
	login      LoginProvider
	leads      LeadLinker
	states     *token.StateSigner
	appBaseURL string
	log        *logger.Logger
}

func New(login LoginProvider, leads LeadLinker, states *token.StateSigner, appBaseURL string, log *logger.Logger) *Handler {
	return &Handler{login: login, leads: leads, states: states, appBaseURL: appBaseURL, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/line/start", h.Start)
	rg.GET("/line/callback", h.Callback)
}

// Start redirects to LINE Login with a state bound to the lead.
// GET /api/v1/auth/line/start?leadId=
func (h *Handler) Start(c *gin.Context) {
	leadID := c.Query("leadId")
	if leadID == "" {
		httpkit.Error(c, http.StatusBadRequest, "leadId is required", nil)
		return
	}
	if _, err := h.leads.GetLead(c.Request.Context(), leadID); httpkit.HandleError(c, err) {
		return
	}

	target, err := h.LoginURL(leadID)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("line login unavailable", "error", err)
		httpkit.HandleError(c, apperr.Unavailable("LINE login is not available"))
		return
	}
	c.Redirect(http.StatusFound, target)
}

// LoginURL issues a fresh state for the lead and returns the LINE authorize URL.
func (h *Handler) LoginURL(leadID string) (string, error) {
	state, nonce, err := h.states.Issue(leadID)
	if err != nil {
		return "", err
	}
	return h.login.AuthorizeURL(state, nonce)
}

// Callback completes LINE Login. Every failure lands on the retry page so the
// visitor can start over; the estimate is never lost.
// GET /api/v1/auth/line/callback?code=&state=
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.log.WithContext(ctx)

	claims, err := h.states.Verify(c.Query("state"))
	if err != nil {
		log.Warn("line callback state rejected", "error", err)
		h.redirect(c, retryPath, "", reasonState)
		return
	}

	code := c.Query("code")
	if code == "" || c.Query("error") != "" {
		log.Info("line login cancelled", "lead_id", claims.LeadID, "error", c.Query("error"))
		h.redirect(c, retryPath, claims.LeadID, reasonCancelled)
		return
	}

	identity, err := h.login.ExchangeAndVerify(ctx, code, claims.Nonce)
	if err != nil {
		log.Warn("line login verification failed", "lead_id", claims.LeadID, "error", err)
		h.redirect(c, retryPath, claims.LeadID, reasonVerify)
		return
	}

	if err := h.leads.LinkIdentity(ctx, claims.LeadID, identity); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn("login for a lead that no longer exists", "lead_id", claims.LeadID)
		} else {
			log.Error("linking identity failed", "lead_id", claims.LeadID, "error", err)
		}
		h.redirect(c, retryPath, claims.LeadID, reasonLink)
		return
	}

	h.redirect(c, linkedPath, claims.LeadID, "")
}

func (h *Handler) redirect(c *gin.Context, path, leadID, reason string) {
	q := url.Values{}
	if leadID != "" {
		q.Set("lead", leadID)
	}
	if reason != "" {
		q.Set("reason", reason)
	}
	target := h.appBaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	c.Redirect(http.StatusFound, target)
}
