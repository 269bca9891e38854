package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"estimate_backend/internal/leads/service"
	"estimate_backend/internal/leads/transport"
	"estimate_backend/platform/apperr"
	"estimate_backend/platform/httpkit"
	"estimate_backend/platform/logger"
	"estimate_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const (
	publicMsgInvalidInput = "Invalid input"
	publicMsgLoginOff     = "LINE login is not available"
	photosField           = "photos"
	qrSize                = 256
)

// LoginLinker builds the LINE Login URL for a lead.
type LoginLinker func(leadID string) (string, error)

// PublicHandler serves the unauthenticated questionnaire endpoints.
type PublicHandler struct {
	svc       *service.Service
	val       *validator.Validator
	loginURL  LoginLinker
	maxUpload int64
	log       *logger.Logger
}

func NewPublicHandler(svc *service.Service, val *validator.Validator, maxUpload int64, log *logger.Logger) *PublicHandler {
	return &PublicHandler{svc: svc, val: val, maxUpload: maxUpload, log: log}
}

// SetLoginLinker injects the auth module's URL builder (breaks the import cycle).
func (h *PublicHandler) SetLoginLinker(fn LoginLinker) {
	h.loginURL = fn
}

func (h *PublicHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/questions", h.GetQuestions)
	rg.POST("/estimates", h.SubmitEstimate)

	lead := rg.Group("/leads/:id", withLeadID)
	lead.GET("", h.GetLead)
	lead.GET("/qr", h.GetLoginQR)
	lead.POST("/details", h.SubmitDetails)
}

// withLeadID puts the :id path parameter into the request context for logging.
func withLeadID(c *gin.Context) {
	if id := c.Param("id"); id != "" {
		ctx := context.WithValue(c.Request.Context(), logger.LeadIDKey, id)
		c.Request = c.Request.WithContext(ctx)
	}
	c.Next()
}

// GetQuestions returns the questionnaire definition.
// GET /api/v1/public/questions
func (h *PublicHandler) GetQuestions(c *gin.Context) {
	flow := h.svc.Flow()
	httpkit.OK(c, transport.QuestionsResponse{Version: flow.Version(), Questions: flow.Questions()})
}

// SubmitEstimate prices a completed questionnaire and creates the lead.
// POST /api/v1/public/estimates
func (h *PublicHandler) SubmitEstimate(c *gin.Context) {
	var req transport.SubmitEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidInput, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidInput, err.Error())
		return
	}

	lead, err := h.svc.SubmitAnswers(c.Request.Context(), req.ToAnswerSet())
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, transport.EstimateResponse{
		LeadID:    lead.ID,
		Estimate:  *lead.Estimate,
		LoginPath: "/api/v1/auth/line/start?leadId=" + url.QueryEscape(lead.ID),
		QRPath:    "/api/v1/public/leads/" + url.PathEscape(lead.ID) + "/qr",
	})
}

// GetLead returns the visitor's view of a lead.
// GET /api/v1/public/leads/:id
func (h *PublicHandler) GetLead(c *gin.Context) {
	lead, err := h.svc.GetLead(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToPublicLead(lead))
}

// GetLoginQR renders the LINE Login link as a PNG for desktop visitors.
// GET /api/v1/public/leads/:id/qr
func (h *PublicHandler) GetLoginQR(c *gin.Context) {
	leadID := c.Param("id")
	if _, err := h.svc.GetLead(c.Request.Context(), leadID); httpkit.HandleError(c, err) {
		return
	}
	if h.loginURL == nil {
		httpkit.HandleError(c, apperr.Unavailable(publicMsgLoginOff))
		return
	}

	target, err := h.loginURL(leadID)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Warn("login url unavailable", "error", err)
		httpkit.HandleError(c, apperr.Unavailable(publicMsgLoginOff))
		return
	}

	png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
	if err != nil {
		httpkit.HandleError(c, fmt.Errorf("encode qr: %w", err))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// SubmitDetails accepts the follow-up form with optional photos.
// POST /api/v1/public/leads/:id/details (multipart/form-data)
func (h *PublicHandler) SubmitDetails(c *gin.Context) {
	var form transport.DetailsForm
	if err := c.ShouldBind(&form); err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidInput, nil)
		return
	}
	if err := h.val.Struct(form); err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidInput, err.Error())
		return
	}

	photos, err := h.readPhotos(c)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidInput, err.Error())
		return
	}

	lead, err := h.svc.SubmitDetails(c.Request.Context(), c.Param("id"), form.ToDetails(), photos)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToPublicLead(lead))
}

func (h *PublicHandler) readPhotos(c *gin.Context) ([]service.Photo, error) {
	mf, err := c.MultipartForm()
	if err != nil {
		// url-encoded submissions carry no photos.
		return nil, nil
	}
	files := mf.File[photosField]
	if len(files) > service.MaxPhotos {
		return nil, fmt.Errorf("at most %d photos can be uploaded", service.MaxPhotos)
	}

	photos := make([]service.Photo, 0, len(files))
	for _, fh := range files {
		if h.maxUpload > 0 && fh.Size > h.maxUpload {
			return nil, fmt.Errorf("%s exceeds the maximum size", fh.Filename)
		}
		data, err := readFile(fh, h.maxUpload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		photos = append(photos, service.Photo{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return photos, nil
}

func readFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	if limit <= 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(io.LimitReader(f, limit+1))
}
