package webhook

import (
	"net/http"

	"estimate_backend/internal/line"
	"estimate_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Handler receives LINE Messaging API webhooks.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// HandleLine processes a signature-verified webhook. Any failed event turns the
// response into a 500 so LINE redelivers the batch.
// POST /api/v1/webhook/line
func (h *Handler) HandleLine(c *gin.Context) {
	raw, _ := c.Get(ctxRawBody)
	body, _ := raw.([]byte)

	payload, err := line.ParseWebhook(body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid webhook payload", nil)
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), payload); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
