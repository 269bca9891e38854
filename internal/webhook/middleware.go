package webhook

import (
	"io"

	"estimate_backend/internal/line"
	"estimate_backend/platform/apperr"
	"estimate_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	ctxRawBody   = "lineWebhookBody"
	maxBodyBytes = 1 << 20
)

// SignatureMiddleware rejects requests whose X-Line-Signature does not match
// the raw body and keeps the body for the handler.
func SignatureMiddleware(channelSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil || len(body) > maxBodyBytes {
			httpkit.HandleError(c, apperr.BadRequest("invalid body"))
			c.Abort()
			return
		}
		if !line.VerifySignature(channelSecret, body, c.GetHeader(line.SignatureHeader)) {
			httpkit.HandleError(c, apperr.Unauthorized("invalid signature"))
			c.Abort()
			return
		}
		c.Set(ctxRawBody, body)
		c.Next()
	}
}
