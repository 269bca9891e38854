package httpkit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"estimate_backend/platform/apperr"
	"estimate_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("lead not found"), http.StatusNotFound},
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.Unauthorized("no"), http.StatusUnauthorized},
		{apperr.Unavailable("line down"), http.StatusServiceUnavailable},
		{errors.Join(errors.New("outer"), apperr.BadRequest("dup")), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		if !HandleError(c, tc.err) {
			t.Fatalf("expected %v to be handled", tc.err)
		}
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(NewIPRateLimiter(rate.Limit(0.001), 2, logger.Discard()).RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	var seen string
	engine.GET("/", func(c *gin.Context) {
		seen, _ = c.Request.Context().Value(logger.RequestIDKey).(string)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if seen != "req-1" || w.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestHandleErrorHidesWrappedCause(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	err := apperr.Wrap(apperr.KindInternal, "failed to store lead", errors.New("pq: connection refused"))

	HandleError(c, err)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "failed to store lead") || strings.Contains(body, "connection refused") {
		t.Fatalf("unexpected body %s", body)
	}
	if len(c.Errors) != 1 || !strings.Contains(c.Errors[0].Error(), "connection refused") {
		t.Fatalf("cause should be kept for the request log, got %v", c.Errors)
	}
}
