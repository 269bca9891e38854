package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	apphttp "estimate_backend/internal/http"
	"estimate_backend/internal/line"
	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const testSecret = "channel-secret"

type call struct {
	kind     string
	identity string
	text     string
}

type fakeHandler struct {
	mu      sync.Mutex
	calls   []call
	failing bool
}

func (f *fakeHandler) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failing {
		return errors.New("link store unavailable")
	}
	return nil
}

func (f *fakeHandler) HandleFollow(_ context.Context, identity string) error {
	return f.record(call{kind: "follow", identity: identity})
}

func (f *fakeHandler) HandleUnfollow(_ context.Context, identity string) error {
	return f.record(call{kind: "unfollow", identity: identity})
}

func (f *fakeHandler) HandleMessage(_ context.Context, identity, text string) error {
	return f.record(call{kind: "message", identity: identity, text: text})
}

func newEngine(h EventHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	m := NewModule(h, &config.Config{LineChannelSecret: testSecret}, logger.Discard())
	m.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: engine.Group("/api/v1")})
	return engine
}

func post(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/line", bytes.NewReader(body))
	req.Header.Set(line.SignatureHeader, signature)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

const sampleBody = `{"destination":"Ubot","events":[
 {"type":"follow","webhookEventId":"ev1","source":{"type":"user","userId":"U1"},"deliveryContext":{"isRedelivery":false}},
 {"type":"message","webhookEventId":"ev2","source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":"見積もりを見たい"}},
 {"type":"message","webhookEventId":"ev3","source":{"type":"user","userId":"U1"},"message":{"id":"m2","type":"sticker"}},
 {"type":"follow","webhookEventId":"ev4","source":{"type":"group","groupId":"G1"}},
 {"type":"unfollow","webhookEventId":"ev5","source":{"type":"user","userId":"U2"}}
]}`

func TestWebhookDispatchesUserEvents(t *testing.T) {
	h := &fakeHandler{}
	engine := newEngine(h)
	body := []byte(sampleBody)

	w := post(engine, body, line.Sign(testSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	want := []call{
		{kind: "follow", identity: "U1"},
		{kind: "message", identity: "U1", text: "見積もりを見たい"},
		{kind: "unfollow", identity: "U2"},
	}
	if len(h.calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), h.calls)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], h.calls[i])
		}
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := &fakeHandler{}
	engine := newEngine(h)
	body := []byte(sampleBody)

	if w := post(engine, body, line.Sign("wrong", body)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := post(engine, body, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}
	if len(h.calls) != 0 {
		t.Fatalf("no event should be dispatched")
	}
}

func TestWebhookRedeliveryHandledOnce(t *testing.T) {
	h := &fakeHandler{}
	engine := newEngine(h)
	body := []byte(`{"events":[{"type":"follow","webhookEventId":"ev1","source":{"type":"user","userId":"U1"}}]}`)
	redelivered := []byte(`{"events":[{"type":"follow","webhookEventId":"ev1","source":{"type":"user","userId":"U1"},"deliveryContext":{"isRedelivery":true}}]}`)

	post(engine, body, line.Sign(testSecret, body))
	post(engine, redelivered, line.Sign(testSecret, redelivered))

	if len(h.calls) != 1 {
		t.Fatalf("expected one follow, got %d", len(h.calls))
	}
}

func TestFailedEventCanBeRedelivered(t *testing.T) {
	h := &fakeHandler{failing: true}
	d := NewDispatcher(h, logger.Discard())
	payload := line.WebhookPayload{Events: []line.WebhookEvent{{
		Type:           line.EventFollow,
		WebhookEventID: "ev1",
		Source:         line.EventSource{Type: "user", UserID: "U1"},
	}}}

	if err := d.Dispatch(context.Background(), payload); err == nil {
		t.Fatalf("expected the failure to be reported")
	}
	h.failing = false
	if err := d.Dispatch(context.Background(), payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if err := d.Dispatch(context.Background(), payload); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	if len(h.calls) != 2 {
		t.Fatalf("expected the failed event to be retried once, got %d calls", len(h.calls))
	}
}

// failOnce fails the first follow and accepts everything else.
type failOnce struct {
	fakeHandler
	failed bool
}

func (f *failOnce) HandleFollow(ctx context.Context, identity string) error {
	if !f.failed {
		f.failed = true
		_ = f.record(call{kind: "follow", identity: identity})
		return errors.New("link store unavailable")
	}
	return f.fakeHandler.HandleFollow(ctx, identity)
}

func TestWebhookFailedEventAnswers500AndRedeliveryRetriesOnlyIt(t *testing.T) {
	h := &failOnce{}
	engine := newEngine(h)
	body := []byte(`{"events":[
 {"type":"follow","webhookEventId":"ev1","source":{"type":"user","userId":"U1"}},
 {"type":"unfollow","webhookEventId":"ev2","source":{"type":"user","userId":"U2"}}
]}`)

	w := post(engine, body, line.Sign(testSecret, body))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so LINE redelivers, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("link store")) {
		t.Fatalf("internal cause leaked: %s", w.Body.String())
	}

	w = post(engine, body, line.Sign(testSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", w.Code)
	}

	want := []call{
		{kind: "follow", identity: "U1"},
		{kind: "unfollow", identity: "U2"},
		{kind: "follow", identity: "U1"},
	}
	if len(h.calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), h.calls)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], h.calls[i])
		}
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	engine := newEngine(&fakeHandler{})
	body := []byte(`{not json`)
	if w := post(engine, body, line.Sign(testSecret, body)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
