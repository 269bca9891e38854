package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/line"
	"estimate_backend/internal/outbox"
	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/platform/logger"
)

const (
	testIdentity  = "U4af4980629"
	testNarrative = "概算お見積もり金額は 860,000円 です。"
)

type sentMessage struct {
	identity string
	text     string
	title    string
	url      string
}

type fakeGateway struct {
	mu            sync.Mutex
	sent          []sentMessage
	textFailures  int
	templateFails bool
}

func (g *fakeGateway) PushText(_ context.Context, identity, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.textFailures > 0 {
		g.textFailures--
		return errors.New("line api unavailable")
	}
	g.sent = append(g.sent, sentMessage{identity: identity, text: text})
	return nil
}

func (g *fakeGateway) PushTemplate(_ context.Context, identity, title, _, actionURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.templateFails {
		return errors.New("template rejected")
	}
	g.sent = append(g.sent, sentMessage{identity: identity, title: title, url: actionURL})
	return nil
}

func (g *fakeGateway) count(text string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range g.sent {
		if m.text == text {
			n++
		}
	}
	return n
}

func (g *fakeGateway) templates() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentMessage
	for _, m := range g.sent {
		if m.title != "" {
			out = append(out, m)
		}
	}
	return out
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries []outbox.Entry
}

func (s *fakeScheduler) Schedule(_ context.Context, e outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

type fixture struct {
	store    *repository.MemoryStore
	links    *MemoryLinkStore
	gateway  *fakeGateway
	retries  *fakeScheduler
	rec      *Reconciler
	estimate pricing.Estimate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		links:    NewMemoryLinkStore(),
		gateway:  &fakeGateway{},
		retries:  &fakeScheduler{},
		estimate: pricing.Estimate{Amount: 860000, Narrative: testNarrative},
	}
	f.rec = New(f.store, f.links, f.gateway, f.retries, Config{AppBaseURL: "https://example.jp/"}, logger.Discard())
	return f
}

func (f *fixture) newLead(t *testing.T, withEstimate bool) string {
	t.Helper()
	var est *pricing.Estimate
	if withEstimate {
		e := f.estimate
		est = &e
	}
	lead, err := f.store.Create(context.Background(), questionflow.AnswerSet{}, est)
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return lead.ID
}

func (f *fixture) status(t *testing.T) State {
	t.Helper()
	state, _, err := f.rec.Status(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return state
}

func TestFollowBeforeLinkParksAndAcknowledges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	table, err := pricing.Default()
	if err != nil {
		t.Fatalf("load pricing: %v", err)
	}
	f.estimate = table.Compute(questionflow.AnswerSet{
		questionflow.QuestionWorkType:     questionflow.WorkTypeWall,
		questionflow.QuestionAge:          "11-15y",
		questionflow.QuestionFloors:       "2",
		questionflow.QuestionWallMaterial: "siding",
	})
	if f.estimate.Amount != 860000 {
		t.Fatalf("expected 860000, got %d", f.estimate.Amount)
	}
	leadID := f.newLead(t, true)

	if err := f.rec.OnFollow(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	if f.gateway.count(msgPreparing) != 1 {
		t.Fatalf("expected a preparing acknowledgement, got %+v", f.gateway.sent)
	}
	if f.gateway.count(f.estimate.Narrative) != 0 {
		t.Fatalf("estimate must not be delivered before a link exists")
	}
	pending, _ := f.links.PendingLead(ctx, testIdentity)
	if pending != leadID {
		t.Fatalf("expected pending entry for %s, got %q", leadID, pending)
	}
	if f.status(t) != StatePending {
		t.Fatalf("expected pending state, got %s", f.status(t))
	}

	if err := f.rec.OnIdentityLink(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if f.gateway.count(f.estimate.Narrative) != 1 || f.status(t) != StateDelivered {
		t.Fatalf("expected delivery after link, state=%s", f.status(t))
	}
	if pending, _ := f.links.PendingLead(ctx, testIdentity); pending != "" {
		t.Fatalf("pending entry must be cleared after delivery, got %q", pending)
	}
}

func TestFollowWithoutLinkOrHintWelcomesOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.rec.OnFollow(ctx, testIdentity, ""); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if f.gateway.count(msgWelcome) != 1 || len(f.gateway.sent) != 1 {
		t.Fatalf("expected only a welcome, got %+v", f.gateway.sent)
	}
	if f.status(t) != StateUnknown {
		t.Fatalf("expected unknown state, got %s", f.status(t))
	}
}

type event string

const (
	evFollow event = "follow"
	evLink   event = "link"
	evReady  event = "ready"
)

func permutations(events []event) [][]event {
	if len(events) <= 1 {
		return [][]event{events}
	}
	var out [][]event
	for i := range events {
		rest := make([]event, 0, len(events)-1)
		rest = append(rest, events[:i]...)
		rest = append(rest, events[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]event{events[i]}, p...))
		}
	}
	return out
}

func TestAllOrderingsConvergeToOneDelivery(t *testing.T) {
	orders := permutations([]event{evFollow, evLink, evReady})
	if len(orders) != 6 {
		t.Fatalf("expected 6 orderings, got %d", len(orders))
	}

	for _, order := range orders {
		// Each event is repeated to check idempotence.
		sequence := make([]event, 0, len(order)*2)
		for _, ev := range order {
			sequence = append(sequence, ev, ev)
		}

		t.Run(fmt.Sprint(order), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			leadID := f.newLead(t, false)
			linked, ready := false, false

			for _, ev := range sequence {
				var err error
				switch ev {
				case evFollow:
					err = f.rec.OnFollow(ctx, testIdentity, "")
				case evLink:
					if _, err = f.store.AttachIdentity(ctx, leadID, testIdentity); err == nil {
						err = f.rec.OnIdentityLink(ctx, testIdentity, leadID)
					}
					linked = true
				case evReady:
					if _, err = f.store.AttachEstimate(ctx, leadID, f.estimate); err == nil {
						err = f.rec.OnEstimateReady(ctx, leadID)
					}
					ready = true
				}
				if err != nil {
					t.Fatalf("%s: %v", ev, err)
				}

				delivered := f.gateway.count(testNarrative)
				if !(linked && ready) && delivered != 0 {
					t.Fatalf("delivered before both pieces were known (after %s)", ev)
				}
				if linked && ready && delivered != 1 {
					t.Fatalf("expected exactly one delivery after %s, got %d", ev, delivered)
				}
			}

			if f.status(t) != StateDelivered {
				t.Fatalf("expected delivered state, got %s", f.status(t))
			}
			if got := f.gateway.templates(); len(got) != 1 || !strings.HasSuffix(got[0].url, "/details?lead="+leadID) {
				t.Fatalf("expected one details link, got %+v", got)
			}
		})
	}
}

func TestPushFailureOnLinkParksAndFollowCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)
	f.gateway.textFailures = 1

	if err := f.rec.OnIdentityLink(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("gateway failure must not surface, got %v", err)
	}
	if f.status(t) != StatePending {
		t.Fatalf("expected pending after failed push, got %s", f.status(t))
	}
	if len(f.retries.entries) != 1 || f.retries.entries[0] != (outbox.Entry{LeadID: leadID, Identity: testIdentity}) {
		t.Fatalf("expected one scheduled retry, got %+v", f.retries.entries)
	}

	if err := f.rec.OnFollow(ctx, testIdentity, ""); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if f.status(t) != StateDelivered || f.gateway.count(testNarrative) != 1 {
		t.Fatalf("expected follow to complete delivery, state=%s", f.status(t))
	}

	if err := f.rec.RetryDelivery(ctx, leadID, testIdentity); err != nil {
		t.Fatalf("retry after delivery should settle, got %v", err)
	}
	if f.gateway.count(testNarrative) != 1 {
		t.Fatalf("retry must not send twice")
	}
}

func TestPushFailureOnLinkEstimateReadyCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)
	f.gateway.textFailures = 1

	_ = f.rec.OnIdentityLink(ctx, testIdentity, leadID)
	if err := f.rec.OnEstimateReady(ctx, leadID); err != nil {
		t.Fatalf("estimate ready: %v", err)
	}
	if f.status(t) != StateDelivered {
		t.Fatalf("expected delivered, got %s", f.status(t))
	}
}

func TestRetryDeliveryReportsPersistentFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)
	f.gateway.textFailures = 2

	_ = f.rec.OnIdentityLink(ctx, testIdentity, leadID)
	if err := f.rec.RetryDelivery(ctx, leadID, testIdentity); err == nil {
		t.Fatalf("expected retry to report the failed push")
	}
	if err := f.rec.RetryDelivery(ctx, leadID, testIdentity); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(f.retries.entries) != 1 {
		t.Fatalf("retries driven by the outbox must not reschedule, got %d", len(f.retries.entries))
	}
}

func TestDisabledMessagingKeepsPairPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)

	var disabled *line.MessagingClient
	rec := New(f.store, f.links, disabled, f.retries, Config{AppBaseURL: "https://example.jp"}, logger.Discard())
	if err := rec.OnIdentityLink(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("link: %v", err)
	}

	state, _, err := rec.Status(ctx, testIdentity)
	if err != nil || state != StatePending {
		t.Fatalf("expected pending while messaging is off, got %s (%v)", state, err)
	}
	if err := rec.RetryDelivery(ctx, leadID, testIdentity); !errors.Is(err, line.ErrMessagingDisabled) {
		t.Fatalf("expected retry to report disabled messaging, got %v", err)
	}
}

func TestRelinkCancelsPreviousPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.newLead(t, false)
	second := f.newLead(t, false)

	_ = f.rec.OnIdentityLink(ctx, testIdentity, first)
	_ = f.rec.OnIdentityLink(ctx, testIdentity, second)

	if ids, _ := f.links.PendingForLead(ctx, first); len(ids) != 0 {
		t.Fatalf("pending on superseded lead must be cancelled, got %v", ids)
	}

	_, _ = f.store.AttachEstimate(ctx, first, f.estimate)
	_ = f.rec.OnEstimateReady(ctx, first)
	if f.gateway.count(testNarrative) != 0 {
		t.Fatalf("superseded lead must not be delivered")
	}
	if err := f.rec.RetryDelivery(ctx, first, testIdentity); err != nil || f.gateway.count(testNarrative) != 0 {
		t.Fatalf("retry for superseded lead must be dropped, err=%v", err)
	}

	_, _ = f.store.AttachEstimate(ctx, second, f.estimate)
	_ = f.rec.OnEstimateReady(ctx, second)
	if f.gateway.count(testNarrative) != 1 {
		t.Fatalf("expected the newest lead to be delivered")
	}
}

func TestTemplateFailureDoesNotRollBackDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)
	f.gateway.templateFails = true

	if err := f.rec.OnIdentityLink(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if f.status(t) != StateDelivered {
		t.Fatalf("estimate text was sent, expected delivered, got %s", f.status(t))
	}
	if len(f.retries.entries) != 0 {
		t.Fatalf("no retry expected")
	}
}

func TestLinkUnknownLead(t *testing.T) {
	f := newFixture(t)
	err := f.rec.OnIdentityLink(context.Background(), testIdentity, "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.status(t) != StateUnknown {
		t.Fatalf("unknown lead must not create a link")
	}
}

func TestConcurrentTriggersDeliverOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)
	_, _ = f.links.SetLink(ctx, testIdentity, leadID)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = f.rec.OnFollow(ctx, testIdentity, "") }()
		go func() { defer wg.Done(); _ = f.rec.OnIdentityLink(ctx, testIdentity, leadID) }()
		go func() { defer wg.Done(); _ = f.rec.OnEstimateReady(ctx, leadID) }()
	}
	wg.Wait()

	if got := f.gateway.count(testNarrative); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}
}

// hookedLeads runs afterRead once, right after the n-th lead read returns.
type hookedLeads struct {
	inner     LeadReader
	n         int
	calls     int
	afterRead func()
}

func (h *hookedLeads) Get(ctx context.Context, id string) (repository.Lead, error) {
	lead, err := h.inner.Get(ctx, id)
	h.calls++
	if h.calls == h.n && h.afterRead != nil {
		h.afterRead()
	}
	return lead, err
}

func TestEstimateReadyDuringLinkReadIsDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, false)

	// The second read is the one OnIdentityLink makes after storing the link.
	leads := &hookedLeads{inner: f.store, n: 2}
	rec := New(leads, f.links, f.gateway, f.retries, Config{AppBaseURL: "https://example.jp"}, logger.Discard())
	leads.afterRead = func() {
		if _, err := f.store.AttachEstimate(ctx, leadID, f.estimate); err != nil {
			t.Errorf("attach estimate: %v", err)
		}
		if err := rec.OnEstimateReady(ctx, leadID); err != nil {
			t.Errorf("estimate ready: %v", err)
		}
	}

	if err := rec.OnIdentityLink(ctx, testIdentity, leadID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if got := f.gateway.count(testNarrative); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
	state, _, err := rec.Status(ctx, testIdentity)
	if err != nil || state != StateDelivered {
		t.Fatalf("expected delivered, got %s (%v)", state, err)
	}
}

func TestOnMessageKeywords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.rec.OnMessage(ctx, testIdentity, "見積もりを見たい"); err != nil {
		t.Fatalf("message: %v", err)
	}
	if f.gateway.count(msgLoginRequired) != 1 {
		t.Fatalf("unlinked identity should be asked to log in, got %+v", f.gateway.sent)
	}

	leadID := f.newLead(t, true)
	f.gateway.textFailures = 1
	_ = f.rec.OnIdentityLink(ctx, testIdentity, leadID)
	if f.status(t) != StatePending {
		t.Fatalf("expected pending after failed push")
	}

	_ = f.rec.OnMessage(ctx, testIdentity, "見積もり")
	if f.status(t) != StateDelivered || f.gateway.count(testNarrative) != 1 {
		t.Fatalf("keyword resend should settle the pending delivery")
	}
	_ = f.rec.OnMessage(ctx, testIdentity, "見積もり")
	if f.gateway.count(testNarrative) != 2 {
		t.Fatalf("explicit keyword requests always resend the current estimate")
	}

	_ = f.rec.OnMessage(ctx, testIdentity, "写真を送りたい")
	if got := f.gateway.templates(); len(got) != 3 {
		t.Fatalf("expected a details link per estimate send plus the details keyword, got %d", len(got))
	}
}

func TestOnMessageLeadCodeActsAsHint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, true)

	if err := f.rec.OnMessage(ctx, testIdentity, "受付番号 "+leadID); err != nil {
		t.Fatalf("message: %v", err)
	}
	if pending, _ := f.links.PendingLead(ctx, testIdentity); pending != leadID {
		t.Fatalf("expected lead code to park identity, got %q", pending)
	}
	if f.gateway.count(testNarrative) != 0 {
		t.Fatalf("a lead code alone must not deliver")
	}
}

func TestOnUnfollowDropsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leadID := f.newLead(t, false)
	_ = f.rec.OnIdentityLink(ctx, testIdentity, leadID)

	if err := f.rec.OnUnfollow(ctx, testIdentity); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if ids, _ := f.links.PendingForLead(ctx, leadID); len(ids) != 0 {
		t.Fatalf("expected pending cleared, got %v", ids)
	}
}
