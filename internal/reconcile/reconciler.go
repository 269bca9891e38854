// Package reconcile merges an anonymous estimate with a LINE identity that becomes known
// later, through a login or a channel follow, and delivers the estimate once both are known.
//
// Per identity the states are Unknown, Pending and Delivered. The three triggers
// (OnFollow, OnIdentityLink, OnEstimateReady) may arrive in any order and may repeat;
// every ordering ends with exactly one delivery once identity and estimate are both known.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/outbox"
	"estimate_backend/platform/logger"
)

// State is the reconciliation state of one identity.
type State string

const (
	StateUnknown   State = "unknown"
	StatePending   State = "pending"
	StateDelivered State = "delivered"
)

// ErrDeliveryInFlight means another handler holds the claim for the pair.
var ErrDeliveryInFlight = errors.New("delivery already in progress")

// Messenger sends LINE push messages.
type Messenger interface {
	PushText(ctx context.Context, identity, text string) error
	PushTemplate(ctx context.Context, identity, title, body, actionURL string) error
}

// LeadReader is the read side of the lead store.
type LeadReader interface {
	Get(ctx context.Context, id string) (repository.Lead, error)
}

// Config holds the reconciler settings.
type Config struct {
	AppBaseURL string
	ClaimTTL   time.Duration
}

type Reconciler struct {
	leads    LeadReader
	links    LinkStore
	gateway  Messenger
	retries  outbox.Scheduler
	log      *logger.Logger
	baseURL  string
	claimTTL time.Duration
}

// New builds a reconciler. retries may be nil, in which case failed deliveries stay
// pending until the next follow, message or estimate-ready trigger.
func New(leads LeadReader, links LinkStore, gateway Messenger, retries outbox.Scheduler, cfg Config, log *logger.Logger) *Reconciler {
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Reconciler{
		leads:    leads,
		links:    links,
		gateway:  gateway,
		retries:  retries,
		log:      log,
		baseURL:  strings.TrimRight(cfg.AppBaseURL, "/"),
		claimTTL: ttl,
	}
}

// DetailsURL is the deep link into the detailed questionnaire for leadID.
func (r *Reconciler) DetailsURL(leadID string) string {
	return r.baseURL + "/details?lead=" + url.QueryEscape(leadID)
}

// OnFollow handles a follow of the official account. leadHint is a lead id carried by the
// follow (for example from the add-friend link) and may be empty.
func (r *Reconciler) OnFollow(ctx context.Context, identity, leadHint string) error {
	leadID, err := r.links.GetLink(ctx, identity)
	if err != nil {
		return err
	}

	if leadID == "" {
		if leadHint == "" {
			r.notify(ctx, identity, msgWelcome)
			return nil
		}
		if _, err := r.leads.Get(ctx, leadHint); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notify(ctx, identity, msgWelcome)
				return nil
			}
			return err
		}
		// Delivery waits for a verified link; the hint only parks the identity.
		if err := r.park(ctx, identity, leadHint); err != nil {
			return err
		}
		r.notify(ctx, identity, msgPreparing)
		return nil
	}

	return r.advance(ctx, identity, leadID, "follow", true)
}

// OnIdentityLink records that identity proved ownership of leadID. The newest link wins;
// a pending delivery for the identity's previous lead is cancelled. Messaging failures
// never surface here.
func (r *Reconciler) OnIdentityLink(ctx context.Context, identity, leadID string) error {
	if _, err := r.leads.Get(ctx, leadID); err != nil {
		return err
	}

	prev, err := r.links.SetLink(ctx, identity, leadID)
	if err != nil {
		return err
	}
	if prev != "" && prev != leadID {
		if err := r.links.RemovePending(ctx, identity, prev); err != nil {
			return err
		}
		r.log.Info("identity relinked", "identity", identity, "previous_lead_id", prev, "lead_id", leadID)
	}

	return r.advance(ctx, identity, leadID, "link", true)
}

// OnEstimateReady delivers to every identity parked on leadID whose link still points there.
func (r *Reconciler) OnEstimateReady(ctx context.Context, leadID string) error {
	identities, err := r.links.PendingForLead(ctx, leadID)
	if err != nil {
		return err
	}

	var errs []error
	for _, identity := range identities {
		linked, err := r.links.GetLink(ctx, identity)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if linked != leadID {
			continue
		}
		if _, err := r.deliver(ctx, leadID, identity, "estimate_ready", true); err != nil && !isGatewayError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnUnfollow drops any pending delivery; blocked users cannot receive pushes.
func (r *Reconciler) OnUnfollow(ctx context.Context, identity string) error {
	pending, err := r.links.PendingLead(ctx, identity)
	if err != nil || pending == "" {
		return err
	}
	return r.links.RemovePending(ctx, identity, pending)
}

// RetryDelivery is the outbox entry point. It returns an error only while the push
// itself keeps failing.
func (r *Reconciler) RetryDelivery(ctx context.Context, leadID, identity string) error {
	linked, err := r.links.GetLink(ctx, identity)
	if err != nil {
		return err
	}
	if linked != leadID {
		return nil
	}
	_, err = r.deliver(ctx, leadID, identity, "retry", false)
	return err
}

// Status reports the state of identity and the lead it concerns.
func (r *Reconciler) Status(ctx context.Context, identity string) (State, string, error) {
	linked, err := r.links.GetLink(ctx, identity)
	if err != nil {
		return StateUnknown, "", err
	}
	if linked != "" {
		delivered, err := r.links.IsDelivered(ctx, linked, identity)
		if err != nil {
			return StateUnknown, "", err
		}
		if delivered {
			return StateDelivered, linked, nil
		}
		return StatePending, linked, nil
	}

	pending, err := r.links.PendingLead(ctx, identity)
	if err != nil {
		return StateUnknown, "", err
	}
	if pending != "" {
		return StatePending, pending, nil
	}
	return StateUnknown, "", nil
}

// Delivered reports whether leadID has been delivered to identity.
func (r *Reconciler) Delivered(ctx context.Context, leadID, identity string) (bool, error) {
	return r.links.IsDelivered(ctx, leadID, identity)
}

// advance moves a linked identity forward: deliver when the estimate is ready,
// otherwise park it and acknowledge.
func (r *Reconciler) advance(ctx context.Context, identity, leadID, trigger string, scheduleRetry bool) error {
	delivered, err := r.links.IsDelivered(ctx, leadID, identity)
	if err != nil || delivered {
		return err
	}

	// Parked before the lead is read, so an OnEstimateReady racing with this call
	// always finds the identity.
	if err := r.park(ctx, identity, leadID); err != nil {
		return err
	}
	lead, err := r.leads.Get(ctx, leadID)
	if err != nil {
		return err
	}
	if !lead.HasEstimate() {
		r.notify(ctx, identity, msgPreparing)
		return nil
	}

	if _, err := r.deliver(ctx, leadID, identity, trigger, scheduleRetry); err != nil && !isGatewayError(err) {
		return err
	}
	return nil
}

func (r *Reconciler) park(ctx context.Context, identity, leadID string) error {
	prev, err := r.links.AddPending(ctx, identity, leadID)
	if err != nil {
		return err
	}
	if prev != "" && prev != leadID {
		r.log.Info("pending delivery superseded", "identity", identity, "previous_lead_id", prev, "lead_id", leadID)
	}
	return nil
}

type gatewayError struct{ err error }

func (e *gatewayError) Error() string { return e.err.Error() }
func (e *gatewayError) Unwrap() error { return e.err }

func isGatewayError(err error) bool {
	var ge *gatewayError
	return errors.As(err, &ge) || errors.Is(err, ErrDeliveryInFlight)
}

// deliver pushes the estimate to identity. The pair is parked before the push and the
// delivered flag is written after it, so a crash in between can only cause a duplicate.
func (r *Reconciler) deliver(ctx context.Context, leadID, identity, trigger string, scheduleRetry bool) (bool, error) {
	if err := r.park(ctx, identity, leadID); err != nil {
		return false, err
	}

	claimed, err := r.links.Claim(ctx, leadID, identity, r.claimTTL)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, ErrDeliveryInFlight
	}
	defer func() {
		if err := r.links.Release(context.WithoutCancel(ctx), leadID, identity); err != nil {
			r.log.Warn("release delivery claim", "lead_id", leadID, "identity", identity, "error", err)
		}
	}()

	delivered, err := r.links.IsDelivered(ctx, leadID, identity)
	if err != nil {
		return false, err
	}
	if delivered {
		return true, r.links.RemovePending(ctx, identity, leadID)
	}

	lead, err := r.leads.Get(ctx, leadID)
	if err != nil {
		return false, err
	}
	if !lead.HasEstimate() {
		return false, nil
	}

	if err := r.sendEstimate(ctx, lead, identity, trigger); err != nil {
		if scheduleRetry {
			r.scheduleRetry(ctx, leadID, identity)
		}
		return false, err
	}

	if err := r.links.MarkDelivered(ctx, leadID, identity); err != nil {
		return true, err
	}
	if err := r.links.RemovePending(ctx, identity, leadID); err != nil {
		return true, err
	}
	return true, nil
}

// sendEstimate pushes the narrative, then the deep link to the details form. Only the first
// push decides success; the two messages are independent.
func (r *Reconciler) sendEstimate(ctx context.Context, lead repository.Lead, identity, trigger string) error {
	if err := r.gateway.PushText(ctx, identity, lead.Estimate.Narrative); err != nil {
		r.log.DeliveryAttempt(lead.ID, identity, trigger, err)
		return &gatewayError{err: fmt.Errorf("push estimate: %w", err)}
	}
	r.log.DeliveryAttempt(lead.ID, identity, trigger, nil)

	if err := r.gateway.PushTemplate(ctx, identity, detailsTitle, detailsBody, r.DetailsURL(lead.ID)); err != nil {
		r.log.Warn("details link push failed after estimate was delivered",
			"lead_id", lead.ID, "identity", identity, "error", err)
	}
	return nil
}

func (r *Reconciler) scheduleRetry(ctx context.Context, leadID, identity string) {
	if r.retries == nil {
		return
	}
	if err := r.retries.Schedule(ctx, outbox.Entry{LeadID: leadID, Identity: identity}); err != nil {
		r.log.Error("schedule delivery retry", "lead_id", leadID, "identity", identity, "error", err)
	}
}

func (r *Reconciler) notify(ctx context.Context, identity, text string) {
	if err := r.gateway.PushText(ctx, identity, text); err != nil {
		r.log.Warn("acknowledgement push failed", "identity", identity, "error", err)
	}
}

var leadCodePattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// OnMessage answers a chat message. It always re-reads the lead, so repeating a keyword
// is harmless; a resend also settles a pending delivery.
func (r *Reconciler) OnMessage(ctx context.Context, identity, text string) error {
	if code := leadCodePattern.FindString(text); code != "" {
		linked, err := r.links.GetLink(ctx, identity)
		if err != nil {
			return err
		}
		if linked == "" {
			return r.OnFollow(ctx, identity, strings.ToLower(code))
		}
	}

	normalized := strings.ToLower(text)
	switch {
	case containsAny(normalized, estimateKeywords):
		return r.resendEstimate(ctx, identity)
	case containsAny(normalized, detailsKeywords):
		leadID, err := r.links.GetLink(ctx, identity)
		if err != nil {
			return err
		}
		if leadID == "" {
			r.notify(ctx, identity, msgLoginRequired)
			return nil
		}
		if err := r.gateway.PushTemplate(ctx, identity, detailsTitle, detailsBody, r.DetailsURL(leadID)); err != nil {
			r.log.Warn("details link push failed", "lead_id", leadID, "identity", identity, "error", err)
		}
		return nil
	default:
		r.notify(ctx, identity, msgWelcome)
		return nil
	}
}

func (r *Reconciler) resendEstimate(ctx context.Context, identity string) error {
	leadID, err := r.links.GetLink(ctx, identity)
	if err != nil {
		return err
	}
	if leadID == "" {
		r.notify(ctx, identity, msgLoginRequired)
		return nil
	}

	lead, err := r.leads.Get(ctx, leadID)
	if err != nil {
		return err
	}
	if !lead.HasEstimate() {
		r.notify(ctx, identity, msgPreparing)
		return nil
	}

	if err := r.sendEstimate(ctx, lead, identity, "keyword"); err != nil {
		return nil
	}
	if err := r.links.MarkDelivered(ctx, leadID, identity); err != nil {
		return err
	}
	return r.links.RemovePending(ctx, identity, leadID)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
