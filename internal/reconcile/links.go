package reconcile

import (
	"context"
	"time"
)

// LinkStore holds the identity-to-lead associations. Every method is a point operation
// that stays atomic under concurrent handlers.
type LinkStore interface {
	// SetLink points identity at leadID and returns the lead it pointed at before ("" if none).
	SetLink(ctx context.Context, identity, leadID string) (string, error)
	// GetLink returns the linked lead or "".
	GetLink(ctx context.Context, identity string) (string, error)

	// AddPending parks identity on leadID. An identity is pending on at most one lead;
	// a previous entry for another lead is replaced. It returns that previous lead ("" if none).
	AddPending(ctx context.Context, identity, leadID string) (string, error)
	// RemovePending clears the entry only if identity is still pending on leadID.
	RemovePending(ctx context.Context, identity, leadID string) error
	// PendingLead returns the lead identity is pending on, or "".
	PendingLead(ctx context.Context, identity string) (string, error)
	// PendingForLead lists identities pending on leadID.
	PendingForLead(ctx context.Context, leadID string) ([]string, error)

	MarkDelivered(ctx context.Context, leadID, identity string) error
	IsDelivered(ctx context.Context, leadID, identity string) (bool, error)

	// Claim takes a short lease on the (leadID, identity) pair so only one handler sends.
	Claim(ctx context.Context, leadID, identity string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, leadID, identity string) error
}
