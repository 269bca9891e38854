// Package events defines the domain events exchanged between modules.
// The bus itself lives in platform/events.
package events

import (
	"estimate_backend/internal/email"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/platform/events"
	"estimate_backend/platform/logger"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Leads Domain Events
// =============================================================================

// EstimateReady is published once a lead's estimate has been stored.
type EstimateReady struct {
	BaseEvent
	LeadID string `json:"leadId"`
	Amount int64  `json:"amount"`
}

func (e EstimateReady) EventName() string { return "leads.estimate.ready" }

// IdentityLinked is published after a LINE login attached an identity to a lead.
type IdentityLinked struct {
	BaseEvent
	LeadID   string `json:"leadId"`
	Identity string `json:"identity"`
}

func (e IdentityLinked) EventName() string { return "leads.identity.linked" }

// DetailsSubmitted is published after the follow-up form was attached to a lead.
// Lead and Photos are the in-process payload for the back-office records.
type DetailsSubmitted struct {
	BaseEvent
	LeadID     string             `json:"leadId"`
	PhotoCount int                `json:"photoCount"`
	Lead       repository.Lead    `json:"-"`
	Photos     []email.Attachment `json:"-"`
}

func (e DetailsSubmitted) EventName() string { return "leads.details.submitted" }

// =============================================================================
// Messaging Domain Events
// =============================================================================

// ChannelFollowed is published when the webhook reports a follow of the official account.
type ChannelFollowed struct {
	BaseEvent
	Identity string `json:"identity"`
	LeadHint string `json:"leadHint,omitempty"`
}

func (e ChannelFollowed) EventName() string { return "line.channel.followed" }

// ChannelUnfollowed is published when a user blocks or unfollows the official account.
type ChannelUnfollowed struct {
	BaseEvent
	Identity string `json:"identity"`
}

func (e ChannelUnfollowed) EventName() string { return "line.channel.unfollowed" }
