package repository

import (
	"context"
	"errors"
	"time"

	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
)

var ErrNotFound = errors.New("lead not found")

// Lead ties a questionnaire's answers and estimate to an eventual messaging identity
// and the follow-up details the visitor submits.
type Lead struct {
	ID          string
	Answers     questionflow.AnswerSet
	Estimate    *pricing.Estimate
	Identity    string
	Details     *Details
	CreatedAt   time.Time
	EstimatedAt *time.Time
	LinkedAt    *time.Time
	DetailsAt   *time.Time
}

// HasEstimate reports whether the estimate is ready for delivery.
func (l Lead) HasEstimate() bool { return l.Estimate != nil }

// Details is the follow-up contact form attached after the estimate.
type Details struct {
	Name             string     `json:"name,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Email            string     `json:"email,omitempty"`
	Address          string     `json:"address,omitempty"`
	PreferredContact string     `json:"preferredContact,omitempty"`
	Note             string     `json:"note,omitempty"`
	Photos           []PhotoRef `json:"photos,omitempty"`
}

// PhotoRef points at an uploaded photo in object storage.
type PhotoRef struct {
	FileKey     string     `json:"fileKey"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	Size        int64      `json:"size"`
	TakenAt     *time.Time `json:"takenAt,omitempty"`
}

// merge overlays the non-empty fields of next and appends its photos.
func (d Details) merge(next Details) Details {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&d.Name, next.Name)
	set(&d.Phone, next.Phone)
	set(&d.Email, next.Email)
	set(&d.Address, next.Address)
	set(&d.PreferredContact, next.PreferredContact)
	set(&d.Note, next.Note)
	d.Photos = append(append([]PhotoRef(nil), d.Photos...), next.Photos...)
	return d
}

// LeadReader provides read-only access to leads.
type LeadReader interface {
	Get(ctx context.Context, id string) (Lead, error)
}

// LeadWriter provides the three disjoint lead mutations plus creation.
type LeadWriter interface {
	Create(ctx context.Context, answers questionflow.AnswerSet, estimate *pricing.Estimate) (Lead, error)
	AttachEstimate(ctx context.Context, id string, estimate pricing.Estimate) (Lead, error)
	AttachIdentity(ctx context.Context, id string, identity string) (Lead, error)
	AttachDetails(ctx context.Context, id string, details Details) (Lead, error)
}

// LeadStore is the complete lead persistence contract. Every method is a single atomic
// read-modify-write; unknown ids return ErrNotFound.
type LeadStore interface {
	LeadReader
	LeadWriter
}
