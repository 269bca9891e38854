// Package transport holds the JSON shapes of the lead endpoints.
package transport

import (
	"time"

	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/internal/storage"
)

type QuestionsResponse struct {
	Version   string                  `json:"version"`
	Questions []questionflow.Question `json:"questions"`
}

type SubmitEstimateRequest struct {
	Answers map[string]string `json:"answers" validate:"required,min=1,dive,keys,required,max=64,endkeys,required,max=64"`
}

// ToAnswerSet converts the wire map into typed answers.
func (r SubmitEstimateRequest) ToAnswerSet() questionflow.AnswerSet {
	out := make(questionflow.AnswerSet, len(r.Answers))
	for k, v := range r.Answers {
		out[questionflow.QuestionID(k)] = v
	}
	return out
}

type EstimateResponse struct {
	LeadID   string           `json:"leadId"`
	Estimate pricing.Estimate `json:"estimate"`
	// LoginPath starts LINE Login for this lead.
	LoginPath string `json:"loginPath"`
	QRPath    string `json:"qrPath"`
}

// DetailsForm is the multipart form of the follow-up details page.
type DetailsForm struct {
	Name             string `form:"name" validate:"omitempty,max=100"`
	Phone            string `form:"phone" validate:"omitempty,jpphone"`
	Email            string `form:"email" validate:"omitempty,email,max=254"`
	Address          string `form:"address" validate:"omitempty,max=300"`
	PreferredContact string `form:"preferredContact" validate:"omitempty,oneof=line phone email"`
	Note             string `form:"note" validate:"omitempty,max=2000"`
}

func (f DetailsForm) ToDetails() repository.Details {
	return repository.Details{
		Name:             f.Name,
		Phone:            f.Phone,
		Email:            f.Email,
		Address:          f.Address,
		PreferredContact: f.PreferredContact,
		Note:             f.Note,
	}
}

// PublicLeadResponse is what the visitor's own browser may see.
type PublicLeadResponse struct {
	ID               string                 `json:"id"`
	Answers          questionflow.AnswerSet `json:"answers"`
	Estimate         *pricing.Estimate      `json:"estimate,omitempty"`
	Linked           bool                   `json:"linked"`
	DetailsSubmitted bool                   `json:"detailsSubmitted"`
	CreatedAt        time.Time              `json:"createdAt"`
}

func ToPublicLead(l repository.Lead) PublicLeadResponse {
	return PublicLeadResponse{
		ID:               l.ID,
		Answers:          l.Answers,
		Estimate:         l.Estimate,
		Linked:           l.Identity != "",
		DetailsSubmitted: l.Details != nil,
		CreatedAt:        l.CreatedAt,
	}
}

type PhotoResponse struct {
	repository.PhotoRef
	Download *storage.PresignedURL `json:"download,omitempty"`
}

type DeliveryStatus struct {
	State     string `json:"state"`
	Delivered bool   `json:"delivered"`
}

// AdminLeadResponse is the back-office view of a lead.
type AdminLeadResponse struct {
	ID          string                 `json:"id"`
	Answers     questionflow.AnswerSet `json:"answers"`
	Estimate    *pricing.Estimate      `json:"estimate,omitempty"`
	Identity    string                 `json:"identity,omitempty"`
	Details     *repository.Details    `json:"details,omitempty"`
	Photos      []PhotoResponse        `json:"photos"`
	Delivery    *DeliveryStatus        `json:"delivery,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	EstimatedAt *time.Time             `json:"estimatedAt,omitempty"`
	LinkedAt    *time.Time             `json:"linkedAt,omitempty"`
	DetailsAt   *time.Time             `json:"detailsAt,omitempty"`
}
