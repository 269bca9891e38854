// Package service is the lead facade used by the HTTP layer: it turns answers
// into an estimate, links identities and collects the follow-up details.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"estimate_backend/internal/email"
	"estimate_backend/internal/events"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/internal/storage"
	"estimate_backend/platform/apperr"
	"estimate_backend/platform/logger"
	"estimate_backend/platform/phone"
	"estimate_backend/platform/sanitize"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxPhotos caps the number of photos accepted in a single details submission.
	MaxPhotos       = 10
	uploadParallel  = 3
	msgLeadNotFound = "lead not found"
)

// Reconciler is the part of the identity reconciler the facade drives.
type Reconciler interface {
	OnIdentityLink(ctx context.Context, identity, leadID string) error
	OnFollow(ctx context.Context, identity, leadHint string) error
	OnUnfollow(ctx context.Context, identity string) error
	OnMessage(ctx context.Context, identity, text string) error
}

// Photo is an uploaded file as received from the details form.
type Photo struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Options carries the optional collaborators.
type Options struct {
	Photos       storage.PhotoStore
	MaxPhotoSize int64
}

type Service struct {
	flow       *questionflow.Flow
	table      *pricing.Table
	store      repository.LeadStore
	reconciler Reconciler
	bus        events.Bus
	photos     storage.PhotoStore
	maxPhoto   int64
	log        *logger.Logger
}

func New(flow *questionflow.Flow, table *pricing.Table, store repository.LeadStore, reconciler Reconciler, bus events.Bus, opts Options, log *logger.Logger) *Service {
	return &Service{
		flow:       flow,
		table:      table,
		store:      store,
		reconciler: reconciler,
		bus:        bus,
		photos:     opts.Photos,
		maxPhoto:   opts.MaxPhotoSize,
		log:        log,
	}
}

// Flow exposes the question definitions for the public questionnaire.
func (s *Service) Flow() *questionflow.Flow { return s.flow }

// SubmitAnswers validates a completed questionnaire, prices it and stores the lead.
// EstimateReady is published synchronously so pending followers are served before
// the call returns; handler failures are logged, the lead is still returned.
func (s *Service) SubmitAnswers(ctx context.Context, answers questionflow.AnswerSet) (repository.Lead, error) {
	if err := s.flow.Validate(answers); err != nil {
		return repository.Lead{}, apperr.Validation("answers are incomplete or invalid").WithDetails(err.Error())
	}

	estimate := s.table.Compute(answers)
	lead, err := s.store.Create(ctx, answers, &estimate)
	if err != nil {
		s.log.DatabaseError("create lead", err)
		return repository.Lead{}, apperr.Wrap(apperr.KindInternal, "failed to store lead", err)
	}

	if err := s.bus.PublishSync(ctx, events.EstimateReady{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Amount:    estimate.Amount,
	}); err != nil {
		s.log.Warn("estimate ready handlers failed", "lead_id", lead.ID, "error", err)
	}
	return lead, nil
}

func (s *Service) GetLead(ctx context.Context, id string) (repository.Lead, error) {
	lead, err := s.store.Get(ctx, id)
	if err != nil {
		return repository.Lead{}, mapStoreError(err)
	}
	return lead, nil
}

// LinkIdentity records a verified identity on the lead and hands over to the reconciler.
func (s *Service) LinkIdentity(ctx context.Context, leadID, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return apperr.BadRequest("identity is required")
	}
	// The link store goes first: when it fails the lead stays untouched, and a
	// repeated call after a failed attach is idempotent.
	if err := s.reconciler.OnIdentityLink(ctx, identity, leadID); err != nil {
		return mapStoreError(err)
	}
	if _, err := s.store.AttachIdentity(ctx, leadID, identity); err != nil {
		return mapStoreError(err)
	}

	s.bus.Publish(ctx, events.IdentityLinked{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		Identity:  identity,
	})
	return nil
}

func (s *Service) HandleFollow(ctx context.Context, identity string) error {
	return s.HandleFollowWithHint(ctx, identity, "")
}

// HandleFollowWithHint is HandleFollow with a lead id carried by the follow link.
func (s *Service) HandleFollowWithHint(ctx context.Context, identity, leadHint string) error {
	if err := s.reconciler.OnFollow(ctx, identity, leadHint); err != nil {
		return fmt.Errorf("follow %s: %w", identity, err)
	}
	s.bus.Publish(ctx, events.ChannelFollowed{
		BaseEvent: events.NewBaseEvent(),
		Identity:  identity,
		LeadHint:  leadHint,
	})
	return nil
}

func (s *Service) HandleUnfollow(ctx context.Context, identity string) error {
	if err := s.reconciler.OnUnfollow(ctx, identity); err != nil {
		return fmt.Errorf("unfollow %s: %w", identity, err)
	}
	s.bus.Publish(ctx, events.ChannelUnfollowed{
		BaseEvent: events.NewBaseEvent(),
		Identity:  identity,
	})
	return nil
}

func (s *Service) HandleMessage(ctx context.Context, identity, text string) error {
	return s.reconciler.OnMessage(ctx, identity, text)
}

// SubmitDetails attaches the follow-up form and its photos to a lead, then
// publishes DetailsSubmitted for the back office. Upload and record failures are logged only.
func (s *Service) SubmitDetails(ctx context.Context, leadID string, details repository.Details, photos []Photo) (repository.Lead, error) {
	if len(photos) > MaxPhotos {
		return repository.Lead{}, apperr.Validation(fmt.Sprintf("at most %d photos can be uploaded", MaxPhotos))
	}
	for _, p := range photos {
		if err := storage.ValidatePhoto(p.ContentType, int64(len(p.Data)), s.maxPhoto); err != nil {
			return repository.Lead{}, apperr.Validation("invalid photo").WithDetails(fmt.Sprintf("%s: %v", p.FileName, err))
		}
	}

	if _, err := s.store.Get(ctx, leadID); err != nil {
		return repository.Lead{}, mapStoreError(err)
	}

	details = cleanDetails(details)
	details.Photos = s.uploadPhotos(ctx, leadID, photos)

	lead, err := s.store.AttachDetails(ctx, leadID, details)
	if err != nil {
		return repository.Lead{}, mapStoreError(err)
	}

	if err := s.bus.PublishSync(ctx, events.DetailsSubmitted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     leadID,
		PhotoCount: len(photos),
		Lead:       lead,
		Photos:     toAttachments(photos),
	}); err != nil {
		s.log.WithContext(ctx).Warn("details submitted handlers failed", "error", err)
	}
	return lead, nil
}

func (s *Service) uploadPhotos(ctx context.Context, leadID string, photos []Photo) []repository.PhotoRef {
	refs := make([]repository.PhotoRef, len(photos))
	for i, p := range photos {
		refs[i] = repository.PhotoRef{
			FileName:    p.FileName,
			ContentType: storage.NormalizeContentType(p.ContentType),
			Size:        int64(len(p.Data)),
			TakenAt:     storage.CaptureTime(p.Data),
		}
	}
	if s.photos == nil {
		return refs
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadParallel)
	for i, p := range photos {
		g.Go(func() error {
			key, err := s.photos.PutPhoto(gctx, leadID, p.FileName, refs[i].ContentType, p.Data)
			if err != nil {
				s.log.SideChannelFailure("photo_upload", leadID, err)
				return nil
			}
			refs[i].FileKey = key
			return nil
		})
	}
	_ = g.Wait()
	return refs
}

func cleanDetails(d repository.Details) repository.Details {
	return repository.Details{
		Name:             sanitize.Text(d.Name),
		Phone:            phone.NormalizeE164(sanitize.Text(d.Phone)),
		Email:            strings.ToLower(sanitize.Text(d.Email)),
		Address:          sanitize.Text(d.Address),
		PreferredContact: sanitize.Text(d.PreferredContact),
		Note:             sanitize.Text(d.Note),
	}
}

func toAttachments(photos []Photo) []email.Attachment {
	out := make([]email.Attachment, 0, len(photos))
	for _, p := range photos {
		out = append(out, email.Attachment{
			Content:  p.Data,
			FileName: p.FileName,
			MIMEType: storage.NormalizeContentType(p.ContentType),
		})
	}
	return out
}

func mapStoreError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgLeadNotFound)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, "lead storage failed", err)
}
