package repository

import (
	"context"
	"sync"
	"time"

	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"

	"github.com/google/uuid"
)

// MemoryStore keeps leads in a mutex-guarded map. Returned leads are copies.
type MemoryStore struct {
	mu    sync.RWMutex
	leads map[string]Lead
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[string]Lead), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, answers questionflow.AnswerSet, estimate *pricing.Estimate) (Lead, error) {
	now := s.now().UTC()
	lead := Lead{
		ID:        uuid.NewString(),
		Answers:   answers.Clone(),
		CreatedAt: now,
	}
	if estimate != nil {
		est := estimate.Clone()
		lead.Estimate = &est
		lead.EstimatedAt = &now
	}

	s.mu.Lock()
	s.leads[lead.ID] = lead
	s.mu.Unlock()
	return copyLead(lead), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return copyLead(lead), nil
}

func (s *MemoryStore) AttachEstimate(_ context.Context, id string, estimate pricing.Estimate) (Lead, error) {
	estimate = estimate.Clone()
	return s.update(id, func(l *Lead, now time.Time) {
		l.Estimate = &estimate
		l.EstimatedAt = &now
	})
}

func (s *MemoryStore) AttachIdentity(_ context.Context, id string, identity string) (Lead, error) {
	return s.update(id, func(l *Lead, now time.Time) {
		l.Identity = identity
		l.LinkedAt = &now
	})
}

func (s *MemoryStore) AttachDetails(_ context.Context, id string, details Details) (Lead, error) {
	return s.update(id, func(l *Lead, now time.Time) {
		var current Details
		if l.Details != nil {
			current = *l.Details
		}
		merged := current.merge(details)
		l.Details = &merged
		l.DetailsAt = &now
	})
}

func (s *MemoryStore) update(id string, mutate func(*Lead, time.Time)) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	mutate(&lead, s.now().UTC())
	s.leads[id] = lead
	return copyLead(lead), nil
}

func copyLead(l Lead) Lead {
	l.Answers = l.Answers.Clone()
	if l.Estimate != nil {
		est := l.Estimate.Clone()
		l.Estimate = &est
	}
	if l.Details != nil {
		d := *l.Details
		d.Photos = append([]PhotoRef(nil), d.Photos...)
		l.Details = &d
	}
	return l
}

var _ LeadStore = (*MemoryStore)(nil)
