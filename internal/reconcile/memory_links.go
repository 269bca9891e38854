package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLinkStore is the in-process LinkStore.
type MemoryLinkStore struct {
	mu                sync.Mutex
	links             map[string]string
	pendingByIdentity map[string]string
	pendingByLead     map[string]map[string]struct{}
	delivered         map[string]struct{}
	claims            map[string]time.Time
	now               func() time.Time
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{
		links:             make(map[string]string),
		pendingByIdentity: make(map[string]string),
		pendingByLead:     make(map[string]map[string]struct{}),
		delivered:         make(map[string]struct{}),
		claims:            make(map[string]time.Time),
		now:               time.Now,
	}
}

func pairKey(leadID, identity string) string { return leadID + ":" + identity }

func (s *MemoryLinkStore) SetLink(_ context.Context, identity, leadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.links[identity]
	s.links[identity] = leadID
	return prev, nil
}

func (s *MemoryLinkStore) GetLink(_ context.Context, identity string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[identity], nil
}

func (s *MemoryLinkStore) AddPending(_ context.Context, identity, leadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.pendingByIdentity[identity]
	if prev != "" && prev != leadID {
		s.dropFromLead(prev, identity)
	}
	s.pendingByIdentity[identity] = leadID
	set, ok := s.pendingByLead[leadID]
	if !ok {
		set = make(map[string]struct{})
		s.pendingByLead[leadID] = set
	}
	set[identity] = struct{}{}
	return prev, nil
}

func (s *MemoryLinkStore) RemovePending(_ context.Context, identity, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingByIdentity[identity] == leadID {
		delete(s.pendingByIdentity, identity)
	}
	s.dropFromLead(leadID, identity)
	return nil
}

func (s *MemoryLinkStore) dropFromLead(leadID, identity string) {
	set := s.pendingByLead[leadID]
	delete(set, identity)
	if len(set) == 0 {
		delete(s.pendingByLead, leadID)
	}
}

func (s *MemoryLinkStore) PendingLead(_ context.Context, identity string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingByIdentity[identity], nil
}

func (s *MemoryLinkStore) PendingForLead(_ context.Context, leadID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pendingByLead[leadID]))
	for identity := range s.pendingByLead[leadID] {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryLinkStore) MarkDelivered(_ context.Context, leadID, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[pairKey(leadID, identity)] = struct{}{}
	return nil
}

func (s *MemoryLinkStore) IsDelivered(_ context.Context, leadID, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.delivered[pairKey(leadID, identity)]
	return ok, nil
}

func (s *MemoryLinkStore) Claim(_ context.Context, leadID, identity string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(leadID, identity)
	now := s.now()
	if expires, held := s.claims[key]; held && now.Before(expires) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryLinkStore) Release(_ context.Context, leadID, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, pairKey(leadID, identity))
	return nil
}

var _ LinkStore = (*MemoryLinkStore)(nil)
