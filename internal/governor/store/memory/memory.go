package memory

import (
	"context"
	"sync"

	"sos/internal/governor/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
)

// InMemory keeps requests in id order. Ids are dense, so a slice is enough.
type InMemory struct {
	mu       sync.RWMutex
	requests []*models.Request
}

func New() *InMemory {
	return &InMemory{}
}

// Create appends r. Its id must be the next free one.
func (s *InMemory) Create(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(r.ID) != len(s.requests) {
		return sentinel.ErrConflict
	}
	s.requests = append(s.requests, r.Clone())
	return nil
}

func (s *InMemory) Save(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(r.ID) >= len(s.requests) {
		return sentinel.ErrNotFound
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

// Delete drops the newest request. Older ids stay dense, so removing one of
// them is a conflict.
func (s *InMemory) Delete(_ context.Context, id domain.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case int(id) >= len(s.requests):
		return sentinel.ErrNotFound
	case int(id) != len(s.requests)-1:
		return sentinel.ErrConflict
	}
	s.requests = s.requests[:id]
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.requests) {
		return nil, sentinel.ErrNotFound
	}
	return s.requests[id].Clone(), nil
}

// List returns requests in id order, optionally only those of one fund.
func (s *InMemory) List(_ context.Context, fund *domain.FundID) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Request, 0, len(s.requests))
	for _, r := range s.requests {
		if fund != nil && r.FundID != *fund {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests), nil
}
