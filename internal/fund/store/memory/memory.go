package memory

import (
	"context"
	"sort"
	"sync"

	"sos/internal/fund/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
)

// InMemory keeps funds by id and hands out copies.
type InMemory struct {
	mu    sync.RWMutex
	funds map[domain.FundID]*models.Fund
}

func New() *InMemory {
	return &InMemory{funds: make(map[domain.FundID]*models.Fund)}
}

func (s *InMemory) Create(_ context.Context, f *models.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funds[f.ID]; ok {
		return sentinel.ErrConflict
	}
	s.funds[f.ID] = f.Clone()
	return nil
}

func (s *InMemory) Save(_ context.Context, f *models.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funds[f.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.funds[f.ID] = f.Clone()
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.FundID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funds[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.funds, id)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.FundID) (*models.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.funds[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return f.Clone(), nil
}

// List returns every fund in id order.
func (s *InMemory) List(_ context.Context) ([]*models.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.funds), nil
}
