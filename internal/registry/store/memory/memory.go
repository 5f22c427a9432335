package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/registry/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
)

// InMemory stores registry entries in a map.
type InMemory struct {
	mu      sync.RWMutex
	entries map[domain.Name]common.Address
}

func New() *InMemory {
	return &InMemory{entries: make(map[domain.Name]common.Address)}
}

func (s *InMemory) Find(_ context.Context, name domain.Name) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.entries[name]
	if !ok {
		return common.Address{}, sentinel.ErrNotFound
	}
	return addr, nil
}

// FindMany returns one address per name, zero where unmapped.
func (s *InMemory) FindMany(_ context.Context, names []domain.Name) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, len(names))
	for i, n := range names {
		out[i] = s.entries[n]
	}
	return out, nil
}

// Save upserts every entry under one lock.
func (s *InMemory) Save(_ context.Context, entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Name] = e.Address
	}
	return nil
}

// Delete removes names. Unmapped names are ignored.
func (s *InMemory) Delete(_ context.Context, names []domain.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		delete(s.entries, n)
	}
	return nil
}

// List returns all entries ordered by name.
func (s *InMemory) List(_ context.Context) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Entry, 0, len(s.entries))
	for n, a := range s.entries {
		out = append(out, models.Entry{Name: n, Address: a})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Name[:], out[j].Name[:]) < 0 })
	return out, nil
}
