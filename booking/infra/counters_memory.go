package infra

import (
	"context"
	"sync"

	"bus-booking/booking/domain"
)

// MemoryCounterStore é uma implementação simples em memória.
// Útil para testes e para o modo `serve` (gateway e processor no mesmo processo).
type MemoryCounterStore struct {
	mu sync.Mutex
	c  domain.Counters
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{}
}

func (s *MemoryCounterStore) Increment(_ context.Context, delta domain.Counters) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = s.c.Add(delta)
	return nil
}

func (s *MemoryCounterStore) Read(context.Context) (domain.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c, nil
}
