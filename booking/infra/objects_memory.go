package infra

import (
	"context"
	"sync"

	"bus-booking/booking/domain"
)

type MemoryObjectStore struct {
	mu   sync.Mutex
	objs map[string]domain.Object
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objs: make(map[string]domain.Object)}
}

func (s *MemoryObjectStore) Put(_ context.Context, obj domain.Object) error {
	obj.Body = append([]byte(nil), obj.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[obj.Key] = obj
	return nil
}

func (s *MemoryObjectStore) Get(key string) (domain.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objs[key]
	return obj, ok
}
