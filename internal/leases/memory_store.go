package leases

import (
	"context"
	"sync"
	"time"
)

// MemoryStore only coordinates runs within one process. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]Lease
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:    now,
		leases: make(map[string]Lease),
	}
}

func (s *MemoryStore) TryAcquire(_ context.Context, name, holder string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(name, holder, ttl); err != nil {
		return Lease{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	l, ok := s.leases[name]
	if ok && l.Holder != holder && l.ExpiresAt.After(now) {
		return l, false, nil
	}
	out := Lease{Name: name, Holder: holder, ExpiresAt: now.Add(ttl)}
	s.leases[name] = out
	return out, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, name, holder string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(name, holder, ttl); err != nil {
		return Lease{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok {
		return Lease{}, false, ErrNotFound
	}
	if l.Holder != holder {
		return Lease{}, false, ErrNotHolder
	}
	// An expired lease nobody took over is still ours.
	out := Lease{Name: name, Holder: holder, ExpiresAt: s.now().Add(ttl)}
	s.leases[name] = out
	return out, true, nil
}

func (s *MemoryStore) Release(_ context.Context, name, holder string) error {
	if name == "" || holder == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok {
		return nil
	}
	if l.Holder != holder {
		return ErrNotHolder
	}
	delete(s.leases, name)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (Lease, error) {
	if name == "" {
		return Lease{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok {
		return Lease{}, ErrNotFound
	}
	return l, nil
}
