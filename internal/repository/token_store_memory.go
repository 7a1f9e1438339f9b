package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/observability"
)

// MemoryTokenStore keeps hashes and sets in process. Expiry is tracked per key
// and enforced lazily on access; RunJanitor adds an optional eager sweep.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	expiry map[string]time.Time
	now    func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return NewMemoryTokenStoreWithClock(time.Now)
}

func NewMemoryTokenStoreWithClock(now func() time.Time) *MemoryTokenStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		expiry: make(map[string]time.Time),
		now:    now,
	}
}

func (s *MemoryTokenStore) PutFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpiredLocked(key)
	h := s.hashLocked(key)
	for k, v := range fields {
		h[k] = v
	}
	observability.RecordTokenStoreOperation(ctx, "memory", "put_fields", "success")
	return nil
}

func (s *MemoryTokenStore) PutField(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpiredLocked(key)
	s.hashLocked(key)[field] = value
	observability.RecordTokenStoreOperation(ctx, "memory", "put_field", "success")
	return nil
}

func (s *MemoryTokenStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	if s.expired(key) {
		s.mu.Lock()
		s.purgeIfExpiredLocked(key)
		s.mu.Unlock()
		observability.RecordTokenStoreOperation(ctx, "memory", "get_fields", "miss")
		return map[string]string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[key]
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	if !ok {
		observability.RecordTokenStoreOperation(ctx, "memory", "get_fields", "miss")
	} else {
		observability.RecordTokenStoreOperation(ctx, "memory", "get_fields", "hit")
	}
	return out, nil
}

func (s *MemoryTokenStore) CompareAndSetField(ctx context.Context, key, field, expected, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpiredLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		observability.RecordTokenStoreOperation(ctx, "memory", "compare_and_set", "miss")
		return false, nil
	}
	current, ok := h[field]
	if !ok || current != expected {
		observability.RecordTokenStoreOperation(ctx, "memory", "compare_and_set", "conflict")
		return false, nil
	}
	h[field] = value
	observability.RecordTokenStoreOperation(ctx, "memory", "compare_and_set", "success")
	return true, nil
}

func (s *MemoryTokenStore) AddToSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpiredLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	observability.RecordTokenStoreOperation(ctx, "memory", "add_to_set", "success")
	return nil
}

func (s *MemoryTokenStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s.expired(key) {
		s.mu.Lock()
		s.purgeIfExpiredLocked(key)
		s.mu.Unlock()
		return []string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	observability.RecordTokenStoreOperation(ctx, "memory", "set_members", "success")
	return out, nil
}

func (s *MemoryTokenStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpiredLocked(key)
	if !s.existsLocked(key) {
		return nil
	}
	if ttl <= 0 {
		s.deleteLocked(key)
		return nil
	}
	s.expiry[key] = s.now().Add(ttl)
	observability.RecordTokenStoreOperation(ctx, "memory", "expire", "success")
	return nil
}

func (s *MemoryTokenStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	observability.RecordTokenStoreOperation(ctx, "memory", "delete", "success")
	return nil
}

func (s *MemoryTokenStore) Ping(context.Context) error {
	return nil
}

// TTL returns the remaining lifetime of key, or zero when the key is absent or
// has no expiry.
func (s *MemoryTokenStore) TTL(key string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.expiry[key]
	if !ok {
		return 0
	}
	if d := exp.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// Sweep drops every expired key and returns how many were removed.
func (s *MemoryTokenStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, exp := range s.expiry {
		if !now.Before(exp) {
			s.deleteLocked(key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired keys every interval until ctx is done.
func (s *MemoryTokenStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryTokenStore) expired(key string) bool {
	s.mu.RLock()
	exp, ok := s.expiry[key]
	s.mu.RUnlock()
	return ok && !s.now().Before(exp)
}

func (s *MemoryTokenStore) purgeIfExpiredLocked(key string) {
	if exp, ok := s.expiry[key]; ok && !s.now().Before(exp) {
		s.deleteLocked(key)
	}
}

func (s *MemoryTokenStore) hashLocked(key string) map[string]string {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	return h
}

func (s *MemoryTokenStore) existsLocked(key string) bool {
	if _, ok := s.hashes[key]; ok {
		return true
	}
	_, ok := s.sets[key]
	return ok
}

func (s *MemoryTokenStore) deleteLocked(key string) {
	delete(s.hashes, key)
	delete(s.sets, key)
	delete(s.expiry, key)
}
