package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by deployments without
// a Redis endpoint configured. Batches apply under a single mutex hold, which
// gives them the same all-or-nothing visibility as a Redis transaction.
type MemoryStore struct {
	mu        sync.Mutex
	values    map[string]string
	zsets     map[string]map[string]float64
	expiries  map[string]time.Time
	clock     func() time.Time
	available bool
}

// NewMemoryStore returns an empty, available store.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		values:    make(map[string]string),
		zsets:     make(map[string]map[string]float64),
		expiries:  make(map[string]time.Time),
		clock:     clock,
		available: true,
	}
}

// SetAvailable toggles the simulated backend availability.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

func (s *MemoryStore) Available(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return "", false, ErrUnavailable
	}
	s.evictExpiredLocked(key)
	value, found := s.values[key]
	return value, found, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return ErrUnavailable
	}
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) MGet(_ context.Context, keys ...string) ([]*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, ErrUnavailable
	}
	values := make([]*string, len(keys))
	for index, key := range keys {
		s.evictExpiredLocked(key)
		if value, found := s.values[key]; found {
			copied := value
			values[index] = &copied
		}
	}
	return values, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return ErrUnavailable
	}
	s.zaddLocked(key, score, member)
	return nil
}

func (s *MemoryStore) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, ErrUnavailable
	}
	s.evictExpiredLocked(key)
	members := make([]ScoredMember, 0, len(s.zsets[key]))
	for member, score := range s.zsets[key] {
		members = append(members, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member > members[j].Member
	})
	if start < 0 {
		start = 0
	}
	if start >= int64(len(members)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	return members[start : stop+1], nil
}

func (s *MemoryStore) Batch() Batch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	s.values[key] = value
	if ttl > 0 {
		s.expiries[key] = s.clock().Add(ttl)
	} else {
		delete(s.expiries, key)
	}
}

func (s *MemoryStore) zaddLocked(key string, score float64, member string) {
	set, found := s.zsets[key]
	if !found {
		set = make(map[string]float64)
		s.zsets[key] = set
	}
	set[member] = score
}

func (s *MemoryStore) evictExpiredLocked(key string) {
	deadline, found := s.expiries[key]
	if !found || s.clock().Before(deadline) {
		return
	}
	delete(s.values, key)
	delete(s.zsets, key)
	delete(s.expiries, key)
}

type memoryBatch struct {
	store *MemoryStore
	ops   []func()
}

func (b *memoryBatch) Set(key, value string) {
	b.ops = append(b.ops, func() {
		ttl := time.Duration(0)
		if deadline, found := b.store.expiries[key]; found {
			ttl = deadline.Sub(b.store.clock())
		}
		b.store.setLocked(key, value, ttl)
	})
}

func (b *memoryBatch) SetWithTTL(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func() { b.store.setLocked(key, value, ttl) })
}

func (b *memoryBatch) ZAdd(key string, score float64, member string) {
	b.ops = append(b.ops, func() { b.store.zaddLocked(key, score, member) })
}

func (b *memoryBatch) Incr(key string) {
	b.ops = append(b.ops, func() {
		current, _ := strconv.ParseInt(b.store.values[key], 10, 64)
		b.store.values[key] = strconv.FormatInt(current+1, 10)
	})
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func() {
		_, hasValue := b.store.values[key]
		_, hasSet := b.store.zsets[key]
		if hasValue || hasSet {
			b.store.expiries[key] = b.store.clock().Add(ttl)
		}
	})
}

func (b *memoryBatch) Exec(_ context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if !b.store.available {
		return ErrUnavailable
	}
	for _, op := range b.ops {
		op()
	}
	b.ops = nil
	return nil
}
