// Package cache caches access-check decisions in front of the delegation
// engine. Allows and denials carry asymmetric TTLs: a stale allow extends
// authority that may have been revoked, so it lives much shorter than the
// cost of re-checking justifies for denials.
package cache

import (
	"context"
	"sync"
	"time"

	"delego/internal/delegation"
	"delego/pkg/domain"
)

// Default TTLs. A denial is cheap to be wrong about (the agent just gets
// denied again); an allow is not.
const (
	DefaultAllowTTL = 60 * time.Second
	DefaultDenyTTL  = 10 * time.Second
)

// Key identifies one cached decision. All four dimensions participate:
// the same agent on the same task gets separate entries per resource and
// access level.
type Key struct {
	Agent    domain.AgentID
	Task     domain.TaskID
	Resource domain.ResourceID
	Access   domain.AccessLevel
}

// Store holds decisions keyed by (epoch, Key). The epoch is a per-task
// invalidation counter: bumping it orphans every entry written under the
// old epoch, including entries written by checks that were in flight when
// the bump happened. Orphaned entries age out on their own TTL.
type Store interface {
	Get(ctx context.Context, epoch uint64, key Key) (*delegation.Decision, error)
	Set(ctx context.Context, epoch uint64, key Key, decision delegation.Decision, ttl time.Duration) error
	Epoch(ctx context.Context, taskID domain.TaskID) (uint64, error)
	BumpEpoch(ctx context.Context, taskID domain.TaskID) error
}

type memoryEntry struct {
	decision  delegation.Decision
	expiresAt time.Time
}

type memoryKey struct {
	epoch uint64
	key   Key
}

// MemoryStore is an in-process decision store. Expired and orphaned
// entries are purged lazily on read and swept opportunistically on write.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memoryKey]memoryEntry
	epochs  map[domain.TaskID]uint64
	clock   func() time.Time

	writes int
}

// sweepEvery bounds how much garbage accumulates between opportunistic
// sweeps.
const sweepEvery = 512

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[memoryKey]memoryEntry),
		epochs:  make(map[domain.TaskID]uint64),
		clock:   time.Now,
	}
}

// WithClock sets the time source for testability.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Get(_ context.Context, epoch uint64, key Key) (*delegation.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := memoryKey{epoch: epoch, key: key}
	entry, ok := s.entries[mk]
	if !ok {
		return nil, nil
	}
	if s.clock().After(entry.expiresAt) {
		delete(s.entries, mk)
		return nil, nil
	}
	decision := entry.decision
	return &decision, nil
}

func (s *MemoryStore) Set(_ context.Context, epoch uint64, key Key, decision delegation.Decision, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memoryKey{epoch: epoch, key: key}] = memoryEntry{
		decision:  decision,
		expiresAt: s.clock().Add(ttl),
	}
	s.writes++
	if s.writes >= sweepEvery {
		s.writes = 0
		s.sweepLocked()
	}
	return nil
}

func (s *MemoryStore) Epoch(_ context.Context, taskID domain.TaskID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[taskID], nil
}

// BumpEpoch orphans every cached decision for the task and frees the
// entries that are still reachable by scan.
func (s *MemoryStore) BumpEpoch(_ context.Context, taskID domain.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[taskID]++
	for mk := range s.entries {
		if mk.key.Task == taskID {
			delete(s.entries, mk)
		}
	}
	return nil
}

// Len reports live entries, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked() {
	now := s.clock()
	for mk, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, mk)
		}
	}
}
