package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-process Guard for single-instance deployments and
// tests. It provides the same at-most-one semantics but not cross-process
// exclusion; production deployments with multiple instances need the
// redis guard.
type MemoryGuard struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	result    *Result
	expiresAt time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{records: make(map[string]*memoryRecord)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (*Acquisition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[key]
	if ok && time.Now().After(record.expiresAt) {
		delete(g.records, key)
		ok = false
	}
	if !ok {
		g.records[key] = &memoryRecord{expiresAt: time.Now().Add(ttl)}
		return &Acquisition{State: StateAcquired}, nil
	}
	if record.result == nil {
		return &Acquisition{State: StateInProgress}, nil
	}
	return &Acquisition{State: StateCompleted, Result: record.result}, nil
}

func (g *MemoryGuard) Complete(_ context.Context, key string, result Result, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records[key] = &memoryRecord{
		result:    &result,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (g *MemoryGuard) ReleaseFailed(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.records, key)
	return nil
}
