// ABOUTME: Idempotency-key deduplication for retried mutation requests
// ABOUTME: Deduper interface plus a process-local TTL implementation with LRU eviction

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper records idempotency keys per scope (the caller's user id).
type Deduper interface {
	// Add records key and reports whether it was new. A false result means
	// the same scope already used the key inside the TTL window.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove forgets a key so a failed request can be retried.
	Remove(ctx context.Context, scope, key string) error
}

type memoryEntry struct {
	expires time.Time
	element *list.Element
}

// Memory is a thread-safe, TTL-based, size-limited Deduper for a single
// process. Keys are kept in insertion order so the oldest is evicted in O(1)
// once maxEntries is reached.
type Memory struct {
	mu         sync.Mutex
	seen       map[string]*memoryEntry
	order      *list.List // keys, oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// NewMemory creates a Memory deduper. A background goroutine drops expired
// keys every sweep interval until Close is called.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	m := &Memory{
		seen:       make(map[string]*memoryEntry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go m.sweepLoop(time.Minute)
	return m
}

func scopedKey(scope, key string) string {
	return scope + ":" + key
}

// Add implements Deduper. Check and mark happen under one lock so two
// concurrent requests with the same key cannot both succeed.
func (m *Memory) Add(_ context.Context, scope, key string) (bool, error) {
	k := scopedKey(scope, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.seen[k]; ok {
		if now.Before(entry.expires) {
			return false, nil
		}
		m.order.Remove(entry.element)
		delete(m.seen, k)
	}

	if len(m.seen) >= m.maxEntries {
		m.evictOldest()
	}

	m.seen[k] = &memoryEntry{
		expires: now.Add(m.ttl),
		element: m.order.PushBack(k),
	}
	return true, nil
}

// Remove implements Deduper.
func (m *Memory) Remove(_ context.Context, scope, key string) error {
	k := scopedKey(scope, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.seen[k]; ok {
		m.order.Remove(entry.element)
		delete(m.seen, k)
	}
	return nil
}

// Len returns the number of tracked keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.seen, key)
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep drops every expired key.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.seen {
		if !now.Before(entry.expires) {
			m.order.Remove(entry.element)
			delete(m.seen, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
}

// Compile-time check that Memory implements Deduper
var _ Deduper = (*Memory)(nil)
