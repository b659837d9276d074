// ABOUTME: Tests for the in-memory and Redis dedupers
// ABOUTME: Validates TTL expiry, scoping, release on failure, eviction and concurrency

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, ttl time.Duration, max int) (*Memory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(ttl, max)
	m.now = clock.Now
	t.Cleanup(m.Close)
	return m, clock
}

// runDeduperContract exercises behaviour both implementations share.
func runDeduperContract(t *testing.T, d Deduper) {
	ctx := t.Context()

	added, err := d.Add(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.True(t, added, "first use is new")

	added, err = d.Add(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.False(t, added, "repeat is a duplicate")

	added, err = d.Add(ctx, "user-2", "key-a")
	require.NoError(t, err)
	assert.True(t, added, "keys are scoped per user")

	require.NoError(t, d.Remove(ctx, "user-1", "key-a"))
	added, err = d.Add(ctx, "user-1", "key-a")
	require.NoError(t, err)
	assert.True(t, added, "released key can be used again")

	require.NoError(t, d.Remove(ctx, "user-9", "never-added"))
}

func TestMemory_Contract(t *testing.T) {
	m, _ := newTestMemory(t, time.Minute, 100)
	runDeduperContract(t, m)
}

func TestMemory_Expiry(t *testing.T) {
	m, clock := newTestMemory(t, time.Minute, 100)
	ctx := t.Context()

	added, _ := m.Add(ctx, "u", "k")
	require.True(t, added)

	clock.Advance(59 * time.Second)
	added, _ = m.Add(ctx, "u", "k")
	assert.False(t, added)

	clock.Advance(2 * time.Second)
	added, _ = m.Add(ctx, "u", "k")
	assert.True(t, added, "expired key is new again")
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(t, time.Minute, 100)
	ctx := t.Context()

	_, _ = m.Add(ctx, "u", "old")
	clock.Advance(30 * time.Second)
	_, _ = m.Add(ctx, "u", "new")
	clock.Advance(45 * time.Second)

	m.sweep()
	assert.Equal(t, 1, m.Len())
}

func TestMemory_EvictsOldest(t *testing.T) {
	m, _ := newTestMemory(t, time.Hour, 2)
	ctx := t.Context()

	_, _ = m.Add(ctx, "u", "1")
	_, _ = m.Add(ctx, "u", "2")
	_, _ = m.Add(ctx, "u", "3")

	assert.Equal(t, 2, m.Len())
	added, _ := m.Add(ctx, "u", "1")
	assert.True(t, added, "oldest key was evicted")
}

func TestMemory_ConcurrentAddIsAtomic(t *testing.T) {
	m, _ := newTestMemory(t, time.Hour, 100)
	ctx := t.Context()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Add(ctx, "u", "same"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemory_CloseIsIdempotent(t *testing.T) {
	m := NewMemory(time.Minute, 10)
	m.Close()
	assert.NotPanics(t, m.Close)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return mr, client
}

func TestRedis_Contract(t *testing.T) {
	_, client := newTestRedis(t)
	runDeduperContract(t, NewRedis(client, time.Minute))
}

func TestRedis_KeyNamespacingAndTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	d := NewRedis(client, time.Minute)

	added, err := d.Add(t.Context(), "user-1", "abc")
	require.NoError(t, err)
	require.True(t, added)

	assert.True(t, mr.Exists("taskboard:idem:user-1:abc"))
	assert.Equal(t, time.Minute, mr.TTL("taskboard:idem:user-1:abc"))

	mr.FastForward(2 * time.Minute)
	added, err = d.Add(t.Context(), "user-1", "abc")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRedis_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	d := NewRedis(client, time.Minute)
	mr.Close()

	_, err := d.Add(t.Context(), "u", "k")
	assert.Error(t, err)
}
