package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenStore is an in-memory stand-in for the resume-state store's
// SET-NX-PX / PTTL pair, letting acquire()'s own concurrency logic run
// against real contention without needing radix's wire protocol.
type fakeTokenStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{expires: make(map[string]time.Time)}
}

func (f *fakeTokenStore) setNX(ctx context.Context, key string, ttlMillis int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exp, held := f.expires[key]; held && time.Now().Before(exp) {
		return false, nil
	}
	f.expires[key] = time.Now().Add(time.Duration(ttlMillis) * time.Millisecond)
	return true, nil
}

func (f *fakeTokenStore) pttl(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, held := f.expires[key]
	if !held {
		return -2, nil
	}
	remaining := time.Until(exp)
	if remaining <= 0 {
		delete(f.expires, key)
		return -2, nil
	}
	return remaining.Milliseconds(), nil
}

func TestIdentifyLimiter_Key_PublicBucketsByModulo(t *testing.T) {
	l := newIdentifyLimiter(nil, 4, 0, false, nil)
	assert.Equal(t, l.key(0), l.key(4))
	assert.Equal(t, l.key(1), l.key(5))
	assert.NotEqual(t, l.key(0), l.key(1))
}

func TestIdentifyLimiter_Key_WhitelabelIgnoresShardID(t *testing.T) {
	l := newIdentifyLimiter(nil, 1, 999, true, nil)
	assert.Equal(t, l.key(0), l.key(7))
	assert.Contains(t, l.key(0), "999")
}

func TestIdentifyLimiter_Key_ZeroBucketsTreatedAsOne(t *testing.T) {
	l := newIdentifyLimiter(nil, 0, 0, false, nil)
	assert.Equal(t, l.key(0), l.key(3))
}

// TestIdentifyLimiter_Acquire_AdmitsOneAtATime fires many concurrent
// acquire() calls at the same shard key with a deadline far shorter than
// the token's TTL: the one caller that wins the SET NX returns immediately,
// and every other caller is still blocked on the held token's PTTL when its
// context expires. Admitting a second concurrent holder would show up here
// as more than one success.
func TestIdentifyLimiter_Acquire_AdmitsOneAtATime(t *testing.T) {
	l := &identifyLimiter{store: newFakeTokenStore(), largeShardingBuckets: 1}

	const n = 8
	var successes int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			if err := l.acquire(ctx, 0); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes, "exactly one caller should hold the identify token at a time")
}

// TestIdentifyLimiter_Acquire_AdmitsNextHolderAfterWindowExpires confirms
// the limiter isn't simply refusing everyone: once the held token's TTL
// elapses, a new caller is admitted.
func TestIdentifyLimiter_Acquire_AdmitsNextHolderAfterWindowExpires(t *testing.T) {
	store := newFakeTokenStore()
	l := &identifyLimiter{store: store, largeShardingBuckets: 1}

	require.NoError(t, l.acquire(context.Background(), 0))

	store.mu.Lock()
	store.expires[l.key(0)] = time.Now().Add(-time.Millisecond)
	store.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.acquire(ctx, 0))
}
