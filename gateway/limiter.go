package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mediocregopher/radix/v4"
)

// tokenStore is the narrow slice of the resume-state store acquire() needs:
// a set-if-absent with expiry, and a remaining-TTL check. Splitting it out
// from radix.Client lets tests exercise acquire()'s actual admit-one-per-
// window concurrency behavior against an in-memory fake instead of needing
// to reproduce radix's wire protocol.
type tokenStore interface {
	setNX(ctx context.Context, key string, ttlMillis int64) (acquired bool, err error)
	pttl(ctx context.Context, key string) (int64, error)
}

type radixTokenStore struct {
	client radix.Client
}

func (r *radixTokenStore) setNX(ctx context.Context, key string, ttlMillis int64) (bool, error) {
	var resp string
	mn := radix.MaybeNil{Rcv: &resp}
	err := r.client.Do(ctx, radix.Cmd(&mn, "SET", key, "1", "NX", "PX", strconv.FormatInt(ttlMillis, 10)))
	if err != nil {
		return false, err
	}
	return !mn.Null, nil
}

func (r *radixTokenStore) pttl(ctx context.Context, key string) (int64, error) {
	var ttl int64
	if err := r.client.Do(ctx, radix.Cmd(&ttl, "PTTL", key)); err != nil {
		return 0, err
	}
	return ttl, nil
}

// identifyLimiter is a cluster-wide token bucket built on a single TTL key
// in the resume-state store, so multiple shard processes share one
// identify rate limit without an extra service.
type identifyLimiter struct {
	store                tokenStore
	largeShardingBuckets uint16
	botID                uint64
	whitelabel           bool
	stats                *Stats
}

func newIdentifyLimiter(client radix.Client, largeShardingBuckets uint16, botID uint64, whitelabel bool, stats *Stats) *identifyLimiter {
	return &identifyLimiter{
		store:                &radixTokenStore{client: client},
		largeShardingBuckets: largeShardingBuckets,
		botID:                botID,
		whitelabel:           whitelabel,
		stats:                stats,
	}
}

func (l *identifyLimiter) key(shardID int) string {
	if l.whitelabel {
		return fmt.Sprintf("ratelimiter:whitelabel:identify:%d", l.botID)
	}
	bucket := l.largeShardingBuckets
	if bucket == 0 {
		bucket = 1
	}
	return fmt.Sprintf("ratelimiter:public:identify:%d", shardID%int(bucket))
}

// acquire blocks until this caller holds the identify token. It only
// returns an error on a transport failure of the underlying store.
func (l *identifyLimiter) acquire(ctx context.Context, shardID int) error {
	key := l.key(shardID)
	start := time.Now()
	defer func() {
		if l.stats != nil {
			l.stats.IdentifyWaitTime.WithLabelValues(key).Observe(time.Since(start).Seconds())
		}
	}()

	for {
		acquired, err := l.store.setNX(ctx, key, 6000)
		if err != nil {
			return wrapStore(err)
		}
		if acquired {
			return nil
		}

		ttl, err := l.store.pttl(ctx, key)
		if err != nil {
			return wrapStore(err)
		}

		// -1 = no expiry, -2 = key doesn't exist: safe to retry immediately.
		if ttl > 0 {
			select {
			case <-time.After(time.Duration(ttl) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
