package gateway

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mediocregopher/radix/v4"
)

// resumeStateStore is the resume-state key/value client. It is kept
// deliberately small and opaque: GET/SET/DEL/PTTL under TTL, scoped by
// shard identity. Both the identify rate limiter and the shard
// supervisor share the same pooled client.
type resumeStateStore struct {
	client     radix.Client
	botID      uint64
	whitelabel bool
}

func newResumeStateStore(client radix.Client, botID uint64, whitelabel bool) *resumeStateStore {
	return &resumeStateStore{client: client, botID: botID, whitelabel: whitelabel}
}

// resumeKey and seqKey compute the store key layout. They return a plain
// string rather than an optional form; every call site already handles an
// empty lookup result on its own, so there is nothing for an optional
// return to add here.
func (s *resumeStateStore) resumeKey(shardID, numShards int) string {
	if s.whitelabel {
		return fmt.Sprintf("tickets:resume:%d:%d", s.botID, shardID)
	}
	return fmt.Sprintf("tickets:resume:public:%d-%d", shardID, numShards)
}

func (s *resumeStateStore) seqKey(shardID, numShards int) string {
	if s.whitelabel {
		return fmt.Sprintf("tickets:seq:%d:%d", s.botID, shardID)
	}
	return fmt.Sprintf("tickets:seq:public:%d-%d", shardID, numShards)
}

func (s *resumeStateStore) saveSessionID(ctx context.Context, shardID, numShards int, sessionID string) error {
	key := s.resumeKey(shardID, numShards)
	var resp string
	err := s.client.Do(ctx, radix.Cmd(&resp, "SET", key, sessionID, "EX", "120"))
	return wrapStore(err)
}

func (s *resumeStateStore) loadSessionID(ctx context.Context, shardID, numShards int) (string, bool, error) {
	key := s.resumeKey(shardID, numShards)
	mn := radix.MaybeNil{Rcv: new(string)}
	if err := s.client.Do(ctx, radix.Cmd(&mn, "GET", key)); err != nil {
		return "", false, wrapStore(err)
	}
	if mn.Null {
		return "", false, nil
	}
	return *mn.Rcv.(*string), true, nil
}

func (s *resumeStateStore) deleteSessionID(ctx context.Context, shardID, numShards int) error {
	key := s.resumeKey(shardID, numShards)
	var resp int
	err := s.client.Do(ctx, radix.Cmd(&resp, "DEL", key))
	return wrapStore(err)
}

func (s *resumeStateStore) saveSeq(ctx context.Context, shardID, numShards int, seq int64) error {
	key := s.seqKey(shardID, numShards)
	var resp string
	err := s.client.Do(ctx, radix.Cmd(&resp, "SET", key, strconv.FormatInt(seq, 10), "EX", "120"))
	return wrapStore(err)
}

func (s *resumeStateStore) loadSeq(ctx context.Context, shardID, numShards int) (int64, bool, error) {
	key := s.seqKey(shardID, numShards)
	mn := radix.MaybeNil{Rcv: new(string)}
	if err := s.client.Do(ctx, radix.Cmd(&mn, "GET", key)); err != nil {
		return 0, false, wrapStore(err)
	}
	if mn.Null {
		return 0, false, nil
	}
	seq, parseErr := strconv.ParseInt(*mn.Rcv.(*string), 10, 64)
	if parseErr != nil {
		// A parse failure maps to "not found" rather than an error.
		return 0, false, nil
	}
	return seq, true, nil
}

func (s *resumeStateStore) deleteSeq(ctx context.Context, shardID, numShards int) error {
	key := s.seqKey(shardID, numShards)
	var resp int
	err := s.client.Do(ctx, radix.Cmd(&resp, "DEL", key))
	return wrapStore(err)
}
