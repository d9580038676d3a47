package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mediocregopher/radix/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardrelay/gateway/internal/cache"
)

// fakeRadixClient discards every command; the resume-state tests below only
// exercise in-memory shard state, not persistence itself.
type fakeRadixClient struct{}

func (fakeRadixClient) Do(ctx context.Context, a radix.Action) error { return nil }

func newTestShard() *Shard {
	cfg := &Config{
		GatewayURL:   "wss://example.test/",
		WorkerSvcURI: "http://example.test/",
		StickyCookie: "AFFINITY",
		ShardInfo:    ShardInfo{ShardID: 0, NumShards: 1},
	}
	return NewShard(cfg, fakeRadixClient{}, cache.NewMemory(), NewHTTPEventForwarder(), nil, nil, nil)
}

func TestShard_KillIsIdempotent(t *testing.T) {
	s := newTestShard()
	assert.NotPanics(t, func() {
		s.Kill()
		s.Kill()
		s.Kill()
	})
	select {
	case <-s.getKillCh():
	default:
		t.Fatal("kill channel was not closed")
	}
}

func TestShard_SeqMonotonicityTrackedAcrossFrames(t *testing.T) {
	s := newTestShard()
	s.setSeq(1)
	s.setSeq(2)
	s.setSeq(5)
	require.NotNil(t, s.getSeq())
	assert.EqualValues(t, 5, *s.getSeq())
}

func TestShard_ClearSeqResetsToNil(t *testing.T) {
	s := newTestShard()
	s.setSeq(10)
	s.clearSeq()
	assert.Nil(t, s.getSeq())
}

func TestShard_ReadinessFiresOnlyOnce(t *testing.T) {
	s := newTestShard()
	notify := s.Ready()

	s.markReadyAndNotify()
	select {
	case <-notify:
	default:
		t.Fatal("ready channel should be closed after markReadyAndNotify")
	}

	assert.NotPanics(t, func() {
		s.markReadyAndNotify()
		s.markReadyAndNotify()
	})
}

func TestShard_ResetSessionCountersGivesFreshKillChannel(t *testing.T) {
	s := newTestShard()
	s.Kill()

	select {
	case <-s.getKillCh():
	default:
		t.Fatal("kill channel should have closed before reset")
	}

	s.resetSessionCounters()

	select {
	case <-s.getKillCh():
		t.Fatal("fresh kill channel must not already be closed")
	default:
	}

	assert.NotPanics(t, func() {
		s.Kill()
	})
}

func TestShard_ResetSessionCountersGivesFreshReadyChannel(t *testing.T) {
	s := newTestShard()
	first := s.Ready()
	s.markReadyAndNotify()

	select {
	case <-first:
	default:
		t.Fatal("first ready channel should have closed before reset")
	}

	s.resetSessionCounters()
	second := s.Ready()

	assert.False(t, s.isReady())
	select {
	case <-second:
		t.Fatal("fresh ready channel must not already be closed")
	default:
	}
}

func TestShard_InvalidSessionClearsStateAndKillsOnce(t *testing.T) {
	s := newTestShard()
	s.setSessionID("abc")
	s.setSeq(9)

	env := &envelope{Op: OpInvalidSession}
	err := s.processPayload(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, "", s.getSessionID())
	assert.Nil(t, s.getSeq())

	select {
	case <-s.getKillCh():
	default:
		t.Fatal("invalid session should have killed the shard")
	}

	assert.NotPanics(t, func() {
		_ = s.processPayload(context.Background(), env)
	})
}

func TestShard_HeartbeatAckObservesPingRTT(t *testing.T) {
	s := newTestShard()
	s.stats = NewStats()
	s.setLastHeartbeat(time.Now().Add(-42 * time.Millisecond))

	env := &envelope{Op: OpHeartbeatAck}
	require.NoError(t, s.processPayload(context.Background(), env))

	assert.EqualValues(t, 1, testutil.CollectAndCount(s.stats.Ping))
}

func TestShard_UnknownDispatchEventIgnored(t *testing.T) {
	s := newTestShard()
	assert.NotPanics(t, func() {
		s.handleDispatchEvent(context.Background(), "SOME_FUTURE_EVENT_TYPE", []byte(`{}`))
	})
}

func TestShard_MeetsForwardThreshold_GatesGuildCreateWhenConfigured(t *testing.T) {
	s := newTestShard()
	s.cfg.Features.SkipInitialGuildCreates = true

	assert.False(t, s.meetsForwardThreshold(EventGuildCreate))
	s.markReadyAndNotify()
	assert.True(t, s.meetsForwardThreshold(EventGuildCreate))
	assert.True(t, s.meetsForwardThreshold(EventChannelCreate))
}

func TestShard_GatewayURL_AddsCompressionParamWhenEnabled(t *testing.T) {
	s := newTestShard()
	s.cfg.Features.Compression = true
	assert.Contains(t, s.gatewayURL(), "compress=zlib-stream")

	s.cfg.Features.Compression = false
	assert.NotContains(t, s.gatewayURL(), "compress")
}
