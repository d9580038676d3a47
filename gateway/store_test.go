package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResumeStateStore_PublicKeysScopedByShardAndCount(t *testing.T) {
	s := newResumeStateStore(nil, 0, false)
	assert.Equal(t, "tickets:resume:public:0-4", s.resumeKey(0, 4))
	assert.Equal(t, "tickets:resume:public:1-4", s.resumeKey(1, 4))
	assert.Equal(t, "tickets:seq:public:0-4", s.seqKey(0, 4))
}

func TestResumeStateStore_WhitelabelKeysScopedByBotID(t *testing.T) {
	s := newResumeStateStore(nil, 555, true)
	assert.Equal(t, "tickets:resume:555:0", s.resumeKey(0, 1))
	assert.Equal(t, "tickets:seq:555:0", s.seqKey(0, 1))
}

func TestResumeStateStore_DistinctBotsDoNotCollide(t *testing.T) {
	a := newResumeStateStore(nil, 1, true)
	b := newResumeStateStore(nil, 2, true)
	assert.NotEqual(t, a.resumeKey(0, 1), b.resumeKey(0, 1))
}

func TestResumeStateStore_KeyShapes(t *testing.T) {
	cases := []struct {
		name       string
		whitelabel bool
		want       string
	}{
		{"public", false, "tickets:resume:public:2-8"},
		{"whitelabel", true, "tickets:resume:42:2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newResumeStateStore(nil, 42, tc.whitelabel)
			assert.Equal(t, tc.want, s.resumeKey(2, 8))
		})
	}
}
