package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_ExtractsFields(t *testing.T) {
	seq := int64(42)
	raw := []byte(`{"op":0,"s":42,"t":"GUILD_CREATE","d":{"id":"123"}}`)

	env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, OpDispatch, env.Op)
	require.NotNil(t, env.Seq)
	assert.Equal(t, seq, *env.Seq)
	assert.Equal(t, "GUILD_CREATE", env.Event)
	assert.JSONEq(t, `{"id":"123"}`, string(env.Data))
}

func TestDecodeEnvelope_MissingOpcode(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"s":1,"t":"READY","d":{}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, ErrMissingOpcode)
}

func TestDecodeEnvelope_NoSeqIsNilNotZero(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	require.NoError(t, err)
	assert.Nil(t, env.Seq)
}

func TestUnmarshalJSON_UnknownFieldsIgnored(t *testing.T) {
	var target struct {
		ID string `json:"id"`
	}
	err := unmarshalJSON([]byte(`{"id":"1","extra_field_never_seen":true}`), &target)
	require.NoError(t, err)
	assert.Equal(t, "1", target.ID)
}

func TestExtractGuildID_GuildCreateUsesID(t *testing.T) {
	id, shouldCache := extractGuildID(EventGuildCreate, []byte(`{"id":"555","name":"x"}`))
	assert.True(t, shouldCache)
	assert.Equal(t, uint64(555), uint64(id))
}

func TestExtractGuildID_MemberEventUsesGuildID(t *testing.T) {
	id, shouldCache := extractGuildID(EventGuildMemberAdd, []byte(`{"guild_id":"777","user":{"id":"1"}}`))
	assert.True(t, shouldCache)
	assert.Equal(t, uint64(777), uint64(id))
}
