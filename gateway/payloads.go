package gateway

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Opcode identifies the kind of envelope a gateway frame carries.
// Numbering matches the upstream wire contract.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpStatusUpdate        Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

// envelope is stage one of the payload decoder: just enough to
// dispatch on opcode and track sequence without paying to fully type the
// body. Data retains the raw "d" bytes so a dispatch body can be forwarded
// downstream byte-for-byte or typed on demand by opcode.
type envelope struct {
	Op    Opcode          `json:"op"`
	Seq   *int64          `json:"s"`
	Event string          `json:"t"`
	Data  json.RawMessage `json:"d"`
}

// decodeEnvelope extracts op + s + t + d from a raw frame. A missing "op" is
// a framing error; everything else is optional.
func decodeEnvelope(raw []byte) (*envelope, error) {
	var probe struct {
		Op    *Opcode         `json:"op"`
		Seq   *int64          `json:"s"`
		Event string          `json:"t"`
		Data  json.RawMessage `json:"d"`
	}
	if err := sonic.Unmarshal(raw, &probe); err != nil {
		return nil, wrapDecode(err)
	}
	if probe.Op == nil {
		return nil, ErrMissingOpcode
	}
	return &envelope{Op: *probe.Op, Seq: probe.Seq, Event: probe.Event, Data: probe.Data}, nil
}

// sendPacket is the generic outbound envelope shape; Data is filled in by
// each of the typed constructors below.
type sendPacket struct {
	Op   Opcode      `json:"op"`
	Data interface{} `json:"d"`
}

func marshalPacket(op Opcode, data interface{}) ([]byte, error) {
	return sonic.Marshal(sendPacket{Op: op, Data: data})
}

// ShardInfoTuple is the [shard_id, num_shards] pair identify payloads carry.
type ShardInfoTuple [2]int

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is the body of an Identify (op 2) payload.
type IdentifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
	Compress   bool               `json:"compress,omitempty"`
	ShardInfo  ShardInfoTuple     `json:"shard"`
	Intents    int64              `json:"intents"`
}

func newIdentifyPayload(token string, shardID, numShards int, compress bool, intents int64) ([]byte, error) {
	return marshalPacket(OpIdentify, IdentifyData{
		Token: token,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "shardrelay",
			Device:  "shardrelay",
		},
		Compress:  compress,
		ShardInfo: ShardInfoTuple{shardID, numShards},
		Intents:   intents,
	})
}

// ResumeData is the body of a Resume (op 6) payload.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

func newResumePayload(token, sessionID string, seq int64) ([]byte, error) {
	return marshalPacket(OpResume, ResumeData{Token: token, SessionID: sessionID, Seq: seq})
}

func newHeartbeatPayload(seq *int64) ([]byte, error) {
	var d interface{}
	if seq != nil {
		d = *seq
	}
	return marshalPacket(OpHeartbeat, d)
}

// HelloData is the body of a Hello (op 10) payload.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// PresenceUpdateData is the body of a StatusUpdate (op 3) payload.
type PresenceUpdateData struct {
	Since  *int64      `json:"since"`
	Status string      `json:"status"`
	AFK    bool        `json:"afk"`
	Game   interface{} `json:"game,omitempty"`
}

func newStatusUpdatePayload(p PresenceUpdateData) ([]byte, error) {
	return marshalPacket(OpStatusUpdate, p)
}
