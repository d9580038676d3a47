package gateway

import (
	"time"

	"github.com/shardrelay/gateway/internal/model"
)

// Event names recognized for cache mutation and forwarding. Anything
// outside this closed set is ignored silently by the dispatcher.
const (
	EventReady               = "READY"
	EventResumed             = "RESUMED"
	EventChannelCreate       = "CHANNEL_CREATE"
	EventChannelUpdate       = "CHANNEL_UPDATE"
	EventChannelDelete       = "CHANNEL_DELETE"
	EventThreadCreate        = "THREAD_CREATE"
	EventThreadUpdate        = "THREAD_UPDATE"
	EventThreadDelete        = "THREAD_DELETE"
	EventGuildCreate         = "GUILD_CREATE"
	EventGuildUpdate         = "GUILD_UPDATE"
	EventGuildDelete         = "GUILD_DELETE"
	EventGuildBanAdd         = "GUILD_BAN_ADD"
	EventGuildEmojisUpdate   = "GUILD_EMOJIS_UPDATE"
	EventGuildMemberAdd      = "GUILD_MEMBER_ADD"
	EventGuildMemberRemove   = "GUILD_MEMBER_REMOVE"
	EventGuildMemberUpdate   = "GUILD_MEMBER_UPDATE"
	EventGuildMembersChunk   = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate     = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate     = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete     = "GUILD_ROLE_DELETE"
	EventUserUpdate          = "USER_UPDATE"
)

// forwardWhitelist is the closed set of dispatch event names eligible for
// downstream HTTP forwarding. READY is listed but never reaches the forward
// gate: handleDispatchEvent returns right after storing its session.
var forwardWhitelist = map[string]bool{
	EventReady:             true,
	EventResumed:           true,
	EventChannelCreate:     true,
	EventChannelUpdate:     true,
	EventChannelDelete:     true,
	EventThreadCreate:      true,
	EventThreadUpdate:      true,
	EventThreadDelete:      true,
	EventGuildCreate:       true,
	EventGuildUpdate:       true,
	EventGuildDelete:       true,
	EventGuildBanAdd:       true,
	EventGuildEmojisUpdate: true,
	EventGuildMemberAdd:    true,
	EventGuildMemberRemove: true,
	EventGuildMemberUpdate: true,
	EventGuildMembersChunk: true,
	EventGuildRoleCreate:   true,
	EventGuildRoleUpdate:   true,
	EventGuildRoleDelete:   true,
	EventUserUpdate:        true,
}

func isWhitelisted(event string) bool {
	return forwardWhitelist[event]
}

// Typed event payload bodies, named after their dispatch event.

type readyPayload struct {
	SessionID string       `json:"session_id"`
	User      model.User   `json:"user"`
	Guilds    []model.Guild `json:"guilds"`
}

type resumedPayload struct{}

type guildBanAddPayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	User    model.User      `json:"user"`
}

type guildEmojisUpdatePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	Emojis  []model.Emoji   `json:"emojis"`
}

type guildMemberAddPayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	model.Member
}

type guildMemberRemovePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	User    model.User      `json:"user"`
}

// guildMemberUpdatePayload intentionally omits Deaf/Mute: the upstream
// update event never carries them, so a merge into the cache silently
// zeroes them out rather than preserving the prior known values. This is a
// known-lossy merge, reproduced deliberately (see DESIGN.md) rather than
// patched over.
type guildMemberUpdatePayload struct {
	GuildID      model.Snowflake   `json:"guild_id"`
	User         model.User        `json:"user"`
	Nick         string            `json:"nick,omitempty"`
	Roles        []model.Snowflake `json:"roles,omitempty"`
	JoinedAt     *time.Time        `json:"joined_at,omitempty"`
	PremiumSince *time.Time        `json:"premium_since,omitempty"`
}

type guildMembersChunkPayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	Members []model.Member  `json:"members"`
}

type guildRoleCreateUpdatePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	Role    model.Role      `json:"role"`
}

type guildRoleDeletePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	RoleID  model.Snowflake `json:"role_id"`
}

type channelDeletePayload struct {
	ID model.Snowflake `json:"id"`
}
