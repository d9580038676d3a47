package gateway

import (
	"context"
	"errors"

	"github.com/shardrelay/gateway/internal/model"
)

// handleDispatchEvent routes a decoded dispatch event to cache mutation and
// forwarding. It is always invoked from a detached goroutine by the caller
// (the read loop itself must never block on cache or forward work) and
// never returns an error: every failure here is logged and does not
// interrupt the shard.
func (s *Shard) handleDispatchEvent(ctx context.Context, event string, raw []byte) {
	switch event {
	case EventReady:
		var ready readyPayload
		if err := unmarshalJSON(raw, &ready); err != nil {
			s.logErrf(err, "error decoding READY payload")
			return
		}
		s.setSessionID(ready.SessionID)
		if err := s.store.saveSessionID(ctx, s.shardID(), s.numShards(), ready.SessionID); err != nil {
			s.logErrf(err, "error saving session id on READY")
		}
		s.setReadyGuildCount(len(ready.Guilds))
		s.logf(LogLevelInfo, "ready on %s (session %s)", ready.User.Username, ready.SessionID)
		return

	case EventResumed:
		s.logf(LogLevelInfo, "received resumed acknowledgement")
		s.markReadyAndNotify()

	case EventGuildCreate:
		s.updateGuildCreateCount(ctx, raw)
	}

	guildID, shouldCache := extractGuildID(event, raw)
	shouldForward := isWhitelisted(event) && s.meetsForwardThreshold(event)

	if shouldCache {
		if err := s.mutateCache(event, raw); err != nil {
			s.logErrf(err, "error updating cache for %s", event)
			if s.stats != nil {
				s.stats.CacheErrors.WithLabelValues(event).Inc()
			}
		}
	}

	if shouldForward {
		if err := s.forwarder.forward(ctx, s.cfg, forwardEnvelope{
			BotToken:     s.cfg.BotToken,
			BotID:        s.cfg.BotID,
			IsWhitelabel: s.cfg.Features.Whitelabel,
			ShardID:      s.shardID(),
			Event:        raw,
		}, guildID); err != nil {
			s.logErrf(err, "error while executing worker HTTP request")
			if s.stats != nil {
				kind := "transport"
				if errors.Is(err, ErrWorker) {
					kind = "worker"
				}
				s.stats.ForwardErrors.WithLabelValues(kind).Inc()
			}
		}
	}
}

// meetsForwardThreshold applies the forward-threshold policy: when
// skip-initial-guild-creates is enabled, GUILD_CREATE only forwards once
// the shard is ready; every other event always passes.
func (s *Shard) meetsForwardThreshold(event string) bool {
	if s.cfg.Features.SkipInitialGuildCreates && event == EventGuildCreate {
		return s.isReady()
	}
	return true
}

// updateGuildCreateCount counts guild creates toward the 90% readiness
// threshold, and (in per-tenant mode) records the guild as belonging to
// this tenant.
func (s *Shard) updateGuildCreateCount(ctx context.Context, raw []byte) {
	received := s.incReceivedGuildCount()
	if !s.isReady() && received >= (s.getReadyGuildCount()*9)/10 {
		s.markReadyAndNotify()
	}

	if s.cfg.Features.Whitelabel {
		var g struct {
			ID model.Snowflake `json:"id"`
		}
		if err := unmarshalJSON(raw, &g); err == nil {
			if err := s.registerWhitelabelGuild(ctx, g.ID); err != nil {
				s.logErrf(err, "error while storing whitelabel guild data")
			}
		}
	}
}

// extractGuildID returns the guild id to key sticky routing on (0 if none)
// and whether to attempt a cache mutation. The second result is true for
// every event; mutateCache itself ignores event kinds outside its table.
func extractGuildID(event string, raw []byte) (model.Snowflake, bool) {
	var probe struct {
		ID      *model.Snowflake `json:"id"`
		GuildID *model.Snowflake `json:"guild_id"`
	}
	_ = unmarshalJSON(raw, &probe)

	switch event {
	case EventGuildCreate, EventGuildUpdate, EventGuildDelete:
		if probe.ID != nil {
			return *probe.ID, true
		}
		return 0, true
	default:
		if probe.GuildID != nil {
			return *probe.GuildID, true
		}
		return 0, true
	}
}

// mutateCache applies the cache-mutation table for events that update the
// entity cache.
func (s *Shard) mutateCache(event string, raw []byte) error {
	switch event {
	case EventChannelCreate, EventChannelUpdate, EventThreadCreate, EventThreadUpdate:
		var ch model.Channel
		if err := unmarshalJSON(raw, &ch); err != nil {
			return err
		}
		return s.cache.UpsertChannel(ch)

	case EventChannelDelete, EventThreadDelete:
		var d channelDeletePayload
		if err := unmarshalJSON(raw, &d); err != nil {
			return err
		}
		return s.cache.DeleteChannel(d.ID)

	case EventGuildCreate, EventGuildUpdate:
		var g model.Guild
		if err := unmarshalJSON(raw, &g); err != nil {
			return err
		}
		applyGuildIDToChannels(&g)
		return s.cache.UpsertGuild(g)

	case EventGuildDelete:
		var g model.Guild
		if err := unmarshalJSON(raw, &g); err != nil {
			return err
		}
		if g.Unavailable == nil {
			return s.cache.DeleteGuild(g.ID)
		}
		return nil

	case EventGuildMemberAdd:
		var m guildMemberAddPayload
		if err := unmarshalJSON(raw, &m); err != nil {
			return err
		}
		return s.cache.UpsertMember(m.GuildID, m.Member)

	case EventGuildMembersChunk:
		var c guildMembersChunkPayload
		if err := unmarshalJSON(raw, &c); err != nil {
			return err
		}
		return s.cache.UpsertMembers(c.GuildID, c.Members)

	case EventGuildMemberRemove:
		var r guildMemberRemovePayload
		if err := unmarshalJSON(raw, &r); err != nil {
			return err
		}
		return s.cache.DeleteMember(r.GuildID, r.User.ID)

	case EventGuildBanAdd:
		var b guildBanAddPayload
		if err := unmarshalJSON(raw, &b); err != nil {
			return err
		}
		return s.cache.DeleteMember(b.GuildID, b.User.ID)

	case EventGuildMemberUpdate:
		var u guildMemberUpdatePayload
		if err := unmarshalJSON(raw, &u); err != nil {
			return err
		}
		// open question: deaf/mute are absent from this event and are
		// deliberately zeroed here, reproducing the source's documented
		// lossy behavior rather than merging with the cached record.
		return s.cache.UpsertMember(u.GuildID, model.Member{
			User:         &u.User,
			Nick:         u.Nick,
			Roles:        u.Roles,
			JoinedAt:     u.JoinedAt,
			PremiumSince: u.PremiumSince,
			Deaf:         false,
			Mute:         false,
		})

	case EventGuildRoleCreate, EventGuildRoleUpdate:
		var r guildRoleCreateUpdatePayload
		if err := unmarshalJSON(raw, &r); err != nil {
			return err
		}
		return s.cache.UpsertRole(r.GuildID, r.Role)

	case EventGuildRoleDelete:
		var r guildRoleDeletePayload
		if err := unmarshalJSON(raw, &r); err != nil {
			return err
		}
		return s.cache.DeleteRole(r.RoleID)

	case EventGuildEmojisUpdate:
		var e guildEmojisUpdatePayload
		if err := unmarshalJSON(raw, &e); err != nil {
			return err
		}
		return s.cache.ReplaceGuildEmojis(e.GuildID, e.Emojis)

	case EventUserUpdate:
		var u model.User
		if err := unmarshalJSON(raw, &u); err != nil {
			return err
		}
		return s.cache.UpsertUser(u)

	default:
		return nil
	}
}

func applyGuildIDToChannels(g *model.Guild) {
	for i := range g.Channels {
		g.Channels[i].GuildID = g.ID
	}
	for i := range g.Threads {
		g.Threads[i].GuildID = g.ID
	}
}
