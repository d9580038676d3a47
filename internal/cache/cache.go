// Package cache defines the opaque entity-store interface the gateway
// dispatcher depends on, plus an in-memory reference implementation good
// enough for local development and tests. Production deployments satisfy
// the same interface with a real store; the gateway core never knows the
// difference.
package cache

import (
	"sync"

	"github.com/shardrelay/gateway/internal/model"
)

// Cache is the full set of operations the event dispatcher performs.
type Cache interface {
	UpsertChannel(ch model.Channel) error
	DeleteChannel(id model.Snowflake) error
	UpsertGuild(g model.Guild) error
	DeleteGuild(id model.Snowflake) error
	UpsertMember(guildID model.Snowflake, m model.Member) error
	UpsertMembers(guildID model.Snowflake, members []model.Member) error
	DeleteMember(guildID, userID model.Snowflake) error
	UpsertRole(guildID model.Snowflake, r model.Role) error
	DeleteRole(id model.Snowflake) error
	ReplaceGuildEmojis(guildID model.Snowflake, emojis []model.Emoji) error
	UpsertUser(u model.User) error
}

type memberKey struct {
	guildID, userID model.Snowflake
}

// Memory is a mutex-protected, in-memory Cache. Safe for concurrent use by
// the dispatcher's detached per-event goroutines.
type Memory struct {
	mu       sync.RWMutex
	channels map[model.Snowflake]model.Channel
	guilds   map[model.Snowflake]model.Guild
	members  map[memberKey]model.Member
	roles    map[model.Snowflake]model.Role
	emojis   map[model.Snowflake][]model.Emoji
	users    map[model.Snowflake]model.User
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		channels: make(map[model.Snowflake]model.Channel),
		guilds:   make(map[model.Snowflake]model.Guild),
		members:  make(map[memberKey]model.Member),
		roles:    make(map[model.Snowflake]model.Role),
		emojis:   make(map[model.Snowflake][]model.Emoji),
		users:    make(map[model.Snowflake]model.User),
	}
}

func (m *Memory) UpsertChannel(ch model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
	return nil
}

func (m *Memory) DeleteChannel(id model.Snowflake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	return nil
}

func (m *Memory) UpsertGuild(g model.Guild) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[g.ID] = g
	return nil
}

func (m *Memory) DeleteGuild(id model.Snowflake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.guilds, id)
	return nil
}

func (m *Memory) UpsertMember(guildID model.Snowflake, mem model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem.User == nil {
		return nil
	}
	m.members[memberKey{guildID, mem.User.ID}] = mem
	return nil
}

func (m *Memory) UpsertMembers(guildID model.Snowflake, members []model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		if mem.User == nil {
			continue
		}
		m.members[memberKey{guildID, mem.User.ID}] = mem
	}
	return nil
}

func (m *Memory) DeleteMember(guildID, userID model.Snowflake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberKey{guildID, userID})
	return nil
}

func (m *Memory) UpsertRole(guildID model.Snowflake, r model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.GuildID = guildID
	m.roles[r.ID] = r
	return nil
}

func (m *Memory) DeleteRole(id model.Snowflake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
	return nil
}

func (m *Memory) ReplaceGuildEmojis(guildID model.Snowflake, emojis []model.Emoji) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emojis[guildID] = emojis
	return nil
}

func (m *Memory) UpsertUser(u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}
