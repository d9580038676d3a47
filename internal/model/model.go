// Package model holds the minimal entity records the gateway dispatcher
// reads from dispatch events and writes to the cache. This is deliberately
// a thin slice of the upstream schema — only the fields dispatch payloads
// actually carry and the cache actually stores — since full domain
// modeling is explicitly out of scope for the gateway shard core.
package model

import (
	"strconv"
	"time"
)

// Snowflake is a 64-bit entity id. Upstream encodes it as a JSON string
// (it exceeds the safe integer range for several client languages), so it
// round-trips through strconv rather than a plain numeric field.
type Snowflake uint64

func (s *Snowflake) UnmarshalJSON(buf []byte) error {
	if string(buf) == "null" {
		return nil
	}
	str := string(buf)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	if str == "" {
		*s = 0
		return nil
	}
	id, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return err
	}
	*s = Snowflake(id)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(s), 10) + `"`), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
}

type Role struct {
	ID      Snowflake `json:"id"`
	GuildID Snowflake `json:"guild_id,omitempty"`
	Name    string    `json:"name"`
}

type Emoji struct {
	ID   Snowflake `json:"id"`
	Name string    `json:"name"`
}

type Channel struct {
	ID      Snowflake `json:"id"`
	GuildID Snowflake `json:"guild_id,omitempty"`
	Type    int       `json:"type"`
}

type Member struct {
	User         *User      `json:"user,omitempty"`
	Nick         string     `json:"nick,omitempty"`
	Roles        []Snowflake `json:"roles,omitempty"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	PremiumSince *time.Time `json:"premium_since,omitempty"`
	Deaf         bool       `json:"deaf"`
	Mute         bool       `json:"mute"`
}

type Guild struct {
	ID          Snowflake  `json:"id"`
	Name        string     `json:"name"`
	Unavailable *bool      `json:"unavailable,omitempty"`
	Channels    []Channel  `json:"channels,omitempty"`
	Threads     []Channel  `json:"threads,omitempty"`
	Roles       []Role     `json:"roles,omitempty"`
	Emojis      []Emoji    `json:"emojis,omitempty"`
}
