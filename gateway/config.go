package gateway

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

// ShardInfo identifies a shard's position within the overall sharding plan.
type ShardInfo struct {
	ShardID   int `toml:"shard_id"`
	NumShards int `toml:"num_shards"`
}

// Features gates runtime behaviors via configuration switches: a plain
// struct is sufficient, no build tags needed.
type Features struct {
	Compression             bool `toml:"compression"`
	SkipInitialGuildCreates bool `toml:"skip_initial_guild_creates"`
	Whitelabel              bool `toml:"whitelabel"`
}

// Config is the full set of knobs a shard (or a group of shards sharing a
// process) needs.
type Config struct {
	GatewayURL           string    `toml:"gateway_url"`
	WorkerSvcURI         string    `toml:"worker_svc_uri"`
	StickyCookie         string    `toml:"sticky_cookie"`
	LargeShardingBuckets uint16    `toml:"large_sharding_buckets"`
	ShardInfo            ShardInfo `toml:"shard_info"`
	BotToken             string    `toml:"bot_token"`
	BotID                uint64    `toml:"bot_id"`
	RedisAddr            string    `toml:"redis_addr"`
	MetricsAddr          string    `toml:"metrics_addr"`
	LogLevel             string    `toml:"log_level"`
	Features             Features  `toml:"features"`
}

// LoadConfig reads a TOML config file and layers environment overrides for
// the values that should never live in a checked-in file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("gateway: load config: %w", err)
	}

	if tok := os.Getenv("GATEWAY_BOT_TOKEN"); tok != "" {
		cfg.BotToken = tok
	}
	if addr := os.Getenv("GATEWAY_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ShardInfo.NumShards <= 0 || c.ShardInfo.ShardID < 0 || c.ShardInfo.ShardID >= c.ShardInfo.NumShards {
		return fmt.Errorf("gateway: invalid shard_info: id=%d num_shards=%d", c.ShardInfo.ShardID, c.ShardInfo.NumShards)
	}
	if c.WorkerSvcURI == "" {
		return fmt.Errorf("gateway: worker_svc_uri is required")
	}
	if _, err := url.Parse(c.WorkerSvcURI); err != nil {
		return fmt.Errorf("gateway: invalid worker_svc_uri: %w", err)
	}
	if c.StickyCookie == "" {
		c.StickyCookie = "AFFINITY"
	}
	if c.LargeShardingBuckets == 0 {
		c.LargeShardingBuckets = 1
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway: gateway_url is required")
	}
	return nil
}

// LogLevelFromString maps a config string ("debug"/"info"/"warn"/"error")
// to a LogLevel, defaulting to info on anything else.
func LogLevelFromString(s string) LogLevel {
	switch s {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}
