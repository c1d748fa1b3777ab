package dedupe

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a SeenStore backend.
type Config struct {
	Backend string
	Path    string
	Table   string
	TTL     time.Duration
	Redis   RedisConfig
}

// Open builds the configured SeenStore. An empty backend means sqlite.
func Open(cfg Config) (SeenStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path, cfg.Table, cfg.TTL)
	case BackendRedis:
		redisCfg := cfg.Redis
		if redisCfg.TTL == 0 {
			redisCfg.TTL = cfg.TTL
		}
		return NewRedisStore(redisCfg)
	case BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q (expected sqlite, redis or memory)", cfg.Backend)
	}
}
