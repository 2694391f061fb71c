// Package config loads the service configuration from an optional TOML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/registry"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
)

// Config is the full service configuration.
type Config struct {
	Port     string `toml:"port"`
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	Env      string `toml:"env"`

	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// StoreConfig selects and locates the KV backend.
type StoreConfig struct {
	Backend     string        `toml:"backend"` // memory, postgres or leveldb
	DatabaseURL string        `toml:"database_url"`
	LevelDBPath string        `toml:"leveldb_path"`
	RedisURL    string        `toml:"redis_url"`
	CacheTTL    time.Duration `toml:"cache_ttl"`
}

// EngineConfig carries the bootstrap GlobalConfig and dispatcher settings.
type EngineConfig struct {
	Admin             string          `toml:"admin"`
	RewardToken       string          `toml:"reward_token"`
	RewardRate        decimal.Decimal `toml:"reward_rate"`
	MinLockPeriod     int64           `toml:"min_lock_period"`
	CompoundFrequency int64           `toml:"compound_frequency"`
	TVLPolicy         string          `toml:"tvl_policy"`
	EthBridge         string          `toml:"eth_bridge"`
	PriceFeeder       string          `toml:"price_feeder"`
}

// RateLimitConfig bounds requests per client address. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		Env:      "development",
		Store: StoreConfig{
			Backend:  BackendMemory,
			CacheTTL: 30 * time.Second,
		},
		Engine: EngineConfig{
			RewardToken:       "ueuclid",
			RewardRate:        decimal.Zero,
			MinLockPeriod:     0,
			CompoundFrequency: 86400,
			TVLPolicy:         string(registry.TVLGross),
			EthBridge:         portfolio.DefaultEthBridge,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
			Burst:             50,
		},
	}
}

// Load reads path (skipped when empty), then envFile (skipped when empty or
// missing), then the environment, and validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %s in %s", undecoded[0], path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	str("APP_ENV", &cfg.Env)
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("LEVELDB_PATH", &cfg.Store.LevelDBPath)
	str("REDIS_URL", &cfg.Store.RedisURL)
	str("ADMIN", &cfg.Engine.Admin)
	str("REWARD_TOKEN", &cfg.Engine.RewardToken)
	str("TVL_POLICY", &cfg.Engine.TVLPolicy)
	str("ETH_BRIDGE", &cfg.Engine.EthBridge)
	str("PRICE_FEEDER", &cfg.Engine.PriceFeeder)

	// DATABASE_URL alone selects postgres, as the service always did.
	if _, ok := os.LookupEnv("STORE_BACKEND"); !ok && cfg.Store.DatabaseURL != "" && cfg.Store.Backend == BackendMemory {
		cfg.Store.Backend = BackendPostgres
	}

	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		cfg.Store.CacheTTL = d
	}
	if v := os.Getenv("REWARD_RATE"); v != "" {
		r, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("config: REWARD_RATE: %w", err)
		}
		cfg.Engine.RewardRate = r
	}
	for key, dst := range map[string]*int64{
		"MIN_LOCK_PERIOD":    &cfg.Engine.MinLockPeriod,
		"COMPOUND_FREQUENCY": &cfg.Engine.CompoundFrequency,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT_RPM: %w", err)
		}
		cfg.RateLimit.RequestsPerMinute = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimit.Burst = n
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: postgres backend requires DATABASE_URL")
		}
	case BackendLevelDB:
		if c.Store.LevelDBPath == "" {
			return fmt.Errorf("config: leveldb backend requires LEVELDB_PATH")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Store.RedisURL != "" && c.Store.Backend == BackendMemory {
		return fmt.Errorf("config: redis cache needs a persistent backend")
	}
	if c.Store.CacheTTL <= 0 {
		return fmt.Errorf("config: cache ttl must be positive")
	}
	if c.Engine.Admin == "" {
		return fmt.Errorf("config: ADMIN is required")
	}
	if c.Engine.RewardRate.IsNegative() || c.Engine.MinLockPeriod < 0 || c.Engine.CompoundFrequency < 0 {
		return fmt.Errorf("config: reward parameters must be non-negative")
	}
	if _, err := registry.ParseTVLPolicy(c.Engine.TVLPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must be non-negative")
	}
	return nil
}
