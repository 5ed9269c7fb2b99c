// Package config loads marketd configuration from a YAML file, the
// environment (prefix MSE_) and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"market-state-engine/internal/address"
	"market-state-engine/internal/book"
	"market-state-engine/internal/chain"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/logging"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "MSE"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Stats providers.
const (
	StatsHTTP       = "http"
	StatsClickhouse = "clickhouse"
	StatsNone       = "none"
)

// Config is the complete marketd configuration.
type Config struct {
	RPC       RPCConfig            `mapstructure:"rpc"`
	Synthetic book.SyntheticConfig `mapstructure:"synthetic"`
	Liquidity LiquidityConfig      `mapstructure:"liquidity"`
	Cache     CacheConfig          `mapstructure:"cache"`
	Composer  ComposerConfig       `mapstructure:"composer"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Stats     StatsConfig          `mapstructure:"stats"`
	Server    ServerConfig         `mapstructure:"server"`
	Logging   logging.Config       `mapstructure:"logging"`
}

// RPCConfig configures the endpoint pool and the AMM quoter.
type RPCConfig struct {
	Endpoints     []EndpointConfig `mapstructure:"endpoints"`
	QuoterAddress string           `mapstructure:"quoter_address"`
	FeeTiers      []uint32         `mapstructure:"fee_tiers"`
	CallTimeout   time.Duration    `mapstructure:"call_timeout"`
	RateLimit     float64          `mapstructure:"rate_limit"` // per endpoint, 0 = unlimited
	Burst         int              `mapstructure:"burst"`
}

// EndpointConfig is one RPC endpoint. Zero fields inherit from RPCConfig.
type EndpointConfig struct {
	Name      string        `mapstructure:"name"`
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

// LiquidityConfig selects the real/synthetic combination policy.
type LiquidityConfig struct {
	Mode string `mapstructure:"mode"`
}

// CacheConfig holds cache TTLs.
type CacheConfig struct {
	StateTTL time.Duration `mapstructure:"state_ttl"`
	StatsTTL time.Duration `mapstructure:"stats_ttl"`
}

// ComposerConfig tunes market state composition.
type ComposerConfig struct {
	BranchTimeout   time.Duration `mapstructure:"branch_timeout"`
	DedupeInflight  bool          `mapstructure:"dedupe_inflight"`
	ListConcurrency int           `mapstructure:"list_concurrency"`
}

// StorageConfig selects the pair registry and order store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	PairsFile   string `mapstructure:"pairs_file"` // YAML seed for the memory backend
}

// StatsConfig selects the 24h statistics provider.
type StatsConfig struct {
	Provider      string            `mapstructure:"provider"`
	URL           string            `mapstructure:"url"`
	ClickhouseDSN string            `mapstructure:"clickhouse_dsn"`
	RateLimit     float64           `mapstructure:"rate_limit"`
	Burst         int               `mapstructure:"burst"`
	SymbolMap     map[string]string `mapstructure:"symbol_map"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StreamInterval  time.Duration `mapstructure:"stream_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Load reads configuration. An empty path searches ./marketd.yaml and
// ./configs/marketd.yaml; a missing file is not an error. Environment
// variables override file values, e.g. MSE_STORAGE_POSTGRES_DSN.
// MSE_RPC_ENDPOINTS takes a comma-separated URL list.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("marketd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.quoter_address", "")
	v.SetDefault("rpc.fee_tiers", []uint32{100, 500, 3000, 10000})
	v.SetDefault("rpc.call_timeout", chain.DefaultCallTimeout)
	v.SetDefault("rpc.rate_limit", 0)
	v.SetDefault("rpc.burst", 1)

	syn := book.DefaultSyntheticConfig()
	v.SetDefault("synthetic.depth_levels", syn.DepthLevels)
	v.SetDefault("synthetic.spread_step", syn.SpreadStep)
	v.SetDefault("synthetic.mid_jitter", syn.MidJitter)
	v.SetDefault("synthetic.min_size", syn.MinSize)
	v.SetDefault("synthetic.max_size", syn.MaxSize)
	v.SetDefault("synthetic.price_decimals", syn.PriceDecimals)
	v.SetDefault("synthetic.size_decimals", syn.SizeDecimals)
	v.SetDefault("synthetic.refresh_window", syn.RefreshWindow)

	v.SetDefault("liquidity.mode", book.ModeFallback.String())

	v.SetDefault("cache.state_ttl", 5*time.Second)
	v.SetDefault("cache.stats_ttl", 5*time.Minute)

	v.SetDefault("composer.branch_timeout", 4*time.Second)
	v.SetDefault("composer.dedupe_inflight", false)
	v.SetDefault("composer.list_concurrency", 8)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.pairs_file", "")

	v.SetDefault("stats.provider", StatsNone)
	v.SetDefault("stats.url", "")
	v.SetDefault("stats.clickhouse_dsn", "")
	v.SetDefault("stats.rate_limit", 5)
	v.SetDefault("stats.burst", 5)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.stream_interval", time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	lc := logging.DefaultConfig()
	v.SetDefault("logging.level", lc.Level)
	v.SetDefault("logging.file", lc.File)
	v.SetDefault("logging.max_size_mb", lc.MaxSizeMB)
	v.SetDefault("logging.max_backups", lc.MaxBackups)
	v.SetDefault("logging.max_age_days", lc.MaxAgeDays)
	v.SetDefault("logging.compress", lc.Compress)
}

func overrideFromEnv(cfg *Config) {
	if raw := os.Getenv(EnvPrefix + "_RPC_ENDPOINTS"); raw != "" {
		var eps []EndpointConfig
		for i, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			eps = append(eps, EndpointConfig{Name: fmt.Sprintf("env-%d", i), URL: u})
		}
		cfg.RPC.Endpoints = eps
	}
}

// Validate checks the configuration and returns the first *ConfigError.
func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return invalid("rpc.endpoints", "at least one endpoint is required")
	}
	for i, ep := range c.RPC.Endpoints {
		if !strings.HasPrefix(ep.URL, "http://") && !strings.HasPrefix(ep.URL, "https://") {
			return invalid(fmt.Sprintf("rpc.endpoints[%d].url", i), "must be an http(s) URL, got %q", ep.URL)
		}
	}
	if c.RPC.QuoterAddress != "" {
		if err := address.Validate(domain.ChainEVM, c.RPC.QuoterAddress); err != nil {
			return invalid("rpc.quoter_address", "%v", err)
		}
	}
	for _, fee := range c.RPC.FeeTiers {
		if fee == 0 || fee >= 1_000_000 {
			return invalid("rpc.fee_tiers", "fee tier %d out of range", fee)
		}
	}
	if c.RPC.CallTimeout <= 0 {
		return invalid("rpc.call_timeout", "must be positive")
	}

	if err := c.Synthetic.Validate(); err != nil {
		return invalid("synthetic", "%v", err)
	}
	if _, err := book.ParseLiquidityMode(c.Liquidity.Mode); err != nil {
		return invalid("liquidity.mode", "%v", err)
	}

	if c.Cache.StateTTL <= 0 {
		return invalid("cache.state_ttl", "must be positive")
	}
	if c.Cache.StatsTTL <= 0 {
		return invalid("cache.stats_ttl", "must be positive")
	}
	if c.Composer.BranchTimeout <= 0 {
		return invalid("composer.branch_timeout", "must be positive")
	}
	if c.Composer.ListConcurrency <= 0 {
		return invalid("composer.list_concurrency", "must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return invalid("storage.postgres_dsn", "required for the postgres backend")
		}
	default:
		return invalid("storage.backend", "unknown backend %q", c.Storage.Backend)
	}

	switch c.Stats.Provider {
	case StatsNone, StatsHTTP:
	case StatsClickhouse:
		if c.Stats.ClickhouseDSN == "" {
			return invalid("stats.clickhouse_dsn", "required for the clickhouse provider")
		}
	default:
		return invalid("stats.provider", "unknown provider %q", c.Stats.Provider)
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "required")
	}
	if c.Server.StreamInterval <= 0 {
		return invalid("server.stream_interval", "must be positive")
	}
	return nil
}

// ChainEndpoints converts the RPC section into pool endpoints.
func (c *Config) ChainEndpoints() []chain.Endpoint {
	out := make([]chain.Endpoint, 0, len(c.RPC.Endpoints))
	for _, ep := range c.RPC.Endpoints {
		e := chain.Endpoint{
			Name:      ep.Name,
			URL:       ep.URL,
			Timeout:   ep.Timeout,
			RateLimit: ep.RateLimit,
			Burst:     ep.Burst,
		}
		if e.Timeout <= 0 {
			e.Timeout = c.RPC.CallTimeout
		}
		if e.RateLimit <= 0 {
			e.RateLimit = c.RPC.RateLimit
			e.Burst = c.RPC.Burst
		}
		out = append(out, e)
	}
	return out
}

// LiquidityMode returns the parsed liquidity mode.
func (c *Config) LiquidityMode() book.LiquidityMode {
	mode, err := book.ParseLiquidityMode(c.Liquidity.Mode)
	if err != nil {
		return book.ModeFallback
	}
	return mode
}
