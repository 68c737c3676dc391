package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL   string
	LogLevel string

	// Factories are `kind:address:creation_block[:fee]` entries.
	Factories          []string
	Discovery          bool
	DiscoveryFrom      uint64
	DiscoveryStep      uint64
	DiscoveryThreshold uint64

	Concurrency         int
	PageSize            int
	ChunkSize           int
	LogStep             uint64
	AbortOnChunkFailure bool

	WhitelistPools  []string
	WhitelistTokens []string
	BlacklistPools  []string
	BlacklistTokens []string
	ValueToken      string
	ValueThreshold  float64

	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	Snapshot     string
	SnapshotName string
	PGDSN        string
	MetricsAddr  string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STATESPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("discovery", false)
	v.SetDefault("discovery-step", uint64(10000))
	v.SetDefault("discovery-threshold", uint64(10))
	v.SetDefault("concurrency", 8)
	v.SetDefault("page-size", 766)
	v.SetDefault("chunk-size", 127)
	v.SetDefault("log-step", uint64(10000))
	v.SetDefault("abort-on-chunk-failure", false)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("snapshot-name", "default")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:   v.GetString("rpc"),
		LogLevel: v.GetString("log-level"),

		Factories:          getStringSlice(v, "factories"),
		Discovery:          v.GetBool("discovery"),
		DiscoveryFrom:      v.GetUint64("discovery-from"),
		DiscoveryStep:      v.GetUint64("discovery-step"),
		DiscoveryThreshold: v.GetUint64("discovery-threshold"),

		Concurrency:         v.GetInt("concurrency"),
		PageSize:            v.GetInt("page-size"),
		ChunkSize:           v.GetInt("chunk-size"),
		LogStep:             v.GetUint64("log-step"),
		AbortOnChunkFailure: v.GetBool("abort-on-chunk-failure"),

		WhitelistPools:  getStringSlice(v, "whitelist-pools"),
		WhitelistTokens: getStringSlice(v, "whitelist-tokens"),
		BlacklistPools:  getStringSlice(v, "blacklist-pools"),
		BlacklistTokens: getStringSlice(v, "blacklist-tokens"),
		ValueToken:      v.GetString("value-token"),
		ValueThreshold:  v.GetFloat64("value-threshold"),

		PollInterval: v.GetDuration("poll-interval"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),

		Snapshot:     v.GetString("snapshot"),
		SnapshotName: v.GetString("snapshot-name"),
		PGDSN:        v.GetString("pg-dsn"),
		MetricsAddr:  v.GetString("metrics-addr"),
	}

	return cfg, nil
}

// Validate reports settings that cannot produce a working state space.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if len(c.Factories) == 0 && !c.Discovery {
		return errors.New("at least one factory is required unless discovery is enabled")
	}
	if c.Discovery && c.DiscoveryStep == 0 {
		return errors.New("discovery step must be greater than zero")
	}
	if c.PageSize <= 0 || c.ChunkSize <= 0 {
		return errors.New("page size and chunk size must be greater than zero")
	}
	if c.LogStep == 0 {
		return errors.New("log step must be greater than zero")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be greater than zero")
	}
	if c.ValueThreshold > 0 && c.ValueToken == "" {
		return errors.New("value token is required with a value threshold")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
