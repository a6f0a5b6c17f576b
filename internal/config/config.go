package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log-level" yaml:"log-level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file"`

	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Enforcer EnforcerConfig `mapstructure:"enforcer" yaml:"enforcer"`
	Feed     FeedConfig     `mapstructure:"feed" yaml:"feed"`
	Resolve  ResolveConfig  `mapstructure:"resolve" yaml:"resolve"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Stats    StatsConfig    `mapstructure:"stats" yaml:"stats"`
}

type StorageConfig struct {
	Path         string        `mapstructure:"path" yaml:"path" validate:"required"`
	SyncDir      string        `mapstructure:"sync-dir" yaml:"sync-dir"`
	PollInterval time.Duration `mapstructure:"poll-interval" yaml:"poll-interval" validate:"gt=0"`
}

type EnforcerConfig struct {
	// Output is the file the compiled rules are installed to. Empty disables
	// enforcement.
	Output string `mapstructure:"output" yaml:"output"`
}

type FeedConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1,max=64"`
	UserAgent   string        `mapstructure:"user-agent" yaml:"user-agent" validate:"required"`
	MaxBodySize int64         `mapstructure:"max-body-size" yaml:"max-body-size" validate:"gt=0"`
}

type ResolveConfig struct {
	CacheSize    int           `mapstructure:"cache-size" yaml:"cache-size" validate:"min=0"`
	CacheTTL     time.Duration `mapstructure:"cache-ttl" yaml:"cache-ttl" validate:"min=0"`
	MatchTimeout time.Duration `mapstructure:"match-timeout" yaml:"match-timeout" validate:"min=0"`
}

type APIConfig struct {
	Enable      bool   `mapstructure:"enable" yaml:"enable"`
	BindAddress string `mapstructure:"bind-address" yaml:"bind-address" validate:"required_if=Enable true"`
	Port        int    `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	Secret      string `mapstructure:"secret" yaml:"secret"`
}

type StatsConfig struct {
	Enable bool `mapstructure:"enable" yaml:"enable"`
}

func (c *APIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("storage.path", "urlredirector.db")
	v.SetDefault("storage.sync-dir", "")
	v.SetDefault("storage.poll-interval", "2s")
	v.SetDefault("enforcer.output", "")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.concurrency", 4)
	v.SetDefault("feed.user-agent", "urlredirector")
	v.SetDefault("feed.max-body-size", 8<<20)
	v.SetDefault("resolve.cache-size", 4096)
	v.SetDefault("resolve.cache-ttl", "10m")
	v.SetDefault("resolve.match-timeout", "100ms")
	v.SetDefault("api.enable", false)
	v.SetDefault("api.bind-address", "127.0.0.1")
	v.SetDefault("api.port", 9950)
	v.SetDefault("api.secret", "")
	v.SetDefault("stats.enable", false)
}

// BuildConfigFromViper decodes and validates the global viper state.
func BuildConfigFromViper() (*Config, error) {
	return BuildConfig(viper.GetViper())
}

func BuildConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("Log Level", c.LogLevel),
		slog.String("Storage", c.Storage.Path),
		slog.Bool("Sync", c.Storage.SyncDir != ""),
		slog.Int("Feed Concurrency", c.Feed.Concurrency),
		slog.Duration("Feed Timeout", c.Feed.Timeout),
		slog.Int("Cache Size", c.Resolve.CacheSize),
		slog.Duration("Match Timeout", c.Resolve.MatchTimeout),
	}
	if c.Storage.SyncDir != "" {
		attrs = append(attrs, slog.String("Sync Directory", c.Storage.SyncDir))
	}
	if c.Enforcer.Output != "" {
		attrs = append(attrs, slog.String("Enforcer Output", c.Enforcer.Output))
	}
	if c.API.Enable {
		attrs = append(attrs, slog.String("API Listen Address", c.API.ListenAddr()))
	}
	return slog.GroupValue(attrs...)
}
