package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		LogLevel: "info",

		Storage: StorageConfig{
			Path:         "urlredirector.db",
			SyncDir:      "",
			PollInterval: 2 * time.Second,
		},

		Enforcer: EnforcerConfig{
			Output: "rules.json",
		},

		Feed: FeedConfig{
			Timeout:     30 * time.Second,
			Concurrency: 4,
			UserAgent:   "urlredirector",
			MaxBodySize: 8 << 20,
		},

		Resolve: ResolveConfig{
			CacheSize:    4096,
			CacheTTL:     10 * time.Minute,
			MatchTimeout: 100 * time.Millisecond,
		},

		API: APIConfig{
			Enable:      false,
			BindAddress: "127.0.0.1",
			Port:        9950,
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile("config.yaml", data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
