package cmd

import (
	"context"
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/spf13/cobra"

	"github.com/urlredirector/urlredirector/internal/config"
	"github.com/urlredirector/urlredirector/internal/dnr"
	"github.com/urlredirector/urlredirector/internal/engine"
	"github.com/urlredirector/urlredirector/internal/feed"
	"github.com/urlredirector/urlredirector/internal/log"
	"github.com/urlredirector/urlredirector/internal/statistics"
	"github.com/urlredirector/urlredirector/internal/storage"
)

// app wires the engine to the configured storage, feeds and enforcer.
type app struct {
	cfg    *config.Config
	local  *storage.SQLiteTier
	engine *engine.Engine
	stats  *statistics.RedirectRecordList
}

func newApp(cfg *config.Config) (*app, error) {
	if cfg.Resolve.MatchTimeout > 0 {
		regexp2.DefaultMatchTimeout = cfg.Resolve.MatchTimeout
	}

	local, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	local.PollInterval = cfg.Storage.PollInterval

	st := storage.New(local, nil)
	if cfg.Storage.SyncDir != "" {
		sync, err := storage.NewFileTier(cfg.Storage.SyncDir)
		if err != nil {
			_ = local.Close()
			return nil, err
		}
		st.Sync = sync
	}

	fetcher := feed.NewFetcher()
	fetcher.Timeout = cfg.Feed.Timeout
	fetcher.UserAgent = cfg.Feed.UserAgent
	fetcher.MaxBodySize = cfg.Feed.MaxBodySize

	a := &app{cfg: cfg, local: local}
	opts := engine.Options{
		CacheSize: cfg.Resolve.CacheSize,
		CacheTTL:  cfg.Resolve.CacheTTL,
	}
	if cfg.Enforcer.Output != "" {
		opts.Enforcer = dnr.NewFileEnforcer(cfg.Enforcer.Output)
	}
	if cfg.Stats.Enable {
		a.stats = statistics.NewRedirectRecordList(log.GetStatsFilePath("redirect_stats"))
		opts.Stats = a.stats
	}
	a.engine = engine.New(st, feed.NewRefresher(fetcher, cfg.Feed.Concurrency), opts)
	return a, nil
}

func (a *app) Close() error {
	return a.local.Close()
}

// loadApp builds the app for a one-shot command and loads the stored rules.
// Logs go to stderr. Without enforce the installed rules are left alone.
func loadApp(cmd *cobra.Command, enforce bool) (*app, error) {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	log.SetCLILogConf(cfg.LogLevel)
	if !enforce {
		cfg.Enforcer.Output = ""
	}

	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.engine.Load(contextOf(cmd)); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
