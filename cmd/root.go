package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/urlredirector/urlredirector/internal/api"
	"github.com/urlredirector/urlredirector/internal/config"
	"github.com/urlredirector/urlredirector/internal/log"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "urlredirector",
	Short: "urlredirector resolves URLs through redirect rules",
	Long:  "urlredirector keeps a store of URL redirect rules and online rule feeds, resolves URLs through them, and installs the declarative rule set derived from them.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")
	rootCmd.Flags().IntP("port", "p", 0, "API port")

	// Long flags
	rootCmd.PersistentFlags().String("storage", "", "Storage database path")
	rootCmd.PersistentFlags().String("sync-dir", "", "Synchronized storage directory")
	rootCmd.PersistentFlags().String("enforcer-output", "", "Installed declarative rules file")
	rootCmd.Flags().Bool("api", false, "Enable the API server")
	rootCmd.Flags().String("bind", "", "API bind address")
	rootCmd.Flags().String("secret", "", "API secret")
	rootCmd.Flags().Bool("stats", false, "Record redirect statistics")

	// Bind all flags to viper using consistent key names
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("storage.sync-dir", rootCmd.PersistentFlags().Lookup("sync-dir"))
	_ = viper.BindPFlag("enforcer.output", rootCmd.PersistentFlags().Lookup("enforcer-output"))
	_ = viper.BindPFlag("api.enable", rootCmd.Flags().Lookup("api"))
	_ = viper.BindPFlag("api.bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("api.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("api.secret", rootCmd.Flags().Lookup("secret"))
	_ = viper.BindPFlag("stats.enable", rootCmd.Flags().Lookup("stats"))

	// Bind environment variables
	viper.SetEnvPrefix("URLREDIRECTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(resolveCmd, compileCmd, refreshCmd, snapshotCmd, normalizeCmd, checkCmd)
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}

	config.SetDefaults(viper.GetViper())
}

func runRoot(cmd *cobra.Command, args []string) error {
	// Handle -v / --version
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("urlredirector version %s\n", AppVersion)
		return nil
	}

	// Handle -g / --generate-config
	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Println("Template config file 'config.yaml' generated successfully.")
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log.SetLogConf(cfg.LogLevel, cfg.LogFile)
	log.LogHeader(AppVersion, cfg)

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("newApp", slog.Any("error", err))
		return err
	}
	addShutdown("app.Close", a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("cancel", func() error {
		cancel()
		return nil
	})

	if err := a.engine.Load(ctx); err != nil {
		slog.Error("engine.Load", slog.Any("error", err))
		shutdown()
		return err
	}
	if a.stats != nil {
		a.stats.Run(ctx.Done())
	}
	go func() {
		if err := a.engine.Watch(ctx); err != nil {
			slog.Error("engine.Watch", slog.Any("error", err))
		}
	}()
	go a.engine.Schedule(ctx)

	if cfg.API.Enable {
		srv := api.New(AppVersion, cfg, a.engine, log.Logs)
		addShutdown("srv.Close", srv.Close)
		if err := srv.Start(); err != nil {
			slog.Error("srv.Start", slog.Any("error", err))
			shutdown()
			return err
		}
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
			if err := a.engine.Load(ctx); err != nil {
				slog.Error("engine.Load", slog.Any("error", err))
			}
		default:
			return nil
		}
	}
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("urlredirector exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
