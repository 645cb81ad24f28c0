package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kashuab/leasekeeper/internal/async"
	"github.com/Kashuab/leasekeeper/internal/config"
	"github.com/Kashuab/leasekeeper/internal/coordinator"
	"github.com/Kashuab/leasekeeper/internal/engine"
	"github.com/Kashuab/leasekeeper/internal/identity"
	"github.com/Kashuab/leasekeeper/internal/metrics"
	"github.com/Kashuab/leasekeeper/internal/partitions"
)

var (
	cfgFile     string
	leaseFile   string
	hostFlag    string
	verbose     bool
	dumpMetrics bool
	eng         *engine.Engine
	cancel      context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "leasekeeper",
	Short: "Coordinate partition leases between hosts",
	Long: `leasekeeper hands out time-bounded leases on partitions so that each
partition is processed by one host at a time. Leases live in a shared store
(NATS JetStream KV or Firestore) and are acquired, renewed, released and
updated by host identity.

The memory backend starts empty on every invocation, so it is only useful
for trying out a single command; use nats or firestore to keep leases
between runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip engine init for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		v := viper.New()
		config.SetDefaults(v)
		v.SetEnvPrefix("LEASEKEEPER")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else if envCfg := os.Getenv("LEASEKEEPER_CONFIG"); envCfg != "" {
			v.SetConfigFile(envCfg)
		} else {
			v.SetConfigName("leasekeeper")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
			home, _ := os.UserHomeDir()
			if home != "" {
				v.AddConfigPath(home + "/.config/leasekeeper")
			}
		}

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, cancelFn := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout)
		cancel = cancelFn
		cmd.SetContext(ctx)

		store, err := newLeaseStore(ctx, cfg.Backend)
		if err != nil {
			return fmt.Errorf("failed to create lease store: %w", err)
		}

		host := resolveHost(cfg)
		m := metrics.New()
		c, err := coordinator.New(store, coordinator.Options{
			Host:          host,
			LeaseDuration: cfg.LeaseDuration(),
			RenewInterval: cfg.RenewInterval(),
			Partitions:    partitions.Static(cfg.Partitions),
			Clock:         clock.WallClock,
			Logger:        logger,
			Metrics:       m,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		logger.Debug("coordinator ready", "host", host, "backend", cfg.Backend.Type,
			"lease_duration_ms", cfg.LeaseDurationMs(), "renew_interval_ms", cfg.RenewIntervalMs())

		// Resolve lease file path
		lf := leaseFile
		if lf == "" {
			if envLF := os.Getenv("LEASEKEEPER_LEASE_FILE"); envLF != "" {
				lf = envLF
			} else {
				lf = ".leasekeeper"
			}
		}

		eng = &engine.Engine{
			Cfg:         cfg,
			Coordinator: coordinator.NewAsync(c, async.NewExecutor(cfg.Executor.MaxInFlight)),
			Store:       store,
			Metrics:     m,
			Clock:       clock.WallClock,
			LeaseFile:   lf,
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cancel != nil {
			defer cancel()
		}
		if eng == nil {
			return nil
		}
		if dumpMetrics {
			if err := eng.Metrics.WriteText(os.Stderr); err != nil {
				return err
			}
		}
		return eng.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./leasekeeper.yaml)")
	rootCmd.PersistentFlags().StringVar(&leaseFile, "lease-file", "", "lease file path (default: .leasekeeper)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "host identity (default: from config or environment)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log coordinator activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print operation metrics to stderr on exit")
}

func resolveHost(cfg *config.Config) string {
	switch {
	case hostFlag != "":
		return hostFlag
	case cfg.Host != "":
		return cfg.Host
	default:
		return identity.Resolve()
	}
}
