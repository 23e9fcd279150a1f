package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/plexsphere/myfw/internal/agent"
	"github.com/plexsphere/myfw/internal/ctlapi"
	"github.com/plexsphere/myfw/internal/filter"
	"github.com/plexsphere/myfw/internal/hook"
)

// drainTimeout is the maximum time for graceful shutdown.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the myfw daemon",
	Long: "Run the packet filter daemon. Installs the nftables hook that queues\n" +
		"IPv4 traffic to the filter, answers each queued packet, and serves the\n" +
		"control socket used by the other commands. Requires CAP_NET_ADMIN.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Parse config.
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("myfw serve: %w", err)
	}

	// 2. Set up structured logger.
	logger := setupLogger(cfg.LogLevel)

	logger.Info("starting myfw",
		"version", buildVersion,
		"hook", cfg.Hook.Enabled,
		"socket", cfg.ControlAPI.SocketPath,
	)

	// 3. Create the filter and restore the persisted rules.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f, err := filter.New(cfg.Filter, reg, logger)
	if err != nil {
		return fmt.Errorf("myfw serve: %w", err)
	}
	if cfg.Filter.Persist {
		if _, err := f.LoadSnapshot(cfg.DataDir); err != nil {
			return fmt.Errorf("myfw serve: %w", err)
		}
		cfg.ControlAPI.SnapshotDir = cfg.DataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup
	fatal := make(chan error, 2)

	// 4. Start the queue reader, then divert traffic to it.
	var stats ctlapi.StatsSource
	var nft *hook.NftablesController
	if cfg.Hook.Enabled {
		queue := hook.NewQueue(cfg.Hook, f, logger)
		stats = queue

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queue.Run(ctx); err != nil {
				fatal <- err
			}
		}()

		nft = hook.NewNftablesController(cfg.Hook, logger)
		if err := nft.Install(); err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("myfw serve: %w", err)
		}

		reconciler := hook.NewReconciler(nft, cfg.Hook, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reconciler.Run(ctx)
		}()
	}

	// 5. Start the control API server.
	srv := ctlapi.NewServer(cfg.ControlAPI, f, stats, reg, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatal <- err
		}
	}()

	// Wait for a shutdown signal or a failed component.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", ctx.Err())
	case runErr = <-fatal:
		logger.Error("component failed, shutting down", "error", runErr)
	}
	stop()

	// Stop diverting traffic before the reader goes away.
	if nft != nil {
		if err := nft.Remove(); err != nil {
			logger.Error("failed to remove nftables hook", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	if cfg.Filter.Persist {
		if err := f.SaveSnapshot(cfg.DataDir); err != nil {
			logger.Error("failed to save rule snapshot", "error", err)
		}
	}

	logger.Info("myfw stopped")
	if runErr != nil {
		return fmt.Errorf("myfw serve: %w", runErr)
	}
	return nil
}

// loadConfig reads the config file and applies CLI flag overrides. A missing
// file at the default path yields the built-in defaults.
func loadConfig(cmd *cobra.Command) (*agent.AgentConfig, error) {
	cfg, err := agent.ParseConfig(cfgFile)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = agent.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if socketPath != "" {
		cfg.ControlAPI.SocketPath = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
