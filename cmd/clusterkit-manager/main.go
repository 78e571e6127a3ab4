package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clusterkit/internal/buildinfo"
	"clusterkit/internal/cluster"
	"clusterkit/internal/clusterkitcfg"
	"clusterkit/internal/clusterkitlog"
	"clusterkit/internal/clustermanager"
	"clusterkit/internal/controlapi"
	"clusterkit/internal/events"
	"clusterkit/internal/ipc"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := clusterkitlog.Configure(clusterkitlog.LevelInfo, "manager"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var socketPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "clusterkit-manager",
		Short:   "Runs a ClusterManager: spawns clusters, partitions shards, and serves the control API",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := clusterkitlog.LevelInfo
			if debug {
				level = clusterkitlog.LevelDebug
			}
			return clusterkitlog.Configure(level, "manager")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, socketPath)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&socketPath, "socket", controlapi.DefaultSocketPath(), "Control API Unix socket path")
	return cmd
}

func run(ctx context.Context, socketPath string) error {
	cfg, err := clusterkitcfg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config at %s: %w", clusterkitcfg.Path(), err)
	}

	mgrCfg := clustermanager.Config{
		Mode:           ipc.Mode(cfg.Mode),
		File:           cfg.File,
		Token:          cfg.Token,
		TotalShards:    cfg.TotalShards,
		TotalClusters:  cfg.TotalClusters,
		SpawnQueueMode: cluster.QueueMode(cfg.SpawnQueueMode),
		SpawnDelay:     time.Duration(cfg.SpawnDelayMS) * time.Millisecond,
		SpawnTimeout:   30 * time.Second,
		Respawn:        cfg.Respawn,
		Env:            cfg.Env,
	}
	if cfg.KeepAlive != nil {
		mgrCfg.KeepAlive = &clustermanager.KeepAliveConfig{
			Interval:            cfg.KeepAlive.Interval(),
			MaxMissedHeartbeats: cfg.KeepAlive.MaxMissedHeartbeats,
			MaxClusterRestarts:  cfg.KeepAlive.MaxClusterRestarts,
		}
	}
	mgr, err := clustermanager.New(mgrCfg, nil)
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}

	sub, unsub := mgr.On(events.ClusterDebug)
	defer unsub()
	go func() {
		for payload := range sub {
			slog.Info("cluster debug", "detail", payload)
		}
	}()
	errSub, errUnsub := mgr.On(events.Error)
	defer errUnsub()
	go func() {
		for payload := range errSub {
			slog.Error("cluster error", "err", payload)
		}
	}()

	if err := mgr.Spawn(ctx); err != nil {
		return fmt.Errorf("spawn clusters: %w", err)
	}

	srv := controlapi.NewServer(socketPath, clustermanager.ControlBackend{Manager: mgr})
	slog.Info("control API listening", "socket", socketPath)
	return srv.ListenAndServe(ctx)
}

