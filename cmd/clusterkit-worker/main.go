// Command clusterkit-worker is the cluster child entrypoint: it reads its
// bootstrap parameters from the environment (spec.md §6.1), signals
// readiness to the manager, and answers eval/fetchProp requests against a
// small example application context until the manager kills it or the
// process receives a termination signal.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"clusterkit/internal/buildinfo"
	"clusterkit/internal/clusterclient"
	"clusterkit/internal/clusterkitlog"
	"clusterkit/internal/events"
	"clusterkit/internal/ipc"
	"clusterkit/internal/scripthost"
)

// appContext is the embedded application state exposed to eval/fetchProp
// requests via dotted-path lookups (spec.md §4.8, §8 fetchClientValue).
type appContext struct {
	Cluster clusterIdentity `json:"cluster"`
}

type clusterIdentity struct {
	ID int `json:"id"`
}

func main() {
	if err := clusterkitlog.Configure(clusterkitlog.LevelInfo, "worker"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	slog.Info("clusterkit-worker starting", "version", buildinfo.Version)

	if err := run(); err != nil {
		slog.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := clusterclient.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := ipc.NewStdioTransport()
	if err := transport.Spawn(ctx); err != nil {
		return err
	}

	// Dotted-path lookups walk map[string]any, so the struct is passed in
	// its JSON-decoded form.
	raw, err := json.Marshal(&appContext{Cluster: clusterIdentity{ID: cfg.ClusterID}})
	if err != nil {
		return err
	}
	var app map[string]any
	if err := json.Unmarshal(raw, &app); err != nil {
		return err
	}
	host := scripthost.NewWhitelistHost()
	host.Register("ping", func(ctx context.Context, context any) (any, error) {
		return "pong", nil
	})

	client := clusterclient.New(cfg, transport, host, app)
	log := clusterkitlog.ClusterLogger(cfg.ClusterID)

	debugSub, unsub := client.On(events.ClusterDebug)
	defer unsub()
	go func() {
		for payload := range debugSub {
			log.Debug("heartbeat watchdog", "detail", payload)
		}
	}()

	if err := client.SignalReady(ctx); err != nil {
		return err
	}
	log.Info("cluster ready", "shards", cfg.ShardList)

	select {
	case <-ctx.Done():
		return client.SignalDisconnect(context.Background())
	case info := <-transport.Exits():
		if info.Err != nil {
			return info.Err
		}
		return nil
	}
}
