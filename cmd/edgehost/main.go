// Command edgehost is the process entrypoint: it loads internal/config,
// joins a matrix.Cluster over etcd, registers the edge session echo
// service (service/example) with the Host, and serves the operational
// counters endpoint (adapter.NewCountersRouter) alongside it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/govoltron/matrix"
	"go.uber.org/zap"

	edgehost "github.com/relaycore/edgehost"
	"github.com/relaycore/edgehost/adapter"
	"github.com/relaycore/edgehost/internal/config"
	"github.com/relaycore/edgehost/service/example"
)

func main() {
	cfg := config.MustLoad()

	log, err := config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := example.New()
	if err := ex.Init(ctx); err != nil {
		log.Fatal("edge session service init failed", zap.Error(err))
	}

	kvs, err := matrix.NewEtcdStore(ctx, cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("etcd store init failed", zap.Error(err), zap.Strings("endpoints", cfg.EtcdEndpoints))
	}
	cluster, err := matrix.NewCluster(ctx, cfg.ClusterName, kvs)
	if err != nil {
		log.Fatal("cluster join failed", zap.Error(err), zap.String("cluster", cfg.ClusterName))
	}

	host := edgehost.New(ctx, edgehost.WithLogger(log), edgehost.WithEventQueueSize(cfg.EventQueueSize))
	host.Join(cluster)
	host.Setup(ex, "edge session echo service wiring reactor and bus")

	metrics := &adapter.HTTPServer{Router: adapter.NewCountersRouter(ex.Counters)}
	metrics.AsyncStart(ctx, cfg.MetricsAddr)
	log.Info("counters endpoint listening", zap.String("addr", cfg.MetricsAddr))

	if err := host.Run(ctx); err != nil {
		log.Error("host run exited with error", zap.Error(err))
	}

	metrics.Shutdown()
	if err := metrics.Wait(); err != nil {
		log.Warn("counters endpoint stop", zap.Error(err))
	}
}
