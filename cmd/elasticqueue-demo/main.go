// Command elasticqueue-demo runs a standalone elastic-queue process: it
// opens the holding area and shared KV store, starts the cleaner and
// heartbeat workers, optionally serves the read-only status API, and
// writes a handful of demo events to a couple of routes so the on-disk
// layout and status output can be inspected.
//
// Usage:
//
//	./elasticqueue-demo
//
//	# Custom store root and status port
//	QUEUE_STORE_PATH=/var/lib/elasticqueue QUEUE_STATUS_PORT=8090 ./elasticqueue-demo
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"elasticqueue/internal/config"
	"elasticqueue/internal/lifecycle"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/statusapi"
)

func main() {
	cfg := config.Load()
	log := logger.New("MAIN", cfg.LogLevel)

	printBanner(cfg)

	instanceID := instanceID()
	sys, err := lifecycle.New(cfg, instanceID, log)
	if err != nil {
		log.Fatalf("startup", "failed to start elastic-queue system: %v", err)
	}
	defer sys.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StatusPort != 0 {
		srv := statusapi.New(sys.Area, sys.Registry, sys.Metrics, log)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.StatusPort); err != nil {
				log.Errorf("statusapi", "status server exited: %v", err)
			}
		}()
	}

	seedDemoEvents(sys)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infof("shutdown", "received shutdown signal, draining…")
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func seedDemoEvents(sys *lifecycle.System) {
	orders := sys.Registry.GetOrCreate("orders")
	for i := 0; i < 3; i++ {
		orders.Write([]byte(fmt.Sprintf("order-event-%d", i))) //nolint:errcheck
	}

	refunds := sys.Registry.GetOrCreate("refunds")
	refunds.Write([]byte("refund-event-0")) //nolint:errcheck
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║             Elastic Queue  (Go)                       ║
╚══════════════════════════════════════════════════════╝
  Store path       : %s
  Running in cloud : %v
  Heartbeat every  : %s
  Stale after      : %s
  Status port      : %d

  Check status:
    curl http://localhost:%d/status
`, cfg.StorePath, cfg.RunningInCloud, cfg.HeartbeatInterval, cfg.StaleAfter, cfg.StatusPort, cfg.StatusPort)
}
