// Command streamrouterd is the process entry point: it loads a config
// file, starts one process-wide Router, and blocks until SIGINT/SIGTERM.
// The shutdown path mirrors a common daemon pattern: cancel a context,
// then bound the cleanup wait so a stuck worker can't hang the process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"

	streamrouter "github.com/lrtsys/streamrouter"
	"github.com/lrtsys/streamrouter/internal/config"
	"github.com/lrtsys/streamrouter/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a router config YAML file (defaults built in if omitted)")
		appImage   = flag.String("app-image", "", "path to a compiled application plugin image to load at start-up")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// reg is deliberately not served by this process; an external REST
	// layer scrapes it by registering the same Collector into its own
	// HTTP registry.
	reg := prometheus.NewRegistry()
	obs := streamrouter.NewCollector(reg)

	// The shared-memory IPC fabric is an externally supplied black box;
	// MockIPC stands in here so the daemon is runnable stand-alone for
	// local smoke testing of the control plane.
	ipc := streamrouter.NewMockIPC()

	router := streamrouter.NewRouter(cfg, ipc, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := router.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	if *appImage != "" {
		image, err := os.ReadFile(*appImage)
		if err != nil {
			logger.Error("failed to read app image", "path", *appImage, "error", err)
		} else if id, err := router.LoadApp(ctx, streamrouter.LoadAppRequest{
			Image:     image,
			Name:      *appImage,
			QueueSize: 64,
		}); err != nil {
			logger.Error("failed to load app image", "path", *appImage, "error", err)
		} else {
			logger.Info("loaded application", "id", id, "image", *appImage)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := router.Stop(stopCtx); err != nil {
		logger.Error("error stopping router", "error", err)
		os.Exit(1)
	}
	logger.Info("router stopped cleanly")
}
