package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiter-hq/arbiter/internal/alerts"
	"github.com/arbiter-hq/arbiter/internal/api"
	"github.com/arbiter-hq/arbiter/internal/audit"
	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/config"
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/notify"
	"github.com/arbiter-hq/arbiter/internal/orchestrator"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/registry"
	"github.com/arbiter-hq/arbiter/internal/router"
	"github.com/arbiter-hq/arbiter/internal/security"
	"github.com/arbiter-hq/arbiter/internal/store"
	"github.com/arbiter-hq/arbiter/internal/store/sqlitestore"
	"github.com/arbiter-hq/arbiter/internal/verdict"
	"github.com/arbiter-hq/arbiter/internal/worker"
)

// runServe builds every C1-C7 component from the loaded config, wires the
// transport and ambient layers around them, and blocks until an interrupt,
// SIGTERM, or a component's own shutdown signal. It returns the process
// exit code rather than calling os.Exit so deferred cleanup always runs.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "arbiter.yaml", "path to the YAML config file")
	fs.Parse(args)

	logger := log.New(os.Stderr, "[arbiterd] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return exitFailure
	}

	bus := events.NewBus()

	durable, err := sqlitestore.Open(cfg.Server.DBPath)
	if err != nil {
		logger.Printf("store: open %s: %v", cfg.Server.DBPath, err)
		return exitFailure
	}
	defer durable.Close()

	sink := newBusDegradationSink(bus)
	clk := clock.Real{}
	resilient := store.New(durable, cfg.ToStoreConfig(), clk, sink, logger)
	resilient.StartHealthProber(context.Background())
	defer resilient.StopHealthProber()

	reg := registry.New(resilient, bus, clk, logger)
	q := queue.New(cfg.ToQueueConfig(), clk, bus)
	rtr := router.New(cfg.ToRouterWeights())
	vg := verdict.New(cfg.ToVerdictConfig(), clk)
	orch := orchestrator.New(cfg.ToOrchestratorConfig(), q, reg, rtr, vg, bus, clk)

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	orch.StartTimeoutSweeper(sweeperCtx)
	defer sweeperCancel()

	verifier := security.NewStaticVerifier(cfg.ToIdentities())
	gate := security.New(verifier, bus, cfg.ToSecurityConfig())

	natsURL := cfg.Server.NATSURL
	var embedded *worker.EmbeddedServer
	if cfg.Server.EmbedNATS {
		embedded, err = worker.NewEmbeddedServer(worker.EmbeddedServerConfig{Port: cfg.Server.NATSPort}, logger)
		if err != nil {
			logger.Printf("worker: embedded nats server: %v", err)
			return exitFailure
		}
		if err := embedded.Start(); err != nil {
			logger.Printf("worker: embedded nats server start: %v", err)
			return exitFailure
		}
		defer embedded.Shutdown()
		natsURL = embedded.URL()
	}

	workerClient, err := worker.NewClient(natsURL, logger)
	if err != nil {
		logger.Printf("worker: connect %s: %v", natsURL, err)
		return exitFailure
	}
	defer workerClient.Close()

	endpoint := worker.NewEndpoint(workerClient, orch, bus, logger)
	endpointCtx, endpointCancel := context.WithCancel(context.Background())
	if err := endpoint.Start(endpointCtx); err != nil {
		logger.Printf("worker: endpoint start: %v", err)
		endpointCancel()
		return exitFailure
	}
	defer func() {
		endpoint.Stop()
		endpointCancel()
	}()

	if cfg.Server.AuditDir != "" {
		auditSink := audit.New(cfg.Server.AuditDir, cfg.ToAuditConfig(), logger)
		auditSink.Start(bus)
		defer auditSink.Stop()
	}

	if interval := cfg.AlertsCheckInterval(); interval > 0 {
		checker := alerts.New(cfg.ToAlertsConfig(), bus, clk)
		alertsCtx, alertsCancel := context.WithCancel(context.Background())
		go runAlertsSweep(alertsCtx, interval, checker, q, reg, logger)
		defer alertsCancel()
	}

	notifyRouter := notify.NewRouter(logger)
	notifyRouter.AddChannel(notify.NewLogChannel(logger))
	notifyRouter.AddChannel(notify.NewToastChannel("arbiter", "http://"+cfg.Server.HTTPAddr))
	notifyRouter.AddChannel(notify.NewBannerChannel())
	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	notifyRouter.Subscribe(notifyCtx, bus, events.TopicSystem, events.TopicSecurity)
	defer notifyCancel()

	apiServer := api.NewServer(api.Deps{
		Store:        resilient,
		Queue:        q,
		Registry:     reg,
		Orchestrator: orch,
		Gate:         gate,
		Bus:          bus,
	}, cfg.Server.HTTPAddr, logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- apiServer.Start() }()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	mgr, mgrErr := config.NewManager(*configPath, logger)
	if mgrErr != nil {
		logger.Printf("config: hot-reload manager unavailable: %v", mgrErr)
	}

	logger.Printf("serving on %s (nats=%s)", cfg.Server.HTTPAddr, natsURL)

	for {
		select {
		case err := <-serverErr:
			if err != nil {
				logger.Printf("api server: %v", err)
				return exitFailure
			}
			// Start returns nil once it is listening; keep serving.
			serverErr = nil
		case <-shutdown:
			logger.Printf("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(ctx); err != nil {
				logger.Printf("api server: shutdown: %v", err)
				return exitFailure
			}
			return exitOK
		case <-reload:
			if mgr == nil {
				logger.Printf("config: reload requested but no manager available")
				continue
			}
			if err := mgr.Reload(orch, gate); err != nil {
				logger.Printf("config: reload: %v", err)
				continue
			}
			logger.Printf("config: reloaded from %s", *configPath)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arbiterd <serve|validate-spec|status|drain> [flags]")
}
