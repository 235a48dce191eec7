package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/closure"
	"github.com/Ghostrayu/xahpayroll-sub003/config"
	"github.com/Ghostrayu/xahpayroll-sub003/handshake"
	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/reconciler"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/server"
	service_registry "github.com/Ghostrayu/xahpayroll-sub003/srvreg"
	"github.com/Ghostrayu/xahpayroll-sub003/timesheet"
	"github.com/Ghostrayu/xahpayroll-sub003/workflows"
	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"go.temporal.io/sdk/worker"
)

var (
	configPath string
	httpPort   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a TOML config file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
}

func main() {
	// Load Config
	flag.Parse()

	config, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if httpPort != "" {
		config.HTTP.Port = httpPort
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(config.Log.Level, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Connect Postgresql DB
	repo, err := repository.Connect(config.Database.DSN, config.Database.ConnectAttempts, logger)
	if err != nil {
		log.Fatalf("Connecting database: %v", err)
	}
	defer repo.Close()
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating database: %v", err)
	}
	if config.Database.Seed {
		err := repo.Seed(context.Background(),
			config.Database.SeedOrgName, config.Database.SeedOrgWallet,
			config.Database.SeedWorkerName, config.Database.SeedWorkerWallet)
		if err != nil {
			log.Fatalf("Seeding database: %v", err)
		}
	}

	// Initialize Badger journal
	j, err := journal.Open(config.Journal.Path, logger)
	if err != nil {
		log.Fatalf("Opening journal: %v", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Error("Closing journal", "err", err)
		}
	}()

	ledgerClient := ledger.NewRPCClient(config.Ledger.RPCURL, config.Ledger.Timeout)
	notifier := notify.NewDispatcher(notify.NewDBSink(repo), logger)

	reconcilerService := reconciler.NewService(repo, ledgerClient, j, notifier, logger, reconciler.Config{
		StuckClosureAfter: config.Reconciler.StuckClosureAfter,
		BatchSize:         config.Reconciler.BatchSize,
	}, nil)
	services := service_registry.Services{
		Timesheet:  timesheet.NewService(repo, logger, nil),
		Closure:    closure.NewService(repo, ledgerClient, j, notifier, logger, nil),
		Handshake:  handshake.NewService(repo, notifier, logger, nil),
		Reconciler: reconcilerService,
		Journal:    j,
	}

	// Optional Temporal worker for operator-started reconciliation
	var temporalWorker worker.Worker
	if config.Temporal.Enabled {
		temporalClient, err := workflows.Dial(config.Temporal.HostPort, config.Temporal.Namespace, logger)
		if err != nil {
			log.Fatalf("Connecting Temporal: %v", err)
		}
		defer temporalClient.Close()

		temporalWorker = workflows.NewWorker(temporalClient, config.Temporal.TaskQueue, &workflows.Activities{Reconciler: reconcilerService})
		if err := temporalWorker.Start(); err != nil {
			log.Fatalf("Starting Temporal worker: %v", err)
		}
		defer temporalWorker.Stop()
		services.Starter = &workflows.Starter{Client: temporalClient, TaskQueue: config.Temporal.TaskQueue}
		logger.Info("Temporal worker started", "task_queue", config.Temporal.TaskQueue)
	}

	// Initialize Service Registry
	serviceRegistry := service_registry.NewServiceRegistry(services, logger)

	// Start Web Server
	webserver := server.NewWebServer(config.HTTP.Port, logger, serviceRegistry, repo)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	// Create deadline to wait for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown the web server
	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}
