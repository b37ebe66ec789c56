package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/download-orchestrator/internal/api/http"
	cfgpkg "github.com/veranemoloko/download-orchestrator/internal/config"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/notify"
	"github.com/veranemoloko/download-orchestrator/internal/probe"
	repo "github.com/veranemoloko/download-orchestrator/internal/repository"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
	svc "github.com/veranemoloko/download-orchestrator/internal/service"
	"github.com/veranemoloko/download-orchestrator/internal/storage"
	"github.com/veranemoloko/download-orchestrator/internal/validation"
	"github.com/veranemoloko/download-orchestrator/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration file not found", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "store", cfg.StoreDriver)

	taskRepo, closeRepo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize task repository", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	servers, _ := cfg.Servers()
	directory := probe.StaticDirectory(servers)

	bus := events.NewBus(cfg.EventBuffer, cfg.EventWorkers, logger.With("component", "bus"))
	jobs := scheduler.New(bus, logger.With("component", "scheduler"))

	downloads := storage.NewFileStorage(cfg.DownloadDir)
	destinations := storage.NewFileStorage(cfg.DestinationDir)

	commands := svc.NewDownloadCommands(
		taskRepo,
		jobs,
		downloads,
		bus,
		validation.NewURLValidator(cfg.AllowPrivateURLs),
		svc.CommandsConfig{Concurrency: cfg.CommandConcurrency, StopTimeout: cfg.StopTimeout},
		logger.With("component", "commands"),
	)
	merges := svc.NewFileMergeScheduler(taskRepo, jobs, commands, logger.With("component", "merge"))
	pipeline := svc.NewCompletionPipeline(merges, commands, bus, logger.With("component", "pipeline"))
	queue := svc.NewDownloadQueue(taskRepo, jobs, commands, bus, logger.With("component", "queue"))
	serverService := svc.NewServerService(jobs, directory, logger.With("component", "servers"))

	downloadWorker := worker.NewDownloadWorker(taskRepo, commands, downloads, bus, cfg.DownloadTimeout, logger.With("component", "download_worker"))
	mergeWorker := worker.NewMergeWorker(downloads, destinations, bus, logger.With("component", "merge_worker"))

	prober := probe.NewProber(probe.Config{
		Attempts:  cfg.ProbeAttempts,
		BaseDelay: cfg.ProbeBaseDelay,
		MaxDelay:  cfg.ProbeMaxDelay,
	}, probe.NewHTTPPinger(cfg.ProbeTimeout, cfg.PlexToken), logger.With("component", "probe"))

	jobs.Register(scheduler.KindDownload, downloadWorker, scheduler.PoolConfig{
		Workers:   cfg.DownloadWorkers,
		QueueSize: cfg.JobQueueSize,
		Rate:      cfg.DownloadRate,
		Burst:     cfg.DownloadBurst,
		OnFinish:  downloadWorker.OnFinish,
	})
	jobs.Register(scheduler.KindMerge, mergeWorker, scheduler.PoolConfig{
		Workers:   cfg.MergeWorkers,
		QueueSize: cfg.JobQueueSize,
		OnFinish:  mergeWorker.OnFinish,
	})
	jobs.Register(scheduler.KindInspect, probe.NewInspectServerExecutor(prober, directory, bus, logger), scheduler.PoolConfig{
		Workers:   cfg.InspectWorkers,
		QueueSize: cfg.JobQueueSize,
	})
	jobs.Register(scheduler.KindRefreshAccount, probe.NewRefreshAccountExecutor(prober, directory, bus, logger), scheduler.PoolConfig{
		Workers:   1,
		QueueSize: cfg.JobQueueSize,
	})

	pipeline.Subscribe(bus)
	queue.Subscribe(bus)

	forwarder := notify.NewForwarder(logger.With("component", "notify"), openSinks(cfg, logger)...)
	forwarder.Subscribe(bus)
	defer func() {
		if err := forwarder.Close(); err != nil {
			logger.Warn("failed to close notification sinks", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := queue.Recover(ctx); err != nil {
		logger.Error("failed to recover pending tasks", "error", err)
	}
	go queue.Sweep(ctx, cfg.QueueSweepInterval)

	router := h.NewRouter(commands, serverService, logger.With("component", "http"))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	// jobs first, their completion events still need a running bus
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
	if err := bus.Shutdown(shutdownCtx); err != nil {
		logger.Error("event bus shutdown failed", "error", err)
	}
}

func openRepository(cfg *cfgpkg.Config, logger *slog.Logger) (repo.TaskRepo, func(), error) {
	switch cfg.StoreDriver {
	case cfgpkg.StoreMySQL:
		store, err := repo.OpenGormTaskStore(cfg.MySQLDSN, logger.With("component", "store"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
		}, nil
	default:
		store, err := repo.NewTaskStorage(cfg.StateFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// openSinks connects the optional notification transports. A transport that
// cannot be reached is logged and left out.
func openSinks(cfg *cfgpkg.Config, logger *slog.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.AMQPURL != "" {
		sink, err := notify.DialAMQP(cfg.AMQPURL)
		if err != nil {
			logger.Warn("rabbitmq notifications disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.RedisAddr != "" {
		client, err := notify.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis notifications disabled", "error", err)
		} else {
			sinks = append(sinks, notify.NewRedisSink(client, cfg.RedisPrefix, cfg.RedisProbeTTL))
		}
	}
	return sinks
}
