package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drydock-dev/drydock/internal/build"
	"github.com/drydock-dev/drydock/internal/config"
	"github.com/drydock-dev/drydock/internal/container"
	"github.com/drydock-dev/drydock/internal/deploy"
	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/events"
	"github.com/drydock-dev/drydock/internal/health"
	"github.com/drydock-dev/drydock/internal/metrics"
	"github.com/drydock-dev/drydock/internal/pipeline"
	"github.com/drydock-dev/drydock/internal/remote"
	"github.com/drydock-dev/drydock/internal/scan"
	"github.com/drydock-dev/drydock/internal/source"
	"github.com/drydock-dev/drydock/internal/store"
	"github.com/drydock-dev/drydock/internal/store/postgres"
	"github.com/drydock-dev/drydock/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("drydock", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	request := pipeline.Request{
		RepoURL:    config.GetString("REPO_URL", ""),
		Host:       config.GetString("TARGET_HOST", ""),
		Workload:   config.GetString("WORKLOAD_NAME", ""),
		Port:       config.GetInt("WORKLOAD_PORT", 0),
		HealthPath: config.GetString("HEALTH_PATH", "/health"),
		Strategy:   config.GetString("DEPLOY_STRATEGY", "rolling"),
		ScanPolicy: cfg.ScanPolicy,
	}

	var executor remote.Executor
	if cfg.SSHKeyPath != "" {
		sshExec, err := remote.NewSSHExecutor(cfg.SSHUser, cfg.SSHKeyPath, cfg.SSHPort, log)
		if err != nil {
			log.Error("ssh executor init failed", "error", err)
			os.Exit(1)
		}
		defer sshExec.Close()
		executor = sshExec
	} else {
		log.Info("no ssh key configured, using local executor")
		executor = remote.NewLocalExecutor()
	}

	dockerClient, err := build.NewClient(cfg.DockerHost)
	if err != nil {
		log.Error("docker client init failed", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	workspace, err := source.NewWorkspace(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		os.Exit(1)
	}

	var sink events.Sink = events.NoopSink{}
	if cfg.RedisAddr != "" {
		redisSink, err := events.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Error("redis sink init failed", "error", err)
			os.Exit(1)
		}
		sink = redisSink
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(ctx, cfg.DatabaseURL, log); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = postgres.New(pool)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	metricsSrv := serveMetrics(cfg.MetricsAddr, registry, log)
	defer shutdownMetrics(metricsSrv, log)

	checker := health.NewChecker(health.Options{}, log)
	monitor := health.NewMonitor(cfg.PassRateThreshold, log)
	controller := container.New(executor, log)
	deployer := deploy.New(executor, controller, checker, monitor, deploy.Options{
		WarmUp:         cfg.WarmUp,
		HealthDuration: cfg.HealthDuration,
		HealthInterval: cfg.HealthInterval,
	}, log, m)

	orchestrator := pipeline.New(
		source.NewCloner(workspace, cfg.GitTimeout, log),
		scan.NewTrivyScanner(remote.NewLocalExecutor(), "", log),
		scan.NewRuleGate(),
		build.NewBuilder(dockerClient, cfg.BuildTimeout, log),
		deployer,
		sink,
		st,
		m,
		log,
		pipeline.Options{
			Registry:     cfg.Registry,
			EventChannel: cfg.EventChannel,
			ScanPolicy:   cfg.ScanPolicy,
		},
	)

	run := orchestrator.Run(ctx, request)
	if run.Phase != domain.PhaseSucceeded {
		log.Error("pipeline failed", "run_id", run.ID, "failed_phase", run.FailedPhase, "error", run.Error, "rollback_performed", run.RollbackPerformed)
		os.Exit(1)
	}
	log.Info("pipeline succeeded", "run_id", run.ID, "image", run.Image, "duration", run.Duration)
}

func serveMetrics(addr string, registry *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server, log *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown failed", "error", err)
	}
}
