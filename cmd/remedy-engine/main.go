package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remedystack/remedy-engine/internal/api"
	"github.com/remedystack/remedy-engine/internal/approval"
	"github.com/remedystack/remedy-engine/internal/audit"
	"github.com/remedystack/remedy-engine/internal/cache"
	"github.com/remedystack/remedy-engine/internal/config"
	"github.com/remedystack/remedy-engine/internal/diagnose"
	"github.com/remedystack/remedy-engine/internal/executor"
	"github.com/remedystack/remedy-engine/internal/metrics"
	"github.com/remedystack/remedy-engine/internal/notify"
	"github.com/remedystack/remedy-engine/internal/orchestrator"
	"github.com/remedystack/remedy-engine/internal/policy"
	"github.com/remedystack/remedy-engine/internal/service"
	"github.com/remedystack/remedy-engine/internal/store"
	"github.com/remedystack/remedy-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting remedy-engine",
		slog.String("address", cfg.Server.Address),
		slog.String("mode", string(cfg.Policy.Mode)),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.OpenBadger(store.BadgerConfig{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
		Logger:   utils.ComponentLogger(logger, "store"),
	})
	if err != nil {
		logger.Error("failed to open record store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	var deduper *cache.Deduper
	if cfg.Dedupe.Enabled && cfg.Dedupe.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Dedupe.Addr,
			Username:     cfg.Dedupe.Username,
			Password:     cfg.Dedupe.Password,
			DB:           cfg.Dedupe.DB,
			DialTimeout:  cfg.Dedupe.DialTimeout,
			ReadTimeout:  cfg.Dedupe.ReadTimeout,
			WriteTimeout: cfg.Dedupe.WriteTimeout,
			MaxRetries:   cfg.Dedupe.MaxRetries,
			TLS:          cfg.Dedupe.TLS,
		})
		if err != nil {
			logger.Warn("dedupe cache unavailable, continuing without dedupe", slog.Any("error", err))
		} else {
			defer provider.Close()
			deduper = cache.NewDeduper(utils.ComponentLogger(logger, "dedupe"), provider, cfg.Dedupe.Window)
		}
	}

	killSwitch := executor.NewKillSwitch(utils.ComponentLogger(logger, "killswitch"))

	runner, sshRunner, err := buildRunner(logger, cfg.Executor)
	if err != nil {
		logger.Error("failed to build target runner", slog.Any("error", err))
		os.Exit(1)
	}
	if sshRunner != nil {
		defer sshRunner.Close()
	}

	exec := executor.NewExecutor(utils.ComponentLogger(logger, "executor"), runner, killSwitch, cfg.Executor.Timeout)
	pol := policy.NewEngine(utils.ComponentLogger(logger, "policy"), killSwitch, cfg.Policy.Mode, cfg.Policy.ConfidenceThreshold)
	gateway := approval.NewGateway(utils.ComponentLogger(logger, "approval"), st)
	recorder := audit.NewRecorder(utils.ComponentLogger(logger, "audit"), st)

	notifier := buildNotifier(logger, cfg.Notify)

	orch := orchestrator.New(
		utils.ComponentLogger(logger, "orchestrator"),
		st,
		diagnose.NewRouter(utils.ComponentLogger(logger, "diagnose")),
		pol, gateway, exec, recorder, notifier,
		orchestrator.Config{
			Approvers:        cfg.Policy.Approvers,
			RequiredCount:    cfg.Policy.RequiredApprovals,
			ApprovalDeadline: cfg.Policy.ApprovalDeadline,
			MaxRetries:       cfg.Executor.MaxRetries,
			RetryBackoff:     cfg.Executor.RetryBackoff,
			MaxConcurrent:    int64(cfg.Workers.PoolSize),
			DryRun:           cfg.Executor.DryRun,
		})

	controller := service.NewController(utils.ComponentLogger(logger, "service"), st, orch, pol, killSwitch, recorder, deduper)

	server := api.NewServer(cfg.Server, utils.ComponentLogger(logger, "api"), controller)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Resume(ctx); err != nil {
		logger.Error("failed to resume interrupted cases", slog.Any("error", err))
		os.Exit(1)
	}
	go orch.RunSweeper(ctx, cfg.Policy.SweepInterval)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Listen(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := server.Shutdown(); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Let in-flight pipelines write their final state before the store closes.
	orch.Wait()
	logger.Info("remedy-engine stopped")
}

// buildRunner selects the SSH runner when a key is configured and falls back
// to local execution otherwise. The second return value carries the SSH pool
// for shutdown.
func buildRunner(logger *slog.Logger, cfg config.ExecutorConfig) (executor.TargetRunner, *executor.SSHRunner, error) {
	if cfg.SSH.PrivateKeyPath == "" {
		logger.Warn("no ssh key configured, executing commands locally")
		return executor.NewLocalRunner(), nil, nil
	}

	key, err := os.ReadFile(cfg.SSH.PrivateKeyPath)
	if err != nil {
		return nil, nil, err
	}
	sshRunner, err := executor.NewSSHRunner(utils.ComponentLogger(logger, "ssh"), executor.SSHRunnerConfig{
		User:           cfg.SSH.User,
		PrivateKey:     key,
		DefaultPort:    cfg.SSH.Port,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return sshRunner, sshRunner, nil
}

func buildNotifier(logger *slog.Logger, cfg config.NotifyConfig) notify.Notifier {
	log := notify.NewLogNotifier(utils.ComponentLogger(logger, "notify"))
	if cfg.WebhookURL == "" {
		return log
	}
	webhook := notify.NewWebhookNotifier(cfg.WebhookURL, nil, cfg.Timeout)
	return notify.NewFanout(logger, log, webhook)
}
