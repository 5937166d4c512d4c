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
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-remediation/internal/analysis"
	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/config"
	"github.com/miradorstack/mirador-remediation/internal/correlation"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/governance"
	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/ingest"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/postmortem"
	"github.com/miradorstack/mirador-remediation/internal/recommend"
	"github.com/miradorstack/mirador-remediation/internal/repo"
	"github.com/miradorstack/mirador-remediation/internal/services"
	"github.com/miradorstack/mirador-remediation/internal/store"
	"github.com/miradorstack/mirador-remediation/internal/telemetry"
	"github.com/miradorstack/mirador-remediation/internal/utils"
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
	slog.SetDefault(logger)
	logger.Info("starting mirador-remediation",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("dry_run", cfg.Governance.DryRun),
		slog.Bool("auto_pilot", cfg.Governance.AutoPilot))

	if err := run(cfg, logger); err != nil {
		logger.Error("mirador-remediation exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("mirador-remediation stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	st, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close", slog.Any("error", err))
		}
	}()

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	// Without Valkey the poller watermark is kept in Badger.
	var checkpoint cache.Provider = cacheProvider
	if bs, ok := st.(*store.BadgerStore); ok {
		checkpoint = bs.Meta()
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			KeyPrefix:    cfg.Cache.KeyPrefix,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			PoolSize:     cfg.Cache.PoolSize,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
			checkpoint = provider
		}
	}
	defer cacheProvider.Close()

	g, err := graph.LoadFile(cfg.Graph.Path)
	if err != nil {
		return err
	}
	nodes, edges := g.Size()
	logger.Info("dependency graph loaded", slog.String("path", cfg.Graph.Path), slog.Int("services", nodes), slog.Int("dependencies", edges))

	recommender, err := recommend.NewEngineFromFile(cfg.Playbooks.Path, logger)
	if err != nil {
		return err
	}

	exec := executor.New(executor.Config{
		DryRun:         cfg.Governance.DryRun,
		CommandTimeout: cfg.Governance.CommandTimeout,
		WebhookTimeout: cfg.Governance.WebhookTimeout,
		KubectlBinary:  cfg.Governance.KubectlBinary,
		SSHBinary:      cfg.Governance.SSHBinary,
	}, executor.NewAuditLog(cfg.Governance.AuditLogPath), logger)
	if cfg.ApprovalToken() == "" {
		logger.Warn("approval token not set; every governed execution will be a dry run",
			slog.String("env", cfg.Governance.ApprovalTokenEnv))
	}

	var postMortems *postmortem.Writer
	if cfg.Governance.PostMortemDir != "" {
		postMortems = postmortem.NewWriter(cfg.Governance.PostMortemDir, logger)
	}

	gov, err := services.NewGovernanceService(logger, services.Dependencies{
		Store:       st,
		Graph:       g,
		Correlator:  correlation.NewEngine(logger, g, nil),
		Analyzer:    buildAnalyzer(cfg, cacheProvider, logger),
		Recommender: recommender,
		Approvals:   governance.NewManager(st, cfg.Governance.AutoPilot, logger),
		Executor:    executor.NewSafeExecutor(exec, cfg.Governance.ApprovalTokenEnv, logger),
		PostMortems: postMortems,
		Window:      cfg.Correlation.Window,
		MinEvents:   cfg.Correlation.MinEvents,
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(cfg.Server, logger, services.NewRemediationService(logger, gov))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		return server.Start()
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil
	})

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/api/alerts/webhook", services.AlertWebhookHandler(gov, logger))
		httpServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
		}
		group.Go(func() error {
			logger.Info("http server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("http server shutdown", slog.Any("error", err))
			}
			return nil
		})
	}

	if cfg.Playbooks.Watch && cfg.Playbooks.Path != "" {
		watcher := recommend.NewWatcher(recommender, cfg.Playbooks.Path, logger)
		group.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("playbook hot reload disabled", slog.Any("error", err))
			}
			return nil
		})
	}

	if cfg.Loki.URL != "" {
		client := repo.NewLokiClient(cfg.Loki.URL, cfg.Loki.TenantID, cfg.Loki.Timeout)
		if err := client.Ready(ctx); err != nil {
			logger.Warn("loki not ready yet; poller will keep retrying", slog.Any("error", err))
		}
		poller := ingest.NewPoller(client, st, g, checkpoint, ingest.PollerConfig{
			Query:    cfg.Loki.Query,
			Interval: cfg.Loki.PollInterval,
			Limit:    cfg.Loki.Limit,
		}, logger)
		if cfg.Correlation.AutoCorrelate {
			poller.OnBatch = gov.HandleBatch
		}
		group.Go(func() error { return poller.Run(ctx) })
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver == config.StorageBadger {
		bs, err := store.OpenBadger(store.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			GCInterval: cfg.GCInterval,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
	return store.NewMemoryStore(), nil
}

func buildAnalyzer(cfg *config.Config, provider cache.Provider, logger *slog.Logger) analysis.Analyzer {
	var analyzer analysis.Analyzer = analysis.Heuristic{}
	if cfg.Analyzer.APIKey != "" {
		model, err := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
			APIKey:      cfg.Analyzer.APIKey,
			BaseURL:     cfg.Analyzer.BaseURL,
			Model:       cfg.Analyzer.Model,
			Temperature: cfg.Analyzer.Temperature,
			MaxTokens:   cfg.Analyzer.MaxTokens,
			Timeout:     cfg.Analyzer.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("model analyzer disabled", slog.Any("error", err))
		} else {
			analyzer = &analysis.Fallback{Primary: model, Secondary: analysis.Heuristic{}, Logger: logger}
		}
	} else {
		logger.Info("no analyzer api key configured; using heuristic analysis")
	}
	return analysis.NewCached(analyzer, provider, cfg.Cache.AnalysisTTL)
}
