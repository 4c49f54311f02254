package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/onpardev/mymcp/api/config"
	"github.com/onpardev/mymcp/api/internal/api"
	"github.com/onpardev/mymcp/api/internal/database"
	"github.com/onpardev/mymcp/api/internal/services/admin"
	"github.com/onpardev/mymcp/api/internal/services/auth"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/onpardev/mymcp/api/internal/services/cleanup"
	"github.com/onpardev/mymcp/api/internal/services/k8s"
	"github.com/onpardev/mymcp/api/internal/services/orchestrator"
	"github.com/onpardev/mymcp/api/internal/services/provisioning"
	"github.com/onpardev/mymcp/api/internal/services/statussync"
	"github.com/onpardev/mymcp/api/internal/services/subscription"
	"github.com/onpardev/mymcp/api/internal/services/templates"
	"github.com/onpardev/mymcp/api/internal/services/usage"
	"github.com/onpardev/mymcp/api/migrations"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file (ignore error in production)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to read .env file", zap.Error(envErr))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("orchestrator", cfg.Orchestrator),
		zap.Duration("orchestrator_timeout", cfg.OrchestratorTimeout),
		zap.Duration("status_sync_interval", cfg.StatusSyncInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	var schema fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		schema = os.DirFS(cfg.MigrationsDir)
	}
	if err := db.Migrate(ctx, schema, logger); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	var k8sClient *k8s.Client
	if cfg.Orchestrator == config.OrchestratorKubernetes {
		k8sClient, err = k8s.NewClient()
		if err != nil {
			logger.Fatal("failed to initialize K8s client", zap.Error(err))
		}
		if err := k8sClient.Health(ctx); err != nil {
			logger.Fatal("K8s health check failed", zap.Error(err))
		}
		logger.Info("connected to Kubernetes API", zap.String("namespace", cfg.K8sNamespace))
	}

	catalogOpts := templates.LoadOptions{
		Path:          cfg.TemplateCatalogPath,
		Namespace:     cfg.K8sNamespace,
		ConfigMapName: cfg.K8sTemplateCatalog,
	}
	if k8sClient != nil {
		catalogOpts.ConfigMaps = k8sClient
	}
	catalog, err := templates.Load(ctx, catalogOpts)
	if err != nil {
		logger.Fatal("failed to load server-type catalog", zap.Error(err))
	}
	logger.Info("server-type catalog loaded", zap.Int("types", len(catalog.Keys())))

	orch := newOrchestrator(cfg, k8sClient, logger)

	hub := broadcast.NewHub(logger)
	tracker := usage.NewTracker(db, logger)
	subscriptions := subscription.NewService(db, logger)
	authService := auth.NewService(subscriptions, cfg, logger)
	if len(cfg.AdminEmails) > 0 {
		authService.PromoteAdmins(db, cfg.AdminEmails)
	}
	adminService := admin.NewService(db, logger)
	servers := provisioning.NewService(db, tracker, orch, catalog, hub, logger)

	var syncer *statussync.Syncer
	if cfg.StatusSyncInterval > 0 {
		syncer = statussync.NewSyncer(db, orch, hub, logger, cfg.StatusSyncInterval)
		syncer.Start(ctx)
	}

	var cleaner *cleanup.Service
	if cfg.CleanupInterval > 0 {
		cleaner = cleanup.NewService(db, orch, hub, cleanup.Config{
			Interval:        cfg.CleanupInterval,
			FailedRetention: cfg.FailedServerRetention,
			LogRetention:    cfg.RequestLogRetention,
		}, logger)
		cleaner.Start(ctx)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if !cfg.IsProduction() {
		r.Use(gin.Logger())
	}

	handlers := api.NewHandlers(cfg, api.Services{
		Auth:          authService,
		Servers:       servers,
		Subscriptions: subscriptions,
		Usage:         tracker,
		Admin:         adminService,
		Events:        hub,
		Database:      db,
	}, logger)
	handlers.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Close streams first so Shutdown does not wait on them
		hub.Close()
		if syncer != nil {
			syncer.Stop()
		}
		if cleaner != nil {
			cleaner.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if !cfg.IsProduction() {
		return zap.NewDevelopment()
	}
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "timestamp"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}

func newOrchestrator(cfg *config.Config, k8sClient *k8s.Client, logger *zap.Logger) orchestrator.Orchestrator {
	var orch orchestrator.Orchestrator
	switch cfg.Orchestrator {
	case config.OrchestratorKubernetes:
		orch = orchestrator.NewKubernetes(k8sClient, cfg.K8sNamespace)
	default:
		logger.Warn("using in-memory mock orchestrator; containers are not real")
		orch = orchestrator.NewMock()
	}

	if cfg.MCPProbeEnabled {
		orch = orchestrator.WithProbe(orch, orchestrator.MCPProber{}, logger)
	}

	return orchestrator.WithTimeout(orch, cfg.OrchestratorTimeout)
}
