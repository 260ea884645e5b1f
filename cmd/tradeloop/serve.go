package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	cronrunner "tradeloop/internal/cron"
	"tradeloop/internal/db"
	"tradeloop/internal/handler"
	"tradeloop/internal/service"
	"tradeloop/internal/tracing"

	_ "tradeloop/docs"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface and the session scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
}

func serve(opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, cfg.App.Name)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.CORS())
	r.Use(handler.RequestLog(logger.Named("http")))
	r.Use(handler.RequireBearer(cfg.Server.AuthToken))

	checks := map[string]handler.Check{
		"db": func(ctx context.Context) error { return db.Ping(ctx, a.db) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Client.Ping(ctx).Err() }
	}
	(&handler.HealthHandler{Checks: checks}).Register(r)
	handler.RegisterDocs(r)
	(&handler.StrategyHandler{Strategies: a.strategies}).Register(r)
	(&handler.SessionHandler{
		Sessions:    a.sessions,
		Ticker:      a.orchestrator,
		Repo:        a.store,
		ExposeStack: !cfg.App.IsProduction(),
		Logger:      logger.Named("http"),
	}).Register(r)
	(&handler.AccountHandler{Repo: a.store, ReconcileTol: cfg.Engine.ReconcileTol}).Register(r)
	(&handler.SettingsHandler{Settings: a.settings}).Register(r)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if a.stream != nil {
		go func() {
			if err := a.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mids stream stopped", zap.Error(err))
			}
		}()
	}

	runner := cronrunner.New(logger.Named("cron"), ctx)
	if cfg.Scheduler.Enabled {
		scheduler := &service.Scheduler{
			Repo:          a.store,
			Ticker:        a.orchestrator,
			Flags:         a.settings,
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
			Logger:        logger.Named("scheduler"),
		}
		if _, err := runner.Add(cfg.Scheduler.Spec, func(ctx context.Context) {
			stats, err := scheduler.RunOnce(ctx)
			if err != nil {
				logger.Warn("scheduler pass failed", zap.Error(err))
				return
			}
			if stats.Due > 0 {
				logger.Debug("scheduler pass",
					zap.Int("due", stats.Due),
					zap.Int("ticked", stats.Ticked),
					zap.Int("skipped", stats.Skipped),
					zap.Int("failed", stats.Failed),
				)
			}
		}); err != nil {
			return err
		}
	}
	runner.Start()
	defer runner.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
