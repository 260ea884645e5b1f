package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tradeloop/internal/broker"
	"tradeloop/internal/client/venue"
	"tradeloop/internal/config"
	"tradeloop/internal/db"
	"tradeloop/internal/engine"
	"tradeloop/internal/filters"
	"tradeloop/internal/lease"
	"tradeloop/internal/marketdata"
	"tradeloop/internal/metrics"
	"tradeloop/internal/reasoning"
	gormrepository "tradeloop/internal/repository/gorm"
	"tradeloop/internal/risk"
	"tradeloop/internal/service"
)

// app holds the wired dependency graph shared by every command.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db       *db.DB
	store    *gormrepository.Store
	settings *service.SystemSettingsService

	venue    *venue.Client
	stream   *venue.MidsStream
	market   *marketdata.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	redis    *lease.RedisLocker

	orchestrator *engine.Orchestrator
	sessions     *service.SessionService
	strategies   *service.StrategyService
}

func openDB(cfg config.Config, logger *zap.Logger) (*db.DB, error) {
	conn, err := db.Open(cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return conn, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	conn, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(conn); err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: conn}
	a.store = gormrepository.New(conn.Gorm)
	a.settings = &service.SystemSettingsService{Repo: a.store}
	if err := a.settings.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.venue = venue.NewClient(&http.Client{Timeout: cfg.MarketData.Timeout}, cfg.MarketData.BaseURL)
	if cfg.MarketData.StreamEnabled && a.settings.IsEnabled(ctx, service.FeatureMidsStream, true) {
		a.stream = venue.NewMidsStream(venue.MidsStreamOptions{URL: cfg.MarketData.StreamURL, Logger: logger.Named("mids")})
	}
	a.market = &marketdata.Client{
		Venue:        a.venue,
		Stream:       a.stream,
		StreamMaxAge: cfg.MarketData.StreamMaxAge,
		Logger:       logger.Named("marketdata"),
	}

	reasoner := reasoning.New(cfg.Reasoning, logger.Named("reasoning"))
	reasoner.OnRetry = a.metrics.IncReasoningRetry

	ledger := &broker.Ledger{Repo: a.store, Policy: broker.DefaultClosePolicy()}
	exchangeClient := venue.NewClient(&http.Client{Timeout: cfg.Exchange.Timeout}, cfg.Exchange.BaseURL)
	creds := &service.CredentialStore{Prefix: cfg.Exchange.CredentialsPrefix}
	router := &broker.Router{
		Sim: &broker.SimBroker{Market: a.market, Ledger: ledger, Logger: logger.Named("sim")},
		Live: &broker.ExchangeBroker{
			Venue:       exchangeClient,
			Assets:      &venue.Assets{Client: exchangeClient},
			Credentials: creds,
			Switches:    a.settings,
			Ledger:      ledger,
			Config:      cfg.Exchange,
			Logger:      logger.Named("exchange"),
		},
	}

	var locker lease.Locker = lease.NewMemoryLocker()
	if cfg.Redis.Enabled {
		a.redis = lease.NewRedisLocker(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix)
		locker = a.redis
	}

	defaults := filters.Defaults{MinConfidence: cfg.Risk.DefaultMinConfidence}
	a.orchestrator = &engine.Orchestrator{
		Repo:     a.store,
		Market:   a.market,
		Reasoner: reasoner,
		Risk:     &risk.Pipeline{Config: cfg.Risk, Repo: a.store, Logger: logger.Named("risk")},
		Broker:   router,
		Locker:   locker,
		Equity:   &service.VenueEquity{Client: exchangeClient, Credentials: creds},
		Config:   cfg.Engine,
		Defaults: defaults,
		Metrics:  a.metrics,
		Logger:   logger.Named("engine"),
	}
	a.sessions = &service.SessionService{
		Repo:   a.store,
		Engine: cfg.Engine,
		Venue:  cfg.Exchange.Venue,
		Logger: logger.Named("sessions"),
	}
	a.strategies = &service.StrategyService{Repo: a.store, Defaults: defaults}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := db.Close(a.db); err != nil {
		a.logger.Warn("db close failed", zap.Error(err))
	}
}
