package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/admin"
	"github.com/airfi/airfi-portal/internal/config"
	"github.com/airfi/airfi-portal/internal/db"
	"github.com/airfi/airfi-portal/internal/router"
	"github.com/airfi/airfi-portal/internal/session"
)

// app holds the components shared by serve and sweep.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *db.DB
	gateway    router.Gateway
	controller *session.Controller
	sweeper    *session.Sweeper
	admin      *admin.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	for i := range cfg.Plans {
		if err := database.UpsertPlan(ctx, &cfg.Plans[i]); err != nil {
			database.Close()
			return nil, fmt.Errorf("seed plan %s: %w", cfg.Plans[i].ID, err)
		}
	}

	gateway, err := newGateway(cfg, logger.Named("router"))
	if err != nil {
		database.Close()
		return nil, err
	}

	enforcer := router.NewEnforcer(gateway, cfg.RouterCredentials(), cfg.Router.Timeout, logger.Named("enforcer"))
	controller := session.NewController(database, enforcer, logger.Named("controller"),
		session.WithRetryLimit(cfg.Sweep.RetryMaxAttempts))
	sweeper := session.NewSweeper(database, controller, cfg.Sweep.Interval, logger.Named("sweeper"))
	adminSvc := admin.NewService(database, controller, sweeper, time.Local, logger.Named("admin"))

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         database,
		gateway:    gateway,
		controller: controller,
		sweeper:    sweeper,
		admin:      adminSvc,
	}, nil
}

func newGateway(cfg *config.Config, logger *zap.Logger) (router.Gateway, error) {
	switch cfg.Router.Driver {
	case config.DriverHTTP:
		logger.Info("using http router driver", zap.String("base_url", cfg.Router.HTTP.BaseURL))
		return router.NewHTTPGateway(cfg.RouterHTTPConfig(), logger)
	case config.DriverOpenWrt:
		oc, err := cfg.RouterOpenNDSConfig()
		if err != nil {
			return nil, err
		}
		logger.Info("using openwrt router driver", zap.String("address", oc.Address))
		return router.NewOpenNDSGateway(oc, logger)
	default:
		logger.Warn("using in-memory router driver; no device is actually blocked")
		creds := cfg.RouterCredentials()
		return router.NewMemoryGateway(&creds), nil
	}
}

func (a *app) Close() error {
	return a.db.Close()
}
