package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/airfi/airfi-portal/internal/api"
	"github.com/airfi/airfi-portal/internal/auth"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var showQR bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the portal API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if showQR {
				fmt.Printf("\n  Scan to open the portal: %s\n\n", cfg.Server.PublicURL)
				qrterminal.GenerateHalfBlock(cfg.Server.PublicURL, qrterminal.L, os.Stdout)
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "print the public portal URL as a QR code")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	keyPair, err := auth.LoadOrGenerateKeyPair(cfg.Auth.KeysDir)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	tokens := auth.NewJWTService(keyPair, cfg.Auth.Issuer)

	if cfg.Auth.OperatorPasswordHash == "" {
		logger.Warn("auth.operator_password_hash is empty; operator login is disabled")
	}
	operators := auth.NewOperatorLogin(cfg.Auth.OperatorUsername, cfg.Auth.OperatorPasswordHash, tokens, cfg.Auth.OperatorTokenTTL)

	if cfg.Payments.CallbackSecret == "" {
		logger.Warn("payments.callback_secret is empty; payment callbacks will be rejected")
	}

	handler := api.NewHandler(a.controller, a.admin, a.db, tokens, operators, cfg.Payments.CallbackSecret, logger.Named("api"))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, cfg.Server.CORSOrigins, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.Sweep.Enabled {
		g.Go(func() error { return a.sweeper.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
