package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/auth"
	"github.com/Shivanand-hulikatti/eventjoin/internal/config"
	"github.com/Shivanand-hulikatti/eventjoin/internal/handler"
	"github.com/Shivanand-hulikatti/eventjoin/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// ── 1. Open storage ───────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.ReconcileOnStart {
		fixed, err := store.ReconcileAcceptedCounts(ctx)
		if err != nil {
			return fmt.Errorf("reconcile accepted counts: %w", err)
		}
		logger.Info("accepted counts reconciled", zap.Int("events_fixed", fixed))
	}

	// ── 2. Credentials and tokens ─────────────────────────────────────────
	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
		logger.Warn("JWT_SECRET not set; tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.JWTIssuer, cfg.TokenTTL, nil)
	if err != nil {
		return err
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	authSvc := service.NewAuthService(store, hasher, logger)
	eventSvc := service.NewEventService(store, store, logger)
	joinSvc := service.NewJoinService(store, cfg.JoinTimeout, logger)
	rosterSvc := service.NewRosterService(store)

	router := handler.NewRouter(
		handler.NewAuthHandler(authSvc, tokens, logger),
		handler.NewEventHandler(eventSvc, joinSvc, rosterSvc, logger),
		tokens,
		logger,
	)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
