// Package main starts the HTTP server of the feiramais core.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feiramais/feiramais-core/internal/catalog"
	"github.com/feiramais/feiramais-core/internal/config"
	"github.com/feiramais/feiramais-core/internal/handler"
	"github.com/feiramais/feiramais-core/internal/middleware"
	"github.com/feiramais/feiramais-core/internal/repository"
	"github.com/feiramais/feiramais-core/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var catalogClient *catalog.Client
	if cfg.CatalogAddress != "" {
		catalogClient = catalog.NewClient(cfg.CatalogAddress)
	}

	svc := service.NewService(repo, catalogClient, logger, cfg.ShippingFeeCents, cfg.ReferralBonusPoints)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Background approval of referrals with a confirmed purchase
	g.Go(func() error {
		svc.StartReferralApprovals(ctx, time.Duration(cfg.ReferralWorkerSecs)*time.Second)
		return nil
	})

	// HTTP server
	g.Go(func() error {
		sugar.Infow("starting feiramais server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on context cancellation (signal or error elsewhere)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
