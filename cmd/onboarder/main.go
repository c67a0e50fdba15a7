// Package main запускает HTTP-сервер консоли онбординга Hive.
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

	"github.com/mmeshcher/hive-onboarder/internal/auth"
	"github.com/mmeshcher/hive-onboarder/internal/backend"
	"github.com/mmeshcher/hive-onboarder/internal/config"
	"github.com/mmeshcher/hive-onboarder/internal/handler"
	"github.com/mmeshcher/hive-onboarder/internal/hive"
	"github.com/mmeshcher/hive-onboarder/internal/membership"
	"github.com/mmeshcher/hive-onboarder/internal/middleware"
	"github.com/mmeshcher/hive-onboarder/internal/model"
	"github.com/mmeshcher/hive-onboarder/internal/onboarding"
	"github.com/mmeshcher/hive-onboarder/internal/registry"
	"github.com/mmeshcher/hive-onboarder/internal/repository"
	"github.com/mmeshcher/hive-onboarder/internal/service"
	"github.com/mmeshcher/hive-onboarder/internal/signer"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	amount, err := model.NewAmount(cfg.TransferAmount, cfg.TransferCurrency)
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	backendClient := backend.NewClient(cfg.BackendURL, logger.Named("backend"))
	registryClient := registry.NewClient(cfg.RegistryURL, logger.Named("registry"))
	hiveClient := hive.NewClient(cfg.HiveRPCURL, logger.Named("hive"))

	bridge := signer.NewBridge(logger.Named("signer"))

	authManager := auth.NewManager(backendClient, bridge, repo, logger.Named("auth"))
	resolver := membership.NewResolver(registryClient, backendClient, logger.Named("membership"))
	sequencer := onboarding.NewSequencer(bridge, backendClient, hiveClient, repo, onboarding.Settings{
		TransferTo:   cfg.TransferTo,
		Amount:       amount,
		CommunityTag: cfg.CommunityTag,
	}, logger.Named("onboarding"))

	svc := service.NewService(repo, backendClient, authManager, resolver, sequencer, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.SecretKey)
	if cfg.SecretKey == "" {
		sugar.Warn("SECRET_KEY is not set, operator cookies will not survive a restart")
	}

	h := handler.NewHandler(svc, logger, authMiddleware, bridge)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Досылка записей, не сохранённых в бэкенде после перевода или комментария
	g.Go(func() error {
		svc.StartReconciliation(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting onboarding console", "addr", cfg.RunAddress, "transfer_to", cfg.TransferTo, "amount", amount.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Соединения кошельков перехвачены у сервера, Shutdown их не ждёт.
		bridge.Close()

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
