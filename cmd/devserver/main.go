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

	"go.uber.org/zap"

	"gaspos/client/internal/config"
	"gaspos/client/internal/httpapi"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/service"
	"gaspos/client/internal/store"
	"gaspos/client/internal/store/memory"
	pgstore "gaspos/client/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		log.Info("repository: postgres")
	} else {
		repo = memory.New()
		log.Info("repository: in-memory")
	}

	broker := httpapi.NewBroker(httpapi.WithBrokerLogger(log))
	svc := service.New(repo, broker, log)
	if created, err := svc.EnsureAdmin(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPass); err != nil {
		log.Fatal("seed admin account", zap.Error(err))
	} else if !created {
		log.Info("admin account present", zap.String("email", cfg.SeedAdminEmail))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, svc)
	api := httpapi.New(svc, auth, broker, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		LegacyShape:   cfg.LegacyShape,
		Logger:        log,
	})

	// No WriteTimeout: the sales event stream holds its response open.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gaspos dev server listening", zap.String("addr", cfg.Address()), zap.Bool("legacy_shape", cfg.LegacyShape))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	if err := repo.Close(); err != nil {
		log.Warn("close repository", zap.Error(err))
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.ServerConfig) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.SeedAdminPass) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be set and at least 8 characters")
	}
	if weakPasswords[cfg.SeedAdminPass] {
		return fmt.Errorf("SEED_ADMIN_PASSWORD is too common")
	}
	return nil
}

var weakPasswords = map[string]bool{
	"password": true, "12345678": true, "admin123": true, "administrator": true,
	"gaspos123": true, "qwertyui": true, "changeme": true,
}
