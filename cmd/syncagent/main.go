package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gaspos/client/internal/app"
	"gaspos/client/internal/config"
	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/events"
	"gaspos/client/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.ForEnvironment(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("sync agent stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("sync agent stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	device, err := devicestore.Open(openCtx, devicestore.Options{
		Driver:        cfg.StorageDriver,
		SQLitePath:    cfg.SQLitePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("open device storage: %w", err)
	}
	log.Info("device storage ready", zap.String("driver", cfg.StorageDriver))

	client := app.New(app.Options{
		Config:   cfg,
		Device:   device,
		Logger:   log,
		Notifier: events.LogNotifier{Logger: log},
	})
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("close device storage", zap.Error(err))
		}
	}()

	if err := client.Rehydrate(ctx); err != nil {
		log.Warn("rehydrate", zap.Error(err))
	}

	if err := signIn(ctx, client, cfg, log); err != nil {
		return err
	}

	if err := client.Resume(ctx); err != nil {
		log.Warn("resume refresh incomplete", zap.Error(err))
	}
	log.Info("caches ready",
		zap.Int("branches", len(client.Branches.Records())),
		zap.Int("products", len(client.Products.Records())),
		zap.Int("sales", len(client.Sales.Records())),
		zap.Int("pending", client.Pending()),
		zap.Int("unread", client.Notifications.UnreadCount()))

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// signIn keeps a restored, unexpired session and otherwise logs in with the
// configured credentials.
func signIn(ctx context.Context, client *app.App, cfg config.Config, log *zap.Logger) error {
	if client.Session.LoggedIn() && !client.Session.Expired() {
		user, _ := client.Session.User()
		log.Info("session restored", zap.String("user", user.ID))
		return nil
	}
	if cfg.LoginEmail == "" || cfg.LoginPassword == "" {
		return errors.New("no usable session: set LOGIN_EMAIL and LOGIN_PASSWORD")
	}

	user, offline, err := client.SignIn(ctx, cfg.LoginEmail, cfg.LoginPassword)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	log.Info("signed in", zap.String("user", user.ID), zap.String("role", user.Role), zap.Bool("offline", offline))
	return nil
}
