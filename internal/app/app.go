// Package app owns one client instance: the gateway, the session, every
// entity store and the event stream. Nothing here is global, so several
// instances can run side by side.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gaspos/client/internal/config"
	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
	"gaspos/client/internal/events"
	"gaspos/client/internal/gateway"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/session"
	"gaspos/client/internal/syncstore"
)

type Options struct {
	Config     config.Config
	Device     devicestore.Store
	HTTPClient *http.Client
	Logger     *zap.Logger
	Notifier   events.Notifier
	// StreamSleep overrides the wait between event stream reconnects.
	StreamSleep func(ctx context.Context, d time.Duration) error
}

type App struct {
	cfg    config.Config
	device devicestore.Store
	logger *zap.Logger

	Client        *gateway.Client
	Session       *session.Manager
	Branches      *syncstore.Branches
	Products      *syncstore.Products
	Sales         *syncstore.Sales
	Users         *syncstore.Users
	Expenses      *syncstore.Expenses
	Notifications *syncstore.Notifications
	Stream        *events.Stream
}

// entityStore is what Rehydrate, Resume and SyncOffline need from each
// entity store.
type entityStore interface {
	StorageKey() string
	Rehydrate(ctx context.Context) error
	Refresh(ctx context.Context) error
	SyncOffline(ctx context.Context) syncstore.SyncReport
	ClearSynced(ctx context.Context) error
}

func New(opts Options) *App {
	log := logger.OrNop(opts.Logger)
	device := opts.Device
	if device == nil {
		device = devicestore.NewMemory()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	client := gateway.New(opts.Config.APIBaseURL,
		gateway.WithHTTPClient(httpClient),
		gateway.WithLogger(log))
	sess := session.NewManager(gateway.NewAuth(client), device, log)
	client.SetTokenSource(sess.Token)
	client.SetUnauthorizedHandler(sess.HandleUnauthorized)

	storeOpts := syncstore.Options{Device: device, Logger: log}
	a := &App{
		cfg:           opts.Config,
		device:        device,
		logger:        log.Named("app"),
		Client:        client,
		Session:       sess,
		Branches:      syncstore.NewBranches(gateway.Branches(client), storeOpts),
		Products:      syncstore.NewProducts(gateway.Products(client), storeOpts),
		Sales:         syncstore.NewSales(gateway.Sales(client), storeOpts),
		Users:         syncstore.NewUsers(gateway.Users(client), storeOpts),
		Expenses:      syncstore.NewExpenses(gateway.Expenses(client), storeOpts),
		Notifications: syncstore.NewNotifications(gateway.NewNotifications(client), storeOpts),
	}

	// The stream is long-lived, so it gets a client without the request timeout.
	streamClient := &http.Client{Transport: httpClient.Transport}
	streamOpts := []events.Option{
		events.WithHTTPClient(streamClient),
		events.WithTokenSource(sess.Token),
		events.WithLogger(log),
	}
	if opts.Notifier != nil {
		streamOpts = append(streamOpts, events.WithNotifier(opts.Notifier))
	}
	if opts.StreamSleep != nil {
		streamOpts = append(streamOpts, events.WithSleep(opts.StreamSleep))
	}
	a.Stream = events.New(events.Config{
		URL:         opts.Config.StreamURL(),
		BaseDelay:   opts.Config.StreamBaseDelay,
		MaxAttempts: opts.Config.StreamMaxAttempts,
	}, a.Notifications, streamOpts...)

	sess.OnLogout(a.clearStores)
	return a
}

func (a *App) entityStores() []entityStore {
	return []entityStore{a.Branches, a.Products, a.Sales, a.Users, a.Expenses}
}

// SignIn logs in against the server and falls back to the cached credential
// when the server cannot be reached. It reports whether the session is
// offline. A 4xx answer from the server is final.
func (a *App) SignIn(ctx context.Context, email, password string) (domain.User, bool, error) {
	user, err := a.Session.Login(ctx, email, password)
	if err == nil {
		return user, false, nil
	}
	var apiErr *gateway.APIError
	if errors.Is(err, session.ErrInvalidCredentials) || (errors.As(err, &apiErr) && apiErr.Status < 500) {
		return domain.User{}, false, err
	}

	a.logger.Warn("server unreachable, signing in offline", zap.Error(err))
	user, offlineErr := a.Session.OfflineLogin(ctx, email, password)
	if offlineErr != nil {
		return domain.User{}, false, errors.Join(err, offlineErr)
	}
	return user, true, nil
}

// Rehydrate restores the session and every store from device storage.
func (a *App) Rehydrate(ctx context.Context) error {
	var errs []error
	if _, err := a.Session.Restore(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, store := range a.entityStores() {
		if err := store.Rehydrate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Notifications.Rehydrate(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Resume pushes pending records and refreshes every store concurrently.
// Stores are independent: one failing does not stop the others, and all
// failures are returned together.
func (a *App) Resume(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, store := range a.entityStores() {
		g.Go(func() error {
			store.SyncOffline(ctx)
			collect(store.Refresh(ctx))
			return nil
		})
	}
	g.Go(func() error {
		collect(a.Notifications.FetchNotifications(ctx))
		collect(a.Notifications.PollUnreadCount(ctx))
		return nil
	})
	_ = g.Wait()
	return errors.Join(errs...)
}

// SyncOffline pushes pending records of every entity store, keyed by storage key.
func (a *App) SyncOffline(ctx context.Context) map[string]syncstore.SyncReport {
	reports := make(map[string]syncstore.SyncReport)
	for _, store := range a.entityStores() {
		reports[store.StorageKey()] = store.SyncOffline(ctx)
	}
	return reports
}

// Pending counts records still waiting for their first sync.
func (a *App) Pending() int {
	return a.Branches.PendingCount() + a.Products.PendingCount() + a.Sales.PendingCount() +
		a.Users.PendingCount() + a.Expenses.PendingCount()
}

// RunPoller refreshes the unread notification count until ctx is done.
func (a *App) RunPoller(ctx context.Context) error {
	interval := a.cfg.UnreadPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.Notifications.PollUnreadCount(ctx); err != nil && ctx.Err() == nil {
			a.logger.Debug("unread count poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run drives the background work of a signed-in client: the event stream
// and the unread poller. It returns when ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.RunPoller(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("unread poller: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// clearStores drops server data after logout. Records still waiting for
// their first sync stay cached and are pushed after the next sign-in.
func (a *App) clearStores(ctx context.Context) {
	for _, store := range a.entityStores() {
		if err := store.ClearSynced(ctx); err != nil {
			a.logger.Warn("clear store", zap.String("key", store.StorageKey()), zap.Error(err))
		}
	}
	if err := a.Notifications.Clear(ctx); err != nil {
		a.logger.Warn("clear notifications", zap.Error(err))
	}
}

func (a *App) Close() error {
	return a.device.Close()
}
