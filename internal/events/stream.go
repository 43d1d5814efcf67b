// Package events consumes the server's sale event stream and feeds new sales
// into the notification store.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
)

const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxAttempts = 5

	dataPrefix    = "data: "
	maxLineLength = 1 << 20
)

var errStreamClosed = errors.New("event stream closed by server")

type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
}

// Sink receives notifications built from sale events.
type Sink interface {
	AddNotification(ctx context.Context, n domain.Notification) domain.Notification
	PollUnreadCount(ctx context.Context) error
}

// Notifier shows a device-level notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier stands in for a device notification service by logging.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, title, body string) error {
	logger.OrNop(n.Logger).Info("notification", zap.String("title", title), zap.String("body", body))
	return nil
}

type Option func(*Stream)

func WithHTTPClient(hc *http.Client) Option { return func(s *Stream) { s.client = hc } }

func WithTokenSource(fn func() string) Option { return func(s *Stream) { s.token = fn } }

func WithNotifier(n Notifier) Option { return func(s *Stream) { s.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Stream) { s.logger = logger.OrNop(l) } }

// WithSleep replaces the wait between reconnects.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Stream) { s.sleep = fn }
}

type Stream struct {
	cfg      Config
	sink     Sink
	client   *http.Client
	token    func() string
	notifier Notifier
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sink Sink, opts ...Option) *Stream {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	s := &Stream{
		cfg:    cfg,
		sink:   sink,
		client: &http.Client{},
		token:  func() string { return "" },
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	s.logger = s.logger.Named("events")
	return s
}

// Run keeps the stream connected until ctx is done or MaxAttempts
// consecutive connections fail. After the k-th consecutive failure it waits
// BaseDelay*k before dialing again; a connection that delivers the
// "connected" event resets k.
// Giving up is not an error: Run logs and returns nil.
func (s *Stream) Run(ctx context.Context) error {
	failures := 0
	for {
		connected, err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		if failures >= s.cfg.MaxAttempts {
			s.logger.Warn("event stream unavailable, giving up",
				zap.Int("attempts", failures), zap.Error(err))
			return nil
		}

		delay := s.cfg.BaseDelay * time.Duration(failures)
		s.logger.Info("event stream disconnected, reconnecting",
			zap.Int("attempt", failures), zap.Duration("delay", delay), zap.Error(err))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connect holds one connection open until it ends. It reports whether the
// server confirmed the subscription with a "connected" event.
func (s *Stream) connect(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token := s.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("dial event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream returned %s", resp.Status)
	}

	connected := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		if s.handle(ctx, payload) {
			connected = true
		}
	}
	if err := scanner.Err(); err != nil {
		return connected, fmt.Errorf("read event stream: %w", err)
	}
	return connected, errStreamClosed
}

// handle dispatches one event and reports whether it was the connected event.
func (s *Stream) handle(ctx context.Context, payload string) bool {
	var event domain.SaleEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("malformed event", zap.String("payload", payload), zap.Error(err))
		return false
	}

	switch event.Type {
	case domain.EventConnected:
		s.logger.Info("event stream connected")
		return true
	case domain.EventNewSale:
		s.onNewSale(ctx, event)
	default:
		s.logger.Debug("ignoring event", zap.String("type", event.Type))
	}
	return false
}

func (s *Stream) onNewSale(ctx context.Context, event domain.SaleEvent) {
	n := SaleNotification(event)
	if err := s.notifier.Notify(ctx, n.Title, n.Message); err != nil {
		s.logger.Warn("device notification failed", zap.Error(err))
	}
	if s.sink == nil {
		return
	}
	s.sink.AddNotification(ctx, n)
	if err := s.sink.PollUnreadCount(ctx); err != nil {
		s.logger.Warn("refresh unread count", zap.Error(err))
	}
}

// SaleNotification renders a new_sale event as an unread notification.
func SaleNotification(event domain.SaleEvent) domain.Notification {
	seller := event.SellerName
	if seller == "" {
		seller = "A seller"
	}
	msg := fmt.Sprintf("%s sold %d x %s for %s %s", seller, event.Quantity, event.ProductName,
		event.Currency, event.TotalPrice.String())
	if event.BranchName != "" {
		msg += " at " + event.BranchName
	}
	createdAt := domain.NormalizeTimestamp(event.CreatedAt)
	if createdAt == "" {
		createdAt = domain.Now()
	}
	return domain.Notification{
		Title:     "New sale",
		Message:   strings.Join(strings.Fields(msg), " "),
		Type:      domain.NotificationTypeNewSale,
		SaleID:    event.SaleID.String(),
		CreatedAt: createdAt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
