package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gaspos/client/internal/domain"
)

type recordingSink struct {
	mu    sync.Mutex
	added []domain.Notification
	polls int
}

func (r *recordingSink) AddNotification(_ context.Context, n domain.Notification) domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, n)
	return n
}

func (r *recordingSink) PollUnreadCount(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func TestReconnectBackoffIsLinearAndCapped(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	base := 3 * time.Second
	stream := New(Config{URL: srv.URL, BaseDelay: base, MaxAttempts: 5}, &recordingSink{},
		WithSleep(sleeper.sleep), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, stream.Run(context.Background()))

	assert.Equal(t, int32(5), dials.Load(), "no sixth attempt")
	assert.Equal(t, []time.Duration{base, 2 * base, 3 * base, 4 * base}, sleeper.delays)
}

func TestSuccessfulConnectionResetsBackoff(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Dials 1, 2 and 4 fail; 3 connects and then ends.
		switch dials.Add(1) {
		case 3:
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	stream := New(Config{URL: srv.URL, BaseDelay: time.Second, MaxAttempts: 3}, nil, WithSleep(sleeper.sleep))
	require.NoError(t, stream.Run(context.Background()))

	assert.Equal(t, int32(5), dials.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}, sleeper.delays)
}

func TestOpenStreamWithoutConnectedEventCountsAsFailure(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	stream := New(Config{URL: srv.URL, BaseDelay: time.Second, MaxAttempts: 3}, nil, WithSleep(sleeper.sleep))
	require.NoError(t, stream.Run(context.Background()))

	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestNewSaleEventsReachTheSink(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"type\":\"something_else\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"new_sale\",\"saleId\":42,\"productName\":\"LPG 12kg\",\"quantity\":2,"+
			"\"totalPrice\":370000,\"currency\":\"IDR\",\"sellerName\":\"Rina\",\"branchName\":\"Depok\","+
			"\"createdAt\":\"2024-05-01 10:20:30\"}\r\n\r\n")
	}))
	defer srv.Close()

	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	stream := New(Config{URL: srv.URL, MaxAttempts: 1}, sink,
		WithTokenSource(func() string { return "tok" }),
		WithNotifier(notifier),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	require.NoError(t, stream.Run(context.Background()))

	assert.Equal(t, "Bearer tok", auth.Load())
	require.Len(t, sink.added, 1)
	n := sink.added[0]
	assert.Equal(t, "42", n.SaleID)
	assert.Equal(t, domain.NotificationTypeNewSale, n.Type)
	assert.Equal(t, "Rina sold 2 x LPG 12kg for IDR 370000 at Depok", n.Message)
	assert.Equal(t, "2024-05-01T10:20:30Z", n.CreatedAt)
	assert.False(t, n.Read)
	assert.Equal(t, 1, sink.polls)
	assert.Equal(t, []string{"New sale"}, notifier.titles)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := New(Config{URL: srv.URL}, nil, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	assert.ErrorIs(t, stream.Run(ctx), context.Canceled)
}

func TestSaleNotificationDefaults(t *testing.T) {
	n := SaleNotification(domain.SaleEvent{Type: domain.EventNewSale, ProductName: "LPG 3kg", Quantity: 1, TotalPrice: decimal.NewFromInt(20000)})
	assert.Equal(t, "A seller sold 1 x LPG 3kg for 20000", n.Message)
	assert.NotEmpty(t, n.CreatedAt)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{URL: "http://x"}, nil)
	assert.Equal(t, DefaultBaseDelay, s.cfg.BaseDelay)
	assert.Equal(t, DefaultMaxAttempts, s.cfg.MaxAttempts)
}
