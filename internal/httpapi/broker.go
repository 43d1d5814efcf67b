package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
)

const (
	defaultKeepAlive     = 25 * time.Second
	streamMessageBuffer  = 32
	defaultMaxStreamSubs = 1000
)

type streamClient struct {
	id     string
	userID string
	ch     chan []byte
}

// Broker fans sale events out to connected event-stream clients.
type Broker struct {
	mu         sync.Mutex
	clients    map[string]*streamClient
	logger     *zap.Logger
	keepAlive  time.Duration
	maxClients int
}

type BrokerOption func(*Broker)

func WithBrokerLogger(log *zap.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger.OrNop(log).Named("sale-events") }
}

func WithKeepAlive(interval time.Duration) BrokerOption {
	return func(b *Broker) {
		if interval > 0 {
			b.keepAlive = interval
		}
	}
}

func WithMaxClients(max int) BrokerOption {
	return func(b *Broker) { b.maxClients = max }
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		clients:    make(map[string]*streamClient),
		logger:     zap.NewNop(),
		keepAlive:  defaultKeepAlive,
		maxClients: defaultMaxStreamSubs,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements service.Publisher. Slow clients drop the event rather
// than block the sale request.
func (b *Broker) Publish(event domain.SaleEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshal sale event", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, client := range b.clients {
		select {
		case client.ch <- data:
		default:
			b.logger.Warn("client buffer full, dropping event", zap.String("client_id", client.id))
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broker) register(userID string) (*streamClient, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		return nil, false
	}
	client := &streamClient{
		id:     uuid.NewString(),
		userID: userID,
		ch:     make(chan []byte, streamMessageBuffer),
	}
	b.clients[client.id] = client
	return client, true
}

func (b *Broker) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// ServeHTTP streams `data: <json>` frames until the request is cancelled.
// The first frame is always {"type":"connected"}.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	userID := ""
	if actor, ok := actorFrom(r); ok {
		userID = actor.UserID
	}
	client, ok := b.register(userID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("too many event stream connections"))
		return
	}
	defer b.unregister(client.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	b.logger.Info("event stream client connected", zap.String("client_id", client.id), zap.String("user_id", userID))
	connected, _ := json.Marshal(map[string]string{"type": domain.EventConnected, "clientId": client.id})
	writeFrame(w, connected)
	flusher.Flush()

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("event stream client disconnected", zap.String("client_id", client.id))
			return
		case <-ticker.C:
			// Comment frames keep proxies from closing idle connections.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case data := <-client.ch:
			writeFrame(w, data)
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}
