package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/service"
)

func readFrame(t *testing.T, scanner *bufio.Scanner) domain.SaleEvent {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event domain.SaleEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		return event
	}
	t.Fatalf("stream ended: %v", scanner.Err())
	return domain.SaleEvent{}
}

func TestSaleEventsStream(t *testing.T) {
	env := newTestEnv(t, Options{})
	server := httptest.NewServer(env.api.Handler())
	defer server.Close()

	token := login(t, env.api, testSellerEmail, testSellerPass).Token
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/sales/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	if first := readFrame(t, scanner); first.Type != domain.EventConnected {
		t.Fatalf("expected connected frame first, got %+v", first)
	}
	if env.broker.ClientCount() != 1 {
		t.Fatalf("expected one registered client, got %d", env.broker.ClientCount())
	}

	product, err := env.svc.Products.Create(context.Background(), domain.Product{Name: "LPG", Quantity: 5})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	actorCtx := service.WithActor(context.Background(), domain.Actor{UserID: env.seller.ID, Name: "Rina", BranchID: env.branch.ID})
	sale, err := env.svc.Sales.Create(actorCtx, domain.Sale{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	event := readFrame(t, scanner)
	if event.Type != domain.EventNewSale || event.SaleID.String() != sale.ID {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.SellerName != "Rina" || event.BranchName != "Depok" || event.Quantity != 2 {
		t.Fatalf("event is missing sale details: %+v", event)
	}
}

func TestSaleEventsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/events", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestBrokerRejectsOverCapacity(t *testing.T) {
	broker := NewBroker(WithMaxClients(1))
	if _, ok := broker.register("1"); !ok {
		t.Fatalf("expected first client to register")
	}
	if _, ok := broker.register("2"); ok {
		t.Fatalf("expected second client to be rejected")
	}
}

func TestBrokerDropsWhenClientIsSlow(t *testing.T) {
	broker := NewBroker()
	client, _ := broker.register("1")

	for i := 0; i < streamMessageBuffer+5; i++ {
		broker.Publish(domain.SaleEvent{Type: domain.EventNewSale})
	}
	if len(client.ch) != streamMessageBuffer {
		t.Fatalf("expected buffer to be full, got %d", len(client.ch))
	}
	broker.unregister(client.id)
	if broker.ClientCount() != 0 {
		t.Fatalf("expected client to be removed")
	}
}
