package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/sawpanic/gateway/internal/config"
	"github.com/sawpanic/gateway/internal/ipc"
	"github.com/sawpanic/gateway/internal/pubreg"
	"github.com/sawpanic/gateway/internal/record"
	"github.com/sawpanic/gateway/internal/wireparse"
)

func mockVenueServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
}

func testSupervisorConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		GatewayID:           "test",
		ReconnectMaxRetries: 3,
		MetricsPort:         9090,
		Exchanges: []config.VenueConfig{
			{Venue: record.Binance, Enabled: true, DataTypes: []record.DataType{record.TickerType}},
		},
		Symbols: []config.SymbolBinding{
			{Symbol: "BTCUSDT", Venues: []record.Venue{record.Binance}},
		},
	}
	return cfg
}

func TestSupervisorStartReachesOpenAndHealthReportsConnected(t *testing.T) {
	server := mockVenueServer(t)
	defer server.Close()

	cfg := testSupervisorConfig(t)
	streams := ipc.NewRegistry("", 16)
	reg := pubreg.New(streams, nil, nil)
	sup := New(cfg, nil, reg, nil, nil)

	// Build the binding by hand against the mock server instead of going
	// through config.Endpoint, which is a fixed table of real venue URLs.
	parser, subscriber, ok := wireparse.ForVenue(record.Binance)
	if !ok {
		t.Fatal("expected a binance parser")
	}
	b := sup.buildBinding(record.Binance, record.TickerType, parser, subscriber, wsURL(server))
	sup.bindings = append(sup.bindings, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.client.ConnectWithRetry(ctx); err != nil {
		t.Fatalf("ConnectWithRetry: %v", err)
	}

	health := sup.Health()
	h, ok := health[record.Binance]
	if !ok || !h.Connected {
		t.Fatalf("expected binance to be connected, got %+v (ok=%v)", h, ok)
	}
}

func TestReconcileOnceSubscribesOpenClientsOnce(t *testing.T) {
	received := make(chan []byte, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer server.Close()

	cfg := testSupervisorConfig(t)
	streams := ipc.NewRegistry("", 16)
	reg := pubreg.New(streams, nil, nil)
	sup := New(cfg, nil, reg, nil, nil)

	parser, subscriber, _ := wireparse.ForVenue(record.Binance)
	b := sup.buildBinding(record.Binance, record.TickerType, parser, subscriber, wsURL(server))
	sup.bindings = append(sup.bindings, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.ConnectWithRetry(ctx); err != nil {
		t.Fatalf("ConnectWithRetry: %v", err)
	}

	sup.reconcileOnce(ctx)
	sup.reconcileOnce(ctx)
	sup.reconcileOnce(ctx)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one subscribe frame")
	}

	b.mu.Lock()
	attempts := b.attempts
	subscribed := b.subscribed
	b.mu.Unlock()
	if !subscribed {
		t.Error("expected binding to be marked subscribed after a successful reconcile pass")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (reconcileOnce must not re-subscribe once subscribed)", attempts)
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}
