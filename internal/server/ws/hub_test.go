package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/escrowmarket/internal/pipeline"
)

func startHub(t *testing.T) (*pipeline.LocalBus, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := pipeline.NewLocalBus(0)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "serve"})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

// publishUntilReceived retries until the hub's bus subscription is live.
func publishUntilReceived(t *testing.T, bus *pipeline.LocalBus, marketID string, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	payload := []byte(`{"id":"e1","seq":1,"type":"BetPlaced","market_id":"` + marketID + `","payload":{"amount":5}}`)
	got := make(chan struct {
		kind int
		data []byte
	}, 1)
	go func() {
		kind, data, err := conn.ReadMessage()
		if err == nil {
			got <- struct {
				kind int
				data []byte
			}{kind, data}
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, bus.Publish(context.Background(), pipeline.MarketChannel(marketID), payload))
		select {
		case m := <-got:
			return m.kind, m.data
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHubJSONClient(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url)

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var status map[string]any
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "hub_status", status["type"])

	kind, data = publishUntilReceived(t, bus, "m1", conn)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), `"market_id":"m1"`)
}

func TestHubProtoClient(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url+"?format=proto&market=m2")

	kind, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	kind, data := publishUntilReceived(t, bus, "m2", conn)
	assert.Equal(t, websocket.BinaryMessage, kind)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	assert.Equal(t, "m2", s.Fields["market_id"].GetStringValue())
	assert.Equal(t, "BetPlaced", s.Fields["type"].GetStringValue())
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:market:m1": true}}
	assert.True(t, c.isSubscribed("ch:market:m1"))
	assert.False(t, c.isSubscribed("ch:market:m2"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{MarketPattern}})
	assert.True(t, c.isSubscribed("ch:market:m2"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{MarketPattern, "ch:market:m1"}})
	assert.False(t, c.isSubscribed("ch:market:m1"))
}

func TestHubRejectsClientsAfterStop(t *testing.T) {
	hub := NewHub(pipeline.NewLocalBus(0), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()

	returned := make(chan struct{}, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		returned <- struct{}{}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// A client connected before shutdown sees its send channel closed.
	live := dial(t, url)
	<-returned
	cancel()
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	for {
		if _, _, err := live.ReadMessage(); err != nil {
			break
		}
	}

	// A late client is closed instead of blocking on register.
	late := dial(t, url)
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWS blocked after the hub stopped")
	}
	_, _, err := late.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
