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
)

type chanBus struct {
	subs map[string]chan []byte
}

func newChanBus(patterns ...string) *chanBus {
	b := &chanBus{subs: make(map[string]chan []byte)}
	for _, p := range patterns {
		b.subs[p] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	for p, ch := range b.subs {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(channel, prefix) {
			ch <- payload
		}
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.subs[channel], nil
}

func TestHubForwardsBusEvents(t *testing.T) {
	bus := newChanBus(DefaultChannels...)
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["event"])

	payload := []byte(`{"event":"payout.deferred","data":{"commitment_id":"c1"}}`)
	require.NoError(t, bus.Publish(ctx, "payout.deferred", payload))

	msgType, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, string(payload), string(got))
}

func TestClientSubscriptions(t *testing.T) {
	t.Parallel()
	c := &client{subs: map[string]bool{"wager.*": true}}
	assert.True(t, c.isSubscribed("wager.resolved"))
	assert.False(t, c.isSubscribed("payout.failed"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"payout.failed"}})
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"wager.*"}})
	assert.True(t, c.isSubscribed("payout.failed"))
	assert.False(t, c.isSubscribed("payout.deferred"))
	assert.False(t, c.isSubscribed("wager.resolved"))
}

func TestEventName(t *testing.T) {
	t.Parallel()
	data, _ := json.Marshal(map[string]string{"event": "treasury.sweep"})
	assert.Equal(t, "treasury.sweep", eventName(data, "treasury.*"))
	assert.Equal(t, "treasury.*", eventName([]byte("not json"), "treasury.*"))
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()
	check := originChecker([]string{"https://flip.example"})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://flip.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
