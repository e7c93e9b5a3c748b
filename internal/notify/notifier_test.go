package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestNotifierDeliversToAllSenders(t *testing.T) {
	t.Parallel()
	rec := &capture{}
	srv := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer srv.Close()

	tg := NewTelegramSender("tok", "42")
	tg.apiBase = srv.URL
	dc := NewDiscordSender(srv.URL + "/hook")

	n := NewNotifier([]Sender{tg, dc}, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "payout.deferred", "Payout deferred", "payout: 196"))

	require.Len(t, rec.paths, 2)
	assert.Equal(t, "/bottok/sendMessage", rec.paths[0])
	assert.Equal(t, "42", rec.bodies[0]["chat_id"])
	assert.Contains(t, rec.bodies[0]["text"], "*Payout deferred*")
	assert.Equal(t, "/hook", rec.paths[1])
	assert.Contains(t, rec.bodies[1]["content"], "payout: 196")
}

func TestNotifierFiltersEvents(t *testing.T) {
	t.Parallel()
	rec := &capture{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, []string{"task.failed", " "}, discard())
	require.NoError(t, n.Notify(context.Background(), "payout.deferred", "t", "m"))
	assert.Empty(t, rec.paths)
	require.NoError(t, n.Notify(context.Background(), "task.failed", "t", "m"))
	assert.Len(t, rec.paths, 1)
}

func TestNotifierReportsFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer((&capture{}).handler(http.StatusBadGateway))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, nil, discard())
	err := n.Notify(context.Background(), "task.failed", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
	assert.Contains(t, err.Error(), "502")
}

func TestNewWithoutChannels(t *testing.T) {
	t.Parallel()
	n := New(Config{TelegramToken: "only-token"}, discard())
	assert.Nil(t, n)
	assert.NoError(t, n.Notify(context.Background(), "x", "t", "m"))
}
