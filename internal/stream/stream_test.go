package stream

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/state"
)

func TestStreamSendsSnapshotThenChanges(t *testing.T) {
	store := state.NewStore()
	store.Ingest("player/RINCON_A/name", "Kitchen", true)
	hub := NewHub(store, log.New(io.Discard, "", 0))

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snapshot Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	tree, ok := snapshot.Value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, tree, "player")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	store.Ingest("player/RINCON_A/RenderingControl/volume/Master", "30", true)

	var change Message
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, "change", change.Type)
	assert.Equal(t, "player/RINCON_A/RenderingControl/volume/Master", change.Path)
	assert.Equal(t, "30", change.Value)
	assert.True(t, change.Overwrite)
}

func TestClientCountDropsOnClose(t *testing.T) {
	hub := NewHub(state.NewStore(), log.New(io.Discard, "", 0))
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	var snapshot Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(state.NewStore(), log.New(io.Discard, "", 0))
	server := httptest.NewServer(hub)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	var snapshot Message
	require.NoError(t, conn.ReadJSON(&snapshot))

	waited := make(chan struct{})
	go func() {
		hub.Close()
		hub.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.Clients())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
