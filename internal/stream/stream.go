// Package stream pushes state tree changes to websocket clients.
package stream

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strefethen/sonos-bridge-go/internal/state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame sent to clients.
type Message struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
	Value     any    `json:"value,omitempty"`
	At        string `json:"at,omitempty"`
}

// Hub serves the change feed.
type Hub struct {
	store        *state.Store
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *log.Logger

	clients atomic.Int64
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewHub creates a Hub reading from store.
func NewHub(store *state.Store, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		store:        store,
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP upgrades the request and streams changes until the client goes
// away. The first frame is a snapshot of the whole tree.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade failed - error already written to response
		return
	}
	h.clients.Add(1)
	defer h.clients.Add(-1)
	defer conn.Close()

	changes, cancel := h.store.Subscribe(256)
	defer cancel()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	if err := h.write(conn, Message{Type: "snapshot", Value: h.store.Snapshot()}); err != nil {
		return
	}
	h.logger.Printf("STREAM: client %s connected", r.RemoteAddr)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Printf("STREAM: client %s disconnected", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
				time.Now().Add(h.writeTimeout))
			return
		case <-ticker.C:
			if err := h.write(conn, Message{Type: "ping"}); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			value, _ := h.store.Get(change.Path)
			msg := Message{
				Type:      "change",
				Path:      change.Path,
				Overwrite: change.Overwrite,
				Value:     value,
				At:        change.At.UTC().Format(time.RFC3339Nano),
			}
			if err := h.write(conn, msg); err != nil {
				h.logger.Printf("STREAM: write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

// readLoop discards client frames and reports when the connection closes.
func (h *Hub) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// Wait blocks until every client handler has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}
