// Package statefeed broadcasts avatar snapshots to websocket viewers. The
// renderer is usually in-process, but remote debug views and recording
// tools subscribe here.
package statefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

type client struct {
	id   string
	send chan []byte
}

// Hub fans snapshots out to every connected client. Slow clients drop
// frames instead of stalling the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  int

	latest []byte // last broadcast frame, replayed to new clients
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// ClientCount reports how many viewers are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals a snapshot and sends it to all clients. Called from
// the render cadence; snapshots are self-contained so dropping one is safe.
func (h *Hub) Broadcast(snapshot any) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("[statefeed] marshal error: %v", err)
		return
	}

	h.mu.Lock()
	h.latest = data
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[statefeed] client %s lagging, dropping frame", id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &client{id: fmt.Sprintf("viewer-%d", h.nextID), send: make(chan []byte, 64)}
	h.clients[c.id] = c
	if h.latest != nil {
		c.send <- h.latest
	}
	log.Printf("[statefeed] %s connected (total %d)", c.id, len(h.clients))
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		log.Printf("[statefeed] %s disconnected (total %d)", c.id, len(h.clients))
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("[statefeed] websocket accept error: %v", err)
		return
	}

	c := h.register()
	defer h.unregister(c)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Viewers never send anything useful; the read loop exists to notice
	// the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// ListenAndServe runs the viewer endpoint at /state until the context ends.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", h.HandleWebSocket)

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Printf("[statefeed] listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statefeed server: %w", err)
	}
	return nil
}
