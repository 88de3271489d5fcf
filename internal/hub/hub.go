// Package hub holds the live set of client connections and fans events out
// to them. Each connection gets a buffered send queue drained by its own
// writer goroutine, so publishers never block on a slow socket. A
// connection that fails a write, or whose queue fills because it stopped
// draining, is pruned silently; senders never see transport errors.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"sonobridge/internal/models"
)

// Conn is the write side of one client connection. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v any) error
}

// sendBuffer is the per-connection queue depth. A client that falls this
// far behind is dropped rather than allowed to stall everyone else.
const sendBuffer = 32

type client struct {
	id string
	ch chan models.Event
}

type Hub struct {
	mu    sync.Mutex
	conns map[Conn]*client
}

func New() *Hub {
	return &Hub{conns: make(map[Conn]*client)}
}

// Register adds a connection, starts its writer, and returns its id.
func (h *Hub) Register(c Conn) string {
	cl := &client{id: uuid.NewString(), ch: make(chan models.Event, sendBuffer)}
	h.mu.Lock()
	h.conns[c] = cl
	h.mu.Unlock()
	go h.writeLoop(c, cl)
	return cl.id
}

// Unregister removes a connection if present and stops its writer.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked deletes the connection and closes its queue. The queue is
// only ever closed here, under the lock, so SendTo cannot race a send
// against the close.
func (h *Hub) removeLocked(c Conn) {
	cl, ok := h.conns[c]
	if !ok {
		return
	}
	delete(h.conns, c)
	close(cl.ch)
}

// Count reports the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// SendTo queues an event for one connection without blocking. A full queue
// means the client stopped reading; it is dropped on the spot.
func (h *Hub) SendTo(c Conn, ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.conns[c]
	if !ok {
		return
	}
	select {
	case cl.ch <- ev:
	default:
		h.removeLocked(c)
		log.Printf("dropping client %s: send queue full", cl.id)
	}
}

// Broadcast queues an event for every connection registered at the moment
// the snapshot is taken. Connections added or removed mid-broadcast are not
// an inconsistency; stalled queues prune as in SendTo.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.Lock()
	snapshot := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		h.SendTo(c, ev)
	}
}

func (h *Hub) writeLoop(c Conn, cl *client) {
	for ev := range cl.ch {
		if err := c.WriteJSON(ev); err != nil {
			log.Printf("dropping client %s: %v", cl.id, err)
			h.Unregister(c)
			return
		}
	}
}
