package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"sonobridge/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients live on the same LAN; the socket carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Inbound command budget per connection. Wait (not Allow) so a burst is
// smoothed out rather than dropped, preserving per-connection order.
const (
	commandRate  = rate.Limit(20)
	commandBurst = 40
)

// writeTimeout bounds each socket write. A half-open connection never
// errors on its own; the deadline turns the stall into a write error so
// the hub prunes the client and its writer goroutine exits.
const writeTimeout = 10 * time.Second

// wsConn serializes writes: the hub's writer goroutine and the read loop's
// close handshake both target the same socket, and gorilla allows only one
// concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}

	s.connMu.Lock()
	id := s.hub.Register(conn)
	s.connMu.Unlock()
	log.Printf("client %s connected from %s", id, r.RemoteAddr)
	defer func() {
		s.connMu.Lock()
		s.hub.Unregister(conn)
		if s.hub.Count() == 0 {
			// Nobody is watching; free the event feeds. The next
			// connection re-discovers and re-subscribes.
			s.subs.UnsubscribeAll(true)
		}
		s.connMu.Unlock()
		log.Printf("client %s disconnected", id)
	}()

	ctx := r.Context()
	s.refreshFleet(ctx)
	s.connMu.Lock()
	if active := s.store.ActiveDevice(); active != "" && !s.subs.Subscribed(active) {
		go s.subs.Subscribe(s.dispatcher.BaseContext(), active)
	}
	s.connMu.Unlock()
	s.store.SyncAll()

	limiter := rate.NewLimiter(commandRate, commandBurst)
	for {
		var action models.Action
		if err := ws.ReadJSON(&action); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("client %s read: %v", id, err)
			}
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.dispatcher.Dispatch(ctx, conn, action)
	}
}
