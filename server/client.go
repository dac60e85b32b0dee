package server

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/atrep123/dmx-core/dmx"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket subscriber. Commands arrive on the read pump and
// run through the same pipeline as REST; acks and deltas interleave on the
// bounded send mailbox.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	// Transport-level flood guard; the command budget proper lives in the
	// ingest rate limiter.
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	inbound := s.cfg.Server.WSInboundRate
	if inbound <= 0 {
		inbound = 120
	}
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  s,
		send:    make(chan []byte, ClientSendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(inbound), inbound),
		done:    make(chan struct{}),
	}
}

// close shuts the connection down; safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) unregister() {
	select {
	case c.server.unregister <- c:
	case <-c.server.ctx.Done():
		c.close()
	}
}

// sendSnapshot queues a full per-universe frame dump, sent to every new
// subscriber before incremental deltas begin.
func (c *Client) sendSnapshot() {
	rev, ts := c.server.engine.RevTS()
	universes := c.server.engine.Universes()
	sort.Ints(universes)
	for _, u := range universes {
		frame := c.server.engine.OutputFrame(u)
		update := StateUpdate{
			Type:     "state.update",
			Rev:      rev,
			TS:       ts,
			Universe: u,
			Full:     true,
		}
		for i, v := range frame {
			update.Delta = append(update.Delta, dmx.Change{Ch: i + 1, Val: int(v)})
		}
		payload, err := json.Marshal(update)
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			return
		}
	}
}

// readPump parses inbound text frames as commands and acks them on the same
// connection.
func (c *Client) readPump() {
	defer func() {
		c.unregister()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	remote := c.conn.RemoteAddr().String()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debugw("WS read error", "client_id", c.id, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.server.log.Debugw("WS inbound frame dropped by flood guard", "client_id", c.id)
			continue
		}

		ack := c.server.router.Process("ws", remote, raw)
		payload, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		// The commit broadcast has already been queued by the router's
		// fan-out, so the delta precedes this ack in the mailbox.
		select {
		case c.send <- payload:
		case <-c.done:
			return
		}
	}
}

// writePump drains the mailbox. Every write is bounded by the configured
// send timeout so one stalled subscriber never delays the hub.
func (c *Client) writePump() {
	sendTimeout := time.Duration(c.server.cfg.Server.WSSendTimeout) * time.Millisecond
	if sendTimeout <= 0 {
		sendTimeout = 200 * time.Millisecond
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.unregister()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.server.log.Debugw("WS write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleWebSocket upgrades /ws connections, enforcing the optional bearer
// token and the subscriber cap.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if token := s.cfg.Server.WSAuthToken; token != "" {
		provided := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			provided = auth[7:]
		}
		if provided != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if s.ClientCount() >= MaxClients {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WS upgrade failed", "error", err)
		return
	}

	client := newClient(s, conn)
	select {
	case s.register <- client:
	case <-s.ctx.Done():
		client.close()
		return
	}

	client.sendSnapshot()
	go client.writePump()
	go client.readPump()
}

// checkOrigin validates the Origin header against the configured allow list.
// "*" or a missing Origin always passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
