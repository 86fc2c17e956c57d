package fanout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

type delivery struct {
	to    []string
	frame []byte
}

type countRequest struct {
	user  string
	reply chan int
}

// Hub owns the websocket connections of this instance, keyed by user id.
// All registry state lives in the Run goroutine.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	upstream Publisher

	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	counts     chan countRequest
	done       chan struct{}
}

type HubConfig struct {
	Logger *slog.Logger
	// CheckOrigin validates the Origin header of upgrade requests. Nil
	// accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h := &Hub{
		logger:     logger,
		upgrader:   websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		counts:     make(chan countRequest),
		done:       make(chan struct{}),
	}
	h.upstream = h
	return h
}

// SetUpstream routes events raised by clients (typing) through p instead of
// delivering them locally. Call before Run.
func (h *Hub) SetUpstream(p Publisher) {
	h.upstream = p
}

// Run processes registrations and deliveries until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
			}
			h.clients = nil
			return
		case c := <-h.register:
			if _, ok := h.clients[c.userID]; !ok {
				h.clients[c.userID] = make(map[*Client]struct{})
			}
			h.clients[c.userID][c] = struct{}{}
			h.logger.Debug("client registered", "user", c.userID)
		case c := <-h.unregister:
			h.drop(c)
		case d := <-h.deliveries:
			for _, user := range d.to {
				for c := range h.clients[user] {
					select {
					case c.send <- d.frame:
					default:
						h.logger.Warn("dropping slow client", "user", user)
						h.drop(c)
					}
				}
			}
		case req := <-h.counts:
			req.reply <- len(h.clients[req.user])
		}
	}
}

func (h *Hub) drop(c *Client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, exists := conns[c]; exists {
		delete(conns, c)
		close(c.send)
	}
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
}

// Publish delivers events to clients connected to this instance.
func (h *Hub) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		if len(e.To) == 0 {
			continue
		}
		frame, err := e.Frame()
		if err != nil {
			return err
		}
		if err := h.deliver(ctx, e.To, frame); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) deliver(ctx context.Context, to []string, frame []byte) error {
	select {
	case h.deliveries <- delivery{to: to, frame: frame}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections reports how many sockets user has open here.
func (h *Hub) Connections(user string) int {
	req := countRequest{user: user, reply: make(chan int, 1)}
	select {
	case h.counts <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// ServeWS upgrades the request and attaches the socket to userID. The
// caller has already authenticated the request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		userID: userID,
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	go c.writePump()
	go c.readPump()
	return nil
}
