package httpserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-mdpreview/internal/contracts"
	"go-mdpreview/internal/metrics"

	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

// Conn is one live-update connection as the hub sees it.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// wsConn adapts a websocket so a stale browser cannot stall the hub.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Send(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

type broadcastRequest struct {
	payload   []byte
	delivered chan int
}

// Hub owns the set of open connections. Registration, removal and
// broadcast all run on the Run goroutine, so they never interleave.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	register   chan Conn
	unregister chan Conn
	broadcasts chan broadcastRequest
	sizes      chan chan int
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

// NewHub creates a hub. Call Run to start serving requests.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Hub{
		logger:     logger,
		metrics:    m,
		register:   make(chan Conn),
		unregister: make(chan Conn),
		broadcasts: make(chan broadcastRequest),
		sizes:      make(chan chan int),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run serializes registry mutation and websocket writes on a single goroutine.
// It returns when ctx is cancelled or Stop is called, closing every member.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	members := make(map[Conn]struct{})
	defer func() {
		for c := range members {
			_ = c.Close()
		}
		h.metrics.SetConnections(0)
	}()

	for {
		select {
		case c := <-h.register:
			members[c] = struct{}{}
			h.metrics.SetConnections(len(members))
			h.logger.Debug("connection opened", "clients", len(members))

		case c := <-h.unregister:
			if _, ok := members[c]; !ok {
				continue
			}
			delete(members, c)
			_ = c.Close()
			h.metrics.SetConnections(len(members))
			h.logger.Debug("connection closed", "clients", len(members))

		case req := <-h.broadcasts:
			delivered := 0
			for c := range members {
				if err := c.Send(req.payload); err != nil {
					h.logger.Debug("dropping connection after send failure", "error", err)
					h.metrics.SendFailure()
					delete(members, c)
					_ = c.Close()
					continue
				}
				delivered++
			}
			h.metrics.Broadcast(payloadKind(req.payload))
			h.metrics.SetConnections(len(members))
			req.delivered <- delivered

		case reply := <-h.sizes:
			reply <- len(members)

		case <-h.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func payloadKind(payload []byte) string {
	if contracts.IsReload(payload) {
		return metrics.KindReload
	}
	return metrics.KindFragment
}

// Register adds c. Once it returns, c receives every later broadcast.
// A connection registered after the hub stopped is closed immediately.
func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		_ = c.Close()
	}
}

// Unregister removes and closes c. Removing an absent connection is a no-op.
func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends payload to every registered connection and reports how
// many accepted it. Failed connections are dropped without affecting the rest.
func (h *Hub) Broadcast(payload []byte) int {
	req := broadcastRequest{payload: payload, delivered: make(chan int, 1)}
	select {
	case h.broadcasts <- req:
	case <-h.done:
		return 0
	}
	return <-req.delivered
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	reply := make(chan int, 1)
	select {
	case h.sizes <- reply:
	case <-h.done:
		return 0
	}
	return <-reply
}

// Stop ends Run and waits for it to close every connection. Safe to call
// more than once; Run must have been started.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}
