package websocket

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/loop"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Stats describes the hub for the stats endpoint
type Stats struct {
	Clients   int   `json:"clients"`
	Connected int64 `json:"connected"`
}

// Hub owns every logical client. Registry writes happen on the loop; mu only
// guards the map against Stats readers on other goroutines.
type Hub struct {
	sched         loop.Scheduler
	checkInterval time.Duration
	onConnect     func(*Client)
	logger        *zap.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	connected atomic.Int64

	timer loop.Timer
}

// NewHub creates a hub whose idle clients are checked every checkInterval
func NewHub(sched loop.Scheduler, checkInterval time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		sched:         sched,
		checkInterval: checkInterval,
		onConnect:     func(*Client) {},
		logger:        logger,
		clients:       make(map[string]*Client),
	}
}

// OnConnect sets the callback run on the loop for every new logical client
func (h *Hub) OnConnect(fn func(*Client)) {
	h.onConnect = fn
}

// Start arms the activity check. Call it on the loop.
func (h *Hub) Start() {
	h.logger.Info("WebSocket hub started", zap.Duration("activity_check_interval", h.checkInterval))
	h.timer = h.sched.AfterFunc(h.checkInterval, h.checkActivity)
}

// Stop cancels the activity check and closes every connection. Call it on
// the loop.
func (h *Hub) Stop() {
	if h.timer != nil {
		h.timer.Stop()
	}
	for _, c := range h.snapshot() {
		if c.conn != nil {
			c.conn.close()
		}
	}
	h.logger.Info("WebSocket hub stopping")
}

// Stats returns a point-in-time view of the registry. Safe from any
// goroutine.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Clients: len(h.clients), Connected: h.connected.Load()}
}

// ServeWs upgrades the request and binds it to a logical client. A
// client_id query parameter naming a live client resumes it.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(ws, h.logger)
	go c.writePump()

	clientID := r.URL.Query().Get("client_id")
	h.sched.Post(func() { h.attach(clientID, c) })
}

func (h *Hub) attach(clientID string, c *conn) {
	h.mu.RLock()
	client, resumed := h.clients[clientID]
	h.mu.RUnlock()

	if !resumed {
		client = newClient(uuid.New().String(), h)
		h.mu.Lock()
		h.clients[client.id] = client
		h.mu.Unlock()
	} else if client.conn != nil {
		// A second tab took over the client id
		client.conn.close()
		h.connected.Add(-1)
	}

	client.conn = c
	client.lastActive = h.sched.Now()
	h.connected.Add(1)
	client.Send(TopicConnected, client.id)

	go c.readPump(func(frame Frame) {
		h.sched.Post(func() { client.receive(c, frame) })
	}, func() {
		h.sched.Post(func() { h.detach(client, c) })
	})

	if resumed {
		client.logger.Debug("client reconnected")
		client.Connected.Fire(struct{}{})
	} else {
		client.logger.Debug("client registered")
		h.onConnect(client)
	}
}

func (h *Hub) detach(client *Client, c *conn) {
	if client.conn != c {
		return
	}
	c.close()
	client.conn = nil
	client.lastActive = h.sched.Now()
	h.connected.Add(-1)
	client.logger.Debug("client disconnected")
	client.Disconnected.Fire(struct{}{})
}

func (h *Hub) deregister(client *Client) {
	if client.deregistered {
		return
	}
	client.deregistered = true

	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()

	if client.conn != nil {
		h.detach(client, client.conn)
	}
	client.logger.Debug("client deregistered")
	client.Deregistering.Fire(struct{}{})
}

func (h *Hub) checkActivity() {
	for _, client := range h.snapshot() {
		check := &ActivityCheck{}
		client.CheckingActivity.Fire(check)
		if !check.active {
			h.deregister(client)
		}
	}
	h.timer = h.sched.AfterFunc(h.checkInterval, h.checkActivity)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}
