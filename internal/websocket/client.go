package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/event"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Outgoing frames buffered per connection
	sendBufferSize = 256
)

// TopicConnected tells a connection which logical client it is bound to.
// Sending the id back as the client_id query parameter on reconnect resumes
// the same client.
const TopicConnected = "/connected"

// Frame is the unit exchanged with peers in both directions
type Frame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals a topic and payload into a wire frame
func EncodeFrame(topic string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", topic, err)
		}
		raw = b
	}
	return json.Marshal(Frame{Topic: topic, Data: raw})
}

// ActivityCheck is fired on idle clients. A handler that still considers
// the client in use calls RegisterActivity.
type ActivityCheck struct {
	active bool
}

// RegisterActivity keeps the client registered
func (a *ActivityCheck) RegisterActivity() {
	a.active = true
}

// Events are fired on the loop for every logical client
type Events struct {
	Connected        event.Event[struct{}]
	Disconnected     event.Event[struct{}]
	CheckingActivity event.Event[*ActivityCheck]
	Deregistering    event.Event[struct{}]
}

// Client is a logical connection. It outlives the physical websocket so a
// peer that reconnects with its client id keeps its subscriptions. Apart
// from ID, every method must be called on the loop.
type Client struct {
	Events

	id           string
	hub          *Hub
	conn         *conn
	topics       map[string]*event.Event[json.RawMessage]
	lastActive   time.Time
	deregistered bool
	logger       *zap.Logger
}

func newClient(id string, hub *Hub) *Client {
	return &Client{
		id:         id,
		hub:        hub,
		topics:     make(map[string]*event.Event[json.RawMessage]),
		lastActive: hub.sched.Now(),
		logger:     hub.logger.With(zap.String("client_id", id)),
	}
}

// ID returns the client id
func (c *Client) ID() string { return c.id }

// ClientEvents exposes the lifecycle events
func (c *Client) ClientEvents() *Events { return &c.Events }

// IsConnected reports whether a physical connection is attached
func (c *Client) IsConnected() bool { return c.conn != nil }

// TimeLastActive is the time of the last received frame, connect or
// disconnect
func (c *Client) TimeLastActive() time.Time { return c.lastActive }

// Send queues a frame. Frames sent while disconnected are dropped.
func (c *Client) Send(topic string, data any) {
	if c.conn == nil {
		return
	}
	frame, err := EncodeFrame(topic, data)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.String("topic", topic), zap.Error(err))
		return
	}
	c.conn.enqueue(frame)
}

// Subscribe calls fn with the payload of every frame received on topic
func (c *Client) Subscribe(topic string, fn func(json.RawMessage)) event.Binding {
	ev, ok := c.topics[topic]
	if !ok {
		ev = &event.Event[json.RawMessage]{}
		c.topics[topic] = ev
	}
	return ev.AddHandler(fn)
}

// Disconnect closes the connection and deregisters the client for good
func (c *Client) Disconnect() {
	c.hub.deregister(c)
}

func (c *Client) receive(from *conn, frame Frame) {
	if from != c.conn {
		return
	}
	c.lastActive = c.hub.sched.Now()

	ev, ok := c.topics[frame.Topic]
	if !ok || ev.Len() == 0 {
		c.logger.Debug("no subscribers for topic", zap.String("topic", frame.Topic))
		return
	}
	c.dispatch(ev, frame)
}

func (c *Client) dispatch(ev *event.Event[json.RawMessage], frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic in message handler",
				zap.String("topic", frame.Topic),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	ev.Fire(frame.Data)
}

// conn is one physical websocket. send is written and closed only on the
// loop; the pumps run on their own goroutines.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed bool
	logger *zap.Logger
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *conn {
	return &conn{
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

func (c *conn) enqueue(frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Client's buffer is full, skip
		c.logger.Warn("client buffer full, dropping message")
	}
}

func (c *conn) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the websocket to onFrame until the peer goes
// away, then calls onClose
func (c *conn) readPump(onFrame func(Frame), onClose func()) {
	defer func() {
		onClose()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Topic == "" {
			c.logger.Warn("invalid message format", zap.Error(err))
			continue
		}
		onFrame(frame)
	}
}

// writePump pumps frames from send to the websocket
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The loop closed the channel
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
