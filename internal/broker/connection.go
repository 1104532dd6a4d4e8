// Package broker is the session and matchmaking layer: it binds connections
// to players, negotiates matches, routes game messages and restores games.
// Everything in it runs on the event loop.
package broker

import (
	"encoding/json"
	"time"

	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/websocket"
)

// Connection is the transport side of a session
type Connection interface {
	ID() string
	Send(topic string, data any)
	Subscribe(topic string, fn func(json.RawMessage)) event.Binding
	Disconnect()
	TimeLastActive() time.Time
	ClientEvents() *websocket.Events
}

var _ Connection = (*websocket.Client)(nil)
