package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/loop"
	"github.com/chess-broker/internal/store"
	"github.com/chess-broker/internal/websocket"
)

type frame struct {
	topic string
	data  json.RawMessage
}

// fakeConn is an in-memory Connection. Disconnect deregisters immediately,
// the way the hub does.
type fakeConn struct {
	id           string
	events       websocket.Events
	topics       map[string]*event.Event[json.RawMessage]
	frames       []frame
	lastActive   time.Time
	disconnected bool
}

func newFakeConn(id string, now time.Time) *fakeConn {
	return &fakeConn{
		id:         id,
		topics:     make(map[string]*event.Event[json.RawMessage]),
		lastActive: now,
	}
}

func (c *fakeConn) ID() string                      { return c.id }
func (c *fakeConn) TimeLastActive() time.Time       { return c.lastActive }
func (c *fakeConn) ClientEvents() *websocket.Events { return &c.events }

func (c *fakeConn) Send(topic string, data any) {
	raw, _ := json.Marshal(data)
	c.frames = append(c.frames, frame{topic: topic, data: raw})
}

func (c *fakeConn) Subscribe(topic string, fn func(json.RawMessage)) event.Binding {
	e, ok := c.topics[topic]
	if !ok {
		e = &event.Event[json.RawMessage]{}
		c.topics[topic] = e
	}
	return e.AddHandler(fn)
}

func (c *fakeConn) Disconnect() {
	if c.disconnected {
		return
	}
	c.disconnected = true
	c.events.Deregistering.Fire(struct{}{})
}

// deliver dispatches a client message
func (c *fakeConn) deliver(topic string, payload any) {
	raw, _ := json.Marshal(payload)
	if e, ok := c.topics[topic]; ok {
		e.Fire(raw)
	}
}

func (c *fakeConn) received(topic string) []json.RawMessage {
	var out []json.RawMessage
	for _, f := range c.frames {
		if f.topic == topic {
			out = append(out, f.data)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T, topic string) json.RawMessage {
	t.Helper()
	got := c.received(topic)
	require.NotEmpty(t, got, "nothing sent on %s", topic)
	return got[len(got)-1]
}

func (c *fakeConn) lastString(t *testing.T, topic string) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(c.last(t, topic), &s))
	return s
}

type recordingNotifier struct {
	ratings []domain.RatingUpdate
	games   []domain.GameSummary
}

func (n *recordingNotifier) RatingUpdated(u domain.RatingUpdate) { n.ratings = append(n.ratings, u) }
func (n *recordingNotifier) GameFinished(s domain.GameSummary)   { n.games = append(n.games, s) }

type env struct {
	sched    *loop.Manual
	db       *store.Memory
	cfg      *config.BrokerConfig
	notifier *recordingNotifier
	app      *Application
	next     int
}

func newEnv(t *testing.T, opts ...func(*config.BrokerConfig)) *env {
	t.Helper()
	return newEnvWithDB(t, store.NewMemory(), opts...)
}

func newEnvWithDB(t *testing.T, db store.Database, opts ...func(*config.BrokerConfig)) *env {
	t.Helper()
	cfg := &config.BrokerConfig{
		SeekTimeout:          5 * time.Minute,
		RandomGames:          6,
		GamesPerRatingPeriod: 10,
		InactiveGameExpiry:   5 * time.Minute,
		MaxIdleAnonymous:     time.Hour,
		MaxIdleLoggedIn:      24 * time.Hour,
		BcryptCost:           bcrypt.MinCost,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	sched := loop.NewManual(time.UnixMilli(1_700_000_000_000))
	e := &env{
		sched:    sched,
		cfg:      cfg,
		notifier: &recordingNotifier{},
	}
	if mem, ok := db.(*store.Memory); ok {
		e.db = mem
	}
	e.app = New(cfg, sched, db, store.NewAsync(sched, 0), e.notifier, zap.NewNop())
	return e
}

func (e *env) connect() (*Session, *fakeConn) {
	e.next++
	c := newFakeConn(string(rune('a'+e.next-1)), e.sched.Now())
	return e.app.Connect(c), c
}

func (e *env) register(t *testing.T, c *fakeConn, username string) {
	t.Helper()
	c.deliver("/user/register", credentials{Username: username, Password: "secret"})
	e.sched.Flush()
	require.NotEmpty(t, c.received("/user/register/success"), "registering %s", username)
}

// startGame has owner open a default challenge that guest accepts
func (e *env) startGame(t *testing.T, owner, guest *fakeConn) *game.Game {
	t.Helper()
	var started *game.Game
	h := e.app.NewGame.AddHandler(func(g *game.Game) { started = g })
	defer h.Remove()

	owner.deliver("/challenge/create", domain.ChallengeOptions{})
	challenges := e.app.OpenChallenges()
	require.Len(t, challenges, 1)
	guest.deliver("/challenge/accept", challenges[0].ID())
	require.NotNil(t, started)
	return started
}

func sq(t *testing.T, name string) int {
	t.Helper()
	n, ok := game.SquareNumber(name)
	require.True(t, ok, name)
	return n
}

func move(t *testing.T, uci string) movePayload {
	t.Helper()
	return movePayload{From: sq(t, uci[:2]), To: sq(t, uci[2:4])}
}

// countingDB counts reads of the games collection
type countingDB struct {
	*store.Memory
	reads int
}

func (d *countingDB) Collection(name string) store.Collection {
	c := d.Memory.Collection(name)
	if name != store.Games {
		return c
	}
	return &countingCollection{Collection: c, reads: &d.reads}
}

type countingCollection struct {
	store.Collection
	reads *int
}

func (c *countingCollection) FindOne(ctx context.Context, key string) (json.RawMessage, error) {
	*c.reads++
	return c.Collection.FindOne(ctx, key)
}
