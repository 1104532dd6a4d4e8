// Command bot connects websocket clients that seek opponents and play
// random legal moves against each other.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/logging"
	wsproto "github.com/chess-broker/internal/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Broker websocket URL")
	count := flag.Int("n", 2, "Number of bots")
	think := flag.Duration("think", 250*time.Millisecond, "Delay before each move")
	initialTime := flag.String("initial-time", "1m", "Initial time of created challenges")
	increment := flag.String("increment", "0", "Time increment of created challenges")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(config.LogConfig{Level: *level, Format: "console"})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := domain.ChallengeOptions{InitialTime: *initialTime, TimeIncrement: *increment}

	logger.Info("starting bots", zap.Int("count", *count), zap.String("url", *url))

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		b := &bot{
			name:    fmt.Sprintf("bot-%d", i+1),
			url:     *url,
			think:   *think,
			options: opts,
			rng:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
		}
		b.logger = logger.With(zap.String("bot", b.name))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("bot stopped", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	logger.Info("bots stopped")
	if ctx.Err() == nil {
		os.Exit(1)
	}
}

type seekSummary struct {
	ID    string `json:"id"`
	Owner struct {
		ID string `json:"id"`
	} `json:"owner"`
}

type bot struct {
	name    string
	url     string
	think   time.Duration
	options domain.ChallengeOptions
	rng     *rand.Rand
	logger  *zap.Logger

	conn        *websocket.Conn
	playerID    string
	seeking     bool
	gameID      string
	colour      nchess.Color
	board       *nchess.Game
	gamesPlayed int
}

func (b *bot) run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", b.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 20)
	b.conn = conn

	for {
		var frame wsproto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if err := b.handle(ctx, frame); err != nil {
			return err
		}
	}
}

func (b *bot) send(ctx context.Context, topic string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = encoded
	}
	return wsjson.Write(ctx, b.conn, wsproto.Frame{Topic: topic, Data: raw})
}

func (b *bot) handle(ctx context.Context, frame wsproto.Frame) error {
	switch {
	case frame.Topic == wsproto.TopicConnected:
		return b.send(ctx, "/request/user", nil)

	case frame.Topic == "/user":
		var user struct {
			PlayerID string `json:"playerId"`
		}
		if err := json.Unmarshal(frame.Data, &user); err != nil {
			return fmt.Errorf("decoding user: %w", err)
		}
		b.playerID = user.PlayerID
		return b.send(ctx, "/request/challenges", nil)

	case frame.Topic == "/challenges":
		var seeks []seekSummary
		if err := json.Unmarshal(frame.Data, &seeks); err != nil {
			return fmt.Errorf("decoding challenges: %w", err)
		}
		return b.seek(ctx, seeks)

	case frame.Topic == "/current_challenge/expired", frame.Topic == "/challenge/create/failure":
		b.seeking = false
		return b.seek(ctx, nil)

	case frame.Topic == "/challenge/accepted":
		var details game.Details
		if err := json.Unmarshal(frame.Data, &details); err != nil {
			return fmt.Errorf("decoding game: %w", err)
		}
		return b.startGame(ctx, details)

	case strings.HasPrefix(frame.Topic, "/game/"):
		return b.handleGame(ctx, frame)
	}
	return nil
}

// seek accepts the first open challenge from someone else, or creates one
func (b *bot) seek(ctx context.Context, seeks []seekSummary) error {
	if b.gameID != "" || b.playerID == "" {
		return nil
	}
	for _, s := range seeks {
		if s.Owner.ID != b.playerID {
			b.logger.Debug("accepting challenge", zap.String("challenge", s.ID))
			return b.send(ctx, "/challenge/accept", s.ID)
		}
	}
	if b.seeking {
		return nil
	}
	b.seeking = true
	return b.send(ctx, "/challenge/create", b.options)
}

func (b *bot) startGame(ctx context.Context, details game.Details) error {
	fen, err := nchess.FEN(details.FEN)
	if err != nil {
		return fmt.Errorf("parsing fen %q: %w", details.FEN, err)
	}

	b.seeking = false
	b.gameID = details.ID
	b.board = nchess.NewGame(fen)
	b.colour = nchess.Black
	if details.White.ID == b.playerID {
		b.colour = nchess.White
	}
	b.logger.Info("game started",
		zap.String("game", b.gameID),
		zap.String("colour", b.colour.Name()),
	)
	return b.maybeMove(ctx)
}

func (b *bot) handleGame(ctx context.Context, frame wsproto.Frame) error {
	if b.gameID == "" {
		return nil
	}
	prefix := "/game/" + b.gameID + "/"
	if !strings.HasPrefix(frame.Topic, prefix) {
		return nil
	}

	switch strings.TrimPrefix(frame.Topic, prefix) {
	case "move":
		var m game.Move
		if err := json.Unmarshal(frame.Data, &m); err != nil {
			return fmt.Errorf("decoding move: %w", err)
		}
		if err := b.apply(m); err != nil {
			return err
		}
		return b.maybeMove(ctx)

	case "game_over":
		var over struct {
			Result game.Result `json:"result"`
		}
		if err := json.Unmarshal(frame.Data, &over); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
		b.gamesPlayed++
		b.logger.Info("game over",
			zap.String("game", b.gameID),
			zap.String("result", over.Result.Summary()),
			zap.String("method", over.Result.Method),
			zap.Int("games_played", b.gamesPlayed),
		)
		return b.endGame(ctx)

	case "aborted":
		b.logger.Info("game aborted", zap.String("game", b.gameID))
		return b.endGame(ctx)

	case "rematch_offer":
		return b.send(ctx, prefix+"decline_rematch", nil)

	case "draw_offer":
		if b.rng.Intn(2) == 0 {
			return b.send(ctx, prefix+"accept_draw", nil)
		}
	}
	return nil
}

func (b *bot) endGame(ctx context.Context) error {
	b.gameID = ""
	b.board = nil
	return b.send(ctx, "/request/challenges", nil)
}

// apply plays a move echoed by the broker. Queen promotions arrive without
// a piece, so a bare move that fails is retried as one.
func (b *bot) apply(m game.Move) error {
	uci := nchess.Square(m.From).String() + nchess.Square(m.To).String()
	if m.PromoteTo != "" {
		uci += strings.ToLower(m.PromoteTo)
	}
	if err := b.board.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		if m.PromoteTo != "" {
			return fmt.Errorf("applying move %s: %w", uci, err)
		}
		if err := b.board.PushNotationMove(uci+"q", nchess.UCINotation{}, nil); err != nil {
			return fmt.Errorf("applying move %s: %w", uci, err)
		}
	}
	return nil
}

func (b *bot) maybeMove(ctx context.Context) error {
	if b.board == nil || b.board.Outcome() != nchess.NoOutcome {
		return nil
	}
	if b.board.Position().Turn() != b.colour {
		return nil
	}

	var candidates []game.Move
	for _, mv := range b.board.ValidMoves() {
		promo := mv.Promo()
		if promo != nchess.NoPieceType && promo != nchess.Queen {
			continue
		}
		candidates = append(candidates, game.Move{From: int(mv.S1()), To: int(mv.S2())})
	}
	if len(candidates) == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.think):
	}

	m := candidates[b.rng.Intn(len(candidates))]
	return b.send(ctx, "/game/"+b.gameID+"/move", map[string]int{"from": m.From, "to": m.To})
}
