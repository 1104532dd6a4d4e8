// Package game is the chess game capability the broker builds on: two
// colour-assigned players, legal moves, clocks, premoves, draw and rematch
// offers, chat, and the events the sessions re-publish.
//
// A Game is owned by the event loop. None of its methods are safe for
// concurrent use.
package game

import (
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/loop"
)

// Settings are server-wide game parameters.
type Settings struct {
	// FirstMoveTimeout aborts a game whose side to move has not played its
	// first move in time. Zero disables aborting.
	FirstMoveTimeout time.Duration
}

// ChatMessage is a chat line posted to a game.
type ChatMessage struct {
	Player  *Player
	Message string
}

// Events are fired synchronously from the call that caused them.
type Events struct {
	Move            event.Event[Move]
	Aborted         event.Event[*Game]
	DrawOffered     event.Event[Colour]
	Rematch         event.Event[*Game]
	GameOver        event.Event[Result]
	Chat            event.Event[ChatMessage]
	RematchOffered  event.Event[*Player]
	RematchDeclined event.Event[*Player]
}

type Game struct {
	Events Events

	id       string
	sched    loop.Scheduler
	settings Settings
	players  [2]*Player
	tc       TimeControl

	board     *nchess.Game
	history   []Move
	positions []string

	inProgress bool
	startTime  time.Time
	endTime    time.Time
	result     *Result

	// ratings as they stood when the game finished
	finalGlicko2 [2]domain.Glicko2

	clocks    [2]time.Duration
	turnStart time.Time
	timer     loop.Timer

	premove          *Premove
	drawOfferedBy    *Colour
	rematchOfferedBy *Player
}

// New starts a game between white and black.
func New(white, black *Player, tc TimeControl, sched loop.Scheduler, settings Settings) *Game {
	g := newGame(uuid.NewString(), white, black, tc, sched, settings)
	g.startTime = sched.Now()
	g.turnStart = g.startTime
	g.armTimer()
	return g
}

func newGame(id string, white, black *Player, tc TimeControl, sched loop.Scheduler, settings Settings) *Game {
	g := &Game{
		id:         id,
		sched:      sched,
		settings:   settings,
		players:    [2]*Player{white, black},
		tc:         tc,
		board:      nchess.NewGame(),
		inProgress: true,
		clocks:     [2]time.Duration{tc.Initial, tc.Initial},
	}
	g.positions = []string{positionKey(g.board.FEN())}
	return g
}

func (g *Game) ID() string { return g.id }

func (g *Game) TimeControl() TimeControl { return g.tc }

func (g *Game) Player(c Colour) *Player { return g.players[c] }

// PlayerColour returns the colour p plays, or false for a spectator.
func (g *Game) PlayerColour(p *Player) (Colour, bool) {
	for _, c := range Colours {
		if g.players[c] == p {
			return c, true
		}
	}
	return White, false
}

// IsPlaying reports whether p is one of the two players.
func (g *Game) IsPlaying(p *Player) bool {
	_, ok := g.PlayerColour(p)
	return ok
}

// ActiveColour returns the side to move.
func (g *Game) ActiveColour() Colour {
	return colourOf(g.board.Position().Turn())
}

func (g *Game) IsInProgress() bool { return g.inProgress }

func (g *Game) StartTime() time.Time { return g.startTime }

// EndTime is zero while the game is in progress.
func (g *Game) EndTime() time.Time { return g.endTime }

// Result is nil until the game is over. Aborted games have no result.
func (g *Game) Result() *Result { return g.result }

func (g *Game) FEN() string { return g.board.FEN() }

// History returns a copy of the moves played so far.
func (g *Game) History() []Move {
	return append([]Move(nil), g.history...)
}

// LastMove returns the most recent move, if any.
func (g *Game) LastMove() (Move, bool) {
	if len(g.history) == 0 {
		return Move{}, false
	}
	return g.history[len(g.history)-1], true
}

// PendingPremove returns the queued premove, or nil.
func (g *Game) PendingPremove() *Premove {
	if g.premove == nil {
		return nil
	}
	pm := *g.premove
	return &pm
}

// TimeLeft returns the remaining clock time of c as of now.
func (g *Game) TimeLeft(c Colour) time.Duration {
	left := g.clocks[c]
	if g.clocksRunning() && c == g.ActiveColour() {
		left -= g.sched.Now().Sub(g.turnStart)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Move plays a move for p. from and to are square numbers; promoteTo is a
// SAN piece letter and defaults to a queen when a pawn promotes.
func (g *Game) Move(p *Player, from, to int, promoteTo string) error {
	if !g.inProgress {
		return domain.ErrGameNotInProgress
	}
	c, ok := g.PlayerColour(p)
	if !ok {
		return domain.ErrNotPlaying
	}
	if c != g.ActiveColour() {
		return domain.ErrNotYourTurn
	}
	return g.play(from, to, promoteTo)
}

// Premove queues a move for p to be played as soon as it is p's turn.
func (g *Game) Premove(p *Player, from, to int, promoteTo string) error {
	if !g.inProgress {
		return domain.ErrGameNotInProgress
	}
	c, ok := g.PlayerColour(p)
	if !ok {
		return domain.ErrNotPlaying
	}
	if c == g.ActiveColour() {
		return domain.ErrNotYourTurn
	}
	if g.premove != nil {
		return domain.ErrPremovePending
	}
	promote, err := normalisePromotion(promoteTo)
	if err != nil {
		return err
	}
	if !validSquare(from) || !validSquare(to) || from == to {
		return domain.ErrIllegalMove
	}
	g.premove = &Premove{Colour: c, From: from, To: to, PromoteTo: promote}
	return nil
}

// CancelPremove drops p's queued premove.
func (g *Game) CancelPremove(p *Player) {
	c, ok := g.PlayerColour(p)
	if ok && g.premove != nil && g.premove.Colour == c {
		g.premove = nil
	}
}

// Resign ends the game in the opponent's favour.
func (g *Game) Resign(p *Player) {
	c, ok := g.PlayerColour(p)
	if !ok || !g.inProgress {
		return
	}
	g.finish(win(c.Opposite(), MethodResignation))
}

// OfferDraw offers a draw to the opponent. Offers are made after moving,
// while the opponent is to move.
func (g *Game) OfferDraw(p *Player) {
	c, ok := g.PlayerColour(p)
	if !ok || !g.inProgress || c == g.ActiveColour() || g.drawOfferedBy != nil {
		return
	}
	g.drawOfferedBy = &c
	g.Events.DrawOffered.Fire(c)
}

// AcceptDraw accepts the opponent's draw offer.
func (g *Game) AcceptDraw(p *Player) error {
	c, ok := g.PlayerColour(p)
	if !ok {
		return domain.ErrNotPlaying
	}
	if !g.inProgress {
		return domain.ErrGameNotInProgress
	}
	if g.drawOfferedBy == nil || *g.drawOfferedBy == c {
		return domain.ErrNoDrawOffer
	}
	g.finish(draw(MethodDrawAgreed))
	return nil
}

// ClaimDraw ends the game as a draw by threefold repetition or the
// fifty-move rule when either applies.
func (g *Game) ClaimDraw(p *Player) error {
	if !g.IsPlaying(p) {
		return domain.ErrNotPlaying
	}
	if !g.inProgress {
		return domain.ErrGameNotInProgress
	}
	method := g.claimableDraw()
	if method == "" {
		return domain.ErrDrawNotClaimable
	}
	g.finish(draw(method))
	return nil
}

// OfferRematch offers a rematch once the game is over. If the opponent has
// already offered one the rematch starts immediately.
func (g *Game) OfferRematch(p *Player) {
	if !g.IsPlaying(p) || g.inProgress {
		return
	}
	switch g.rematchOfferedBy {
	case nil:
		g.rematchOfferedBy = p
		g.Events.RematchOffered.Fire(p)
	case p:
	default:
		g.rematch()
	}
}

// DeclineRematch turns down the opponent's rematch offer.
func (g *Game) DeclineRematch(p *Player) {
	if !g.IsPlaying(p) || g.rematchOfferedBy == nil || g.rematchOfferedBy == p {
		return
	}
	g.rematchOfferedBy = nil
	g.Events.RematchDeclined.Fire(p)
}

// Chat posts a message from a player or spectator.
func (g *Game) Chat(p *Player, message string) {
	g.Events.Chat.Fire(ChatMessage{Player: p, Message: message})
}

func (g *Game) rematch() {
	g.rematchOfferedBy = nil
	next := New(g.players[Black], g.players[White], g.tc, g.sched, g.settings)
	g.Events.Rematch.Fire(next)
}

func (g *Game) clocksRunning() bool {
	return g.inProgress && len(g.history) >= 2
}

func (g *Game) play(from, to int, promoteTo string) error {
	promote, err := normalisePromotion(promoteTo)
	if err != nil {
		return err
	}
	if !validSquare(from) || !validSquare(to) {
		return domain.ErrIllegalMove
	}

	mover := g.ActiveColour()
	now := g.sched.Now()
	elapsed := now.Sub(g.turnStart)
	if g.clocksRunning() && elapsed >= g.clocks[mover] {
		g.timeout()
		return domain.ErrGameNotInProgress
	}

	move := Move{From: from, To: to, PromoteTo: promote, Index: len(g.history), Time: elapsed}
	if err := g.push(&move); err != nil {
		return err
	}

	if g.clocksRunning() {
		g.clocks[mover] += g.tc.Increment - elapsed
	}
	g.history = append(g.history, move)
	g.positions = append(g.positions, positionKey(g.board.FEN()))
	g.turnStart = now
	if g.drawOfferedBy != nil && *g.drawOfferedBy != mover {
		g.drawOfferedBy = nil
	}

	g.Events.Move.Fire(move)

	if result, over := boardResult(g.board); over {
		g.finish(result)
		return nil
	}
	g.armTimer()
	g.playPremove()
	return nil
}

// push applies m to the board, promoting to a queen when a promotion piece
// is required but missing.
func (g *Game) push(m *Move) error {
	err := g.board.PushNotationMove(m.UCI(), nchess.UCINotation{}, nil)
	if err == nil {
		return nil
	}
	if m.PromoteTo == "" {
		m.PromoteTo = "Q"
		if g.board.PushNotationMove(m.UCI(), nchess.UCINotation{}, nil) == nil {
			return nil
		}
		m.PromoteTo = ""
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrIllegalMove, m.UCI(), err)
}

func (g *Game) playPremove() {
	pm := g.premove
	if pm == nil || !g.inProgress || pm.Colour != g.ActiveColour() {
		return
	}
	g.premove = nil
	// an illegal premove is dropped
	_ = g.play(pm.From, pm.To, pm.PromoteTo)
}

// armTimer schedules the abort timer until both sides have moved, and the
// flag of the side to move after that.
func (g *Game) armTimer() {
	g.stopTimer()
	if !g.inProgress {
		return
	}
	if len(g.history) < 2 {
		if g.settings.FirstMoveTimeout > 0 {
			g.timer = g.sched.AfterFunc(g.settings.FirstMoveTimeout, g.abort)
		}
		return
	}
	g.timer = g.sched.AfterFunc(g.clocks[g.ActiveColour()], g.timeout)
}

func (g *Game) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Game) timeout() {
	if !g.inProgress {
		return
	}
	loser := g.ActiveColour()
	g.clocks[loser] = 0
	g.finish(win(loser.Opposite(), MethodTimeout))
}

func (g *Game) abort() {
	if !g.inProgress {
		return
	}
	g.end()
	g.Events.Aborted.Fire(g)
}

func (g *Game) finish(result Result) {
	if g.clocksRunning() {
		active := g.ActiveColour()
		g.clocks[active] = g.TimeLeft(active)
	}
	g.result = &result
	for _, c := range Colours {
		g.finalGlicko2[c] = g.players[c].Glicko2()
	}
	g.end()
	g.Events.GameOver.Fire(result)
}

// FinalGlicko2 returns the rating colour c had when the game finished.
// GameOver handlers that update ratings read the opponent's from here.
func (g *Game) FinalGlicko2(c Colour) domain.Glicko2 { return g.finalGlicko2[c] }

func (g *Game) end() {
	g.inProgress = false
	g.endTime = g.sched.Now()
	g.stopTimer()
	g.premove = nil
	g.drawOfferedBy = nil
}
