package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/loop"
)

type stubIdentity struct {
	name   string
	rating float64
}

func (s *stubIdentity) Username() string { return s.name }
func (s *stubIdentity) IsLoggedIn() bool { return true }
func (s *stubIdentity) Glicko2() domain.Glicko2 {
	g := domain.DefaultGlicko2()
	g.Rating = s.rating
	return g
}
func (s *stubIdentity) GamesAsWhiteRatio() float64 { return 1 }

func sq(t *testing.T, name string) int {
	t.Helper()
	n, ok := SquareNumber(name)
	require.True(t, ok, name)
	return n
}

type fixture struct {
	sched        *loop.Manual
	white, black *Player
	game         *Game
}

func newFixture(t *testing.T, initial, increment string) *fixture {
	t.Helper()
	tc, err := NewTimeControl(initial, increment)
	require.NoError(t, err)
	f := &fixture{
		sched: loop.NewManual(time.Unix(1000, 0)),
		white: NewPlayer(&stubIdentity{name: "alice", rating: 1500}),
		black: NewPlayer(&stubIdentity{name: "bob", rating: 1520}),
	}
	f.game = New(f.white, f.black, tc, f.sched, Settings{FirstMoveTimeout: 30 * time.Second})
	return f
}

func (f *fixture) play(t *testing.T, moves ...string) {
	t.Helper()
	for _, m := range moves {
		p := f.white
		if f.game.ActiveColour() == Black {
			p = f.black
		}
		require.NoError(t, f.game.Move(p, sq(t, m[:2]), sq(t, m[2:4]), m[4:]), m)
	}
}

func TestFoolsMateEndsGame(t *testing.T) {
	f := newFixture(t, "5m", "0")
	var moves []Move
	var results []Result
	f.game.Events.Move.AddHandler(func(m Move) { moves = append(moves, m) })
	f.game.Events.GameOver.AddHandler(func(r Result) { results = append(results, r) })

	f.play(t, "f2f3", "e7e5", "g2g4", "d8h4")

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Winner)
	assert.Equal(t, Black, *results[0].Winner)
	assert.Equal(t, "checkmate", results[0].Method)
	assert.Equal(t, Scores{White: 0, Black: 1}, results[0].Scores)
	assert.Len(t, moves, 4)
	assert.Equal(t, 3, moves[3].Index)
	assert.False(t, f.game.IsInProgress())
	assert.Equal(t, f.sched.Now(), f.game.EndTime())
	assert.Equal(t, 0, f.sched.PendingTimers())
}

func TestMoveRejections(t *testing.T) {
	f := newFixture(t, "5m", "0")
	spectator := NewPlayer(&stubIdentity{name: "carol"})

	assert.ErrorIs(t, f.game.Move(f.black, sq(t, "e7"), sq(t, "e5"), ""), domain.ErrNotYourTurn)
	assert.ErrorIs(t, f.game.Move(spectator, sq(t, "e2"), sq(t, "e4"), ""), domain.ErrNotPlaying)
	assert.ErrorIs(t, f.game.Move(f.white, sq(t, "e2"), sq(t, "e5"), ""), domain.ErrIllegalMove)
	assert.ErrorIs(t, f.game.Move(f.white, 64, 0, ""), domain.ErrIllegalMove)
	assert.ErrorIs(t, f.game.Move(f.white, sq(t, "e2"), sq(t, "e4"), "K"), domain.ErrIllegalMove)
	assert.Empty(t, f.game.History())
}

func TestPremovePlaysOnOpponentMove(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "e2e4")

	require.NoError(t, f.game.Premove(f.white, sq(t, "d2"), sq(t, "d4"), ""))
	assert.ErrorIs(t, f.game.Premove(f.white, sq(t, "g1"), sq(t, "f3"), ""), domain.ErrPremovePending)
	assert.ErrorIs(t, f.game.Premove(f.black, sq(t, "d7"), sq(t, "d5"), ""), domain.ErrNotYourTurn)
	require.NotNil(t, f.game.PendingPremove())

	f.play(t, "e7e5")

	history := f.game.History()
	require.Len(t, history, 3)
	assert.Equal(t, "d2d4", history[2].UCI())
	assert.Nil(t, f.game.PendingPremove())
	assert.Equal(t, Black, f.game.ActiveColour())
}

func TestIllegalPremoveIsDropped(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "e2e4")
	require.NoError(t, f.game.Premove(f.white, sq(t, "e4"), sq(t, "e6"), ""))

	f.play(t, "e7e5")

	assert.Len(t, f.game.History(), 2)
	assert.Nil(t, f.game.PendingPremove())
	assert.Equal(t, White, f.game.ActiveColour())
}

func TestCancelPremove(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "e2e4")
	require.NoError(t, f.game.Premove(f.white, sq(t, "d2"), sq(t, "d4"), ""))

	f.game.CancelPremove(f.black)
	assert.NotNil(t, f.game.PendingPremove())
	f.game.CancelPremove(f.white)
	assert.Nil(t, f.game.PendingPremove())
}

func TestFirstMoveTimeoutAborts(t *testing.T) {
	f := newFixture(t, "5m", "0")
	aborted := 0
	f.game.Events.Aborted.AddHandler(func(*Game) { aborted++ })
	f.game.Events.GameOver.AddHandler(func(Result) { t.Fatal("aborted game must not end with a result") })

	f.play(t, "e2e4")
	f.sched.Advance(29 * time.Second)
	assert.True(t, f.game.IsInProgress())
	f.sched.Advance(time.Second)

	assert.Equal(t, 1, aborted)
	assert.False(t, f.game.IsInProgress())
	assert.Nil(t, f.game.Result())
}

func TestFlagFallsOnTime(t *testing.T) {
	f := newFixture(t, "1m", "0")
	var result *Result
	f.game.Events.GameOver.AddHandler(func(r Result) { result = &r })

	f.play(t, "e2e4", "e7e5")
	f.sched.Advance(59 * time.Second)
	assert.Nil(t, result)
	assert.Equal(t, time.Second, f.game.TimeLeft(White))

	f.sched.Advance(time.Second)
	require.NotNil(t, result)
	assert.Equal(t, Black, *result.Winner)
	assert.Equal(t, MethodTimeout, result.Method)
	assert.Equal(t, time.Duration(0), f.game.TimeLeft(White))
}

func TestIncrementIsAddedAfterMove(t *testing.T) {
	f := newFixture(t, "1m", "2")
	f.play(t, "e2e4", "e7e5")

	f.sched.Advance(10 * time.Second)
	f.play(t, "g1f3")

	assert.Equal(t, 52*time.Second, f.game.TimeLeft(White))
	assert.Equal(t, time.Minute, f.game.TimeLeft(Black))
	last, ok := f.game.LastMove()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, last.Time)
}

func TestDrawOfferAndAccept(t *testing.T) {
	f := newFixture(t, "5m", "0")
	var offers []Colour
	f.game.Events.DrawOffered.AddHandler(func(c Colour) { offers = append(offers, c) })

	f.game.OfferDraw(f.white)
	assert.Empty(t, offers, "offer is made after moving")

	f.play(t, "e2e4")
	f.game.OfferDraw(f.white)
	require.Equal(t, []Colour{White}, offers)
	assert.ErrorIs(t, f.game.AcceptDraw(f.white), domain.ErrNoDrawOffer)

	require.NoError(t, f.game.AcceptDraw(f.black))
	require.NotNil(t, f.game.Result())
	assert.True(t, f.game.Result().IsDraw())
	assert.Equal(t, MethodDrawAgreed, f.game.Result().Method)
}

func TestDrawOfferLapsesWhenOpponentMoves(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "e2e4")
	f.game.OfferDraw(f.white)

	f.play(t, "e7e5")

	assert.ErrorIs(t, f.game.AcceptDraw(f.black), domain.ErrNoDrawOffer)
}

func TestClaimDrawByRepetition(t *testing.T) {
	f := newFixture(t, "5m", "0")
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}

	f.play(t, shuffle...)
	assert.ErrorIs(t, f.game.ClaimDraw(f.white), domain.ErrDrawNotClaimable)

	f.play(t, shuffle...)
	require.NoError(t, f.game.ClaimDraw(f.white))
	assert.Equal(t, MethodThreefold, f.game.Result().Method)
	assert.Equal(t, "1/2-1/2", f.game.Result().Summary())
}

func TestResign(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.game.Resign(NewPlayer(&stubIdentity{name: "carol"}))
	assert.True(t, f.game.IsInProgress())

	f.game.Resign(f.white)
	require.NotNil(t, f.game.Result())
	assert.Equal(t, Black, *f.game.Result().Winner)
	assert.Equal(t, MethodResignation, f.game.Result().Method)
}

func TestRematchSwapsColours(t *testing.T) {
	f := newFixture(t, "3m", "2")
	var offeredBy []*Player
	var next *Game
	f.game.Events.RematchOffered.AddHandler(func(p *Player) { offeredBy = append(offeredBy, p) })
	f.game.Events.Rematch.AddHandler(func(g *Game) { next = g })

	f.game.OfferRematch(f.white)
	assert.Empty(t, offeredBy, "no rematch while in progress")

	f.game.Resign(f.black)
	f.game.OfferRematch(f.white)
	f.game.OfferRematch(f.white)
	assert.Equal(t, []*Player{f.white}, offeredBy)

	f.game.OfferRematch(f.black)
	require.NotNil(t, next)
	assert.Same(t, f.black, next.Player(White))
	assert.Same(t, f.white, next.Player(Black))
	assert.True(t, next.TimeControl().Equal(f.game.TimeControl()))
	assert.NotEqual(t, f.game.ID(), next.ID())
}

func TestDeclineRematch(t *testing.T) {
	f := newFixture(t, "5m", "0")
	var declined []*Player
	f.game.Events.RematchDeclined.AddHandler(func(p *Player) { declined = append(declined, p) })
	f.game.Resign(f.black)

	f.game.DeclineRematch(f.black)
	assert.Empty(t, declined)

	f.game.OfferRematch(f.white)
	f.game.DeclineRematch(f.white)
	f.game.DeclineRematch(f.black)
	assert.Equal(t, []*Player{f.black}, declined)
}

func TestChatFiresForAnyone(t *testing.T) {
	f := newFixture(t, "5m", "0")
	spectator := NewPlayer(&stubIdentity{name: "carol"})
	var got []ChatMessage
	f.game.Events.Chat.AddHandler(func(m ChatMessage) { got = append(got, m) })

	f.game.Chat(spectator, "hi")

	require.Len(t, got, 1)
	assert.Same(t, spectator, got[0].Player)
	assert.Equal(t, "hi", got[0].Message)
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "h2h4", "g7g5", "h4g5", "h7h6", "g5h6", "g8f6", "h6h7", "f6g8")
	f.play(t, "h7g8")

	last, _ := f.game.LastMove()
	assert.Equal(t, "Q", last.PromoteTo)
	data, err := json.Marshal(last)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "promoteTo")

	f.play(t, "h8g8")
	f.play(t, "a2a3", "a7a6")
	assert.Len(t, f.game.History(), 12)
}

func TestDetailsRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, "5m", "3")
	f.play(t, "e2e4", "e7e5", "g1f3")

	data, err := json.Marshal(f.game)
	require.NoError(t, err)
	var d Details
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "alice", d.White.Name)
	assert.True(t, d.IsInProgress)
	assert.Nil(t, d.EndTime)
	assert.Equal(t, Options{InitialTime: "5m", TimeIncrement: "3"}, d.Options)

	white := NewPlayer(&stubIdentity{name: "alice"})
	black := NewPlayer(&stubIdentity{name: "bob"})
	restored, err := Restore(white, black, d, f.sched, Settings{})
	require.NoError(t, err)

	assert.Equal(t, f.game.ID(), restored.ID())
	assert.Equal(t, f.game.FEN(), restored.FEN())
	assert.Equal(t, Black, restored.ActiveColour())
	assert.Len(t, restored.History(), 3)
	require.NoError(t, restored.Move(black, sq(t, "b8"), sq(t, "c6"), ""))
}

func TestRestoreRejectsFinishedOrCorruptBackups(t *testing.T) {
	f := newFixture(t, "5m", "0")
	f.play(t, "e2e4")
	d := f.game.Details()

	over := d
	over.IsInProgress = false
	_, err := Restore(f.white, f.black, over, f.sched, Settings{})
	assert.ErrorIs(t, err, domain.ErrInvalidBackup)

	corrupt := d
	corrupt.History = []Move{{From: sq(t, "e2"), To: sq(t, "e5")}}
	_, err = Restore(f.white, f.black, corrupt, f.sched, Settings{})
	assert.ErrorIs(t, err, domain.ErrInvalidBackup)
}
