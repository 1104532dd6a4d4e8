package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/loop"
)

// Clocks are the remaining times in milliseconds.
type Clocks struct {
	White int64 `json:"white"`
	Black int64 `json:"black"`
}

// Details is the serialised form of a game. It is what clients receive,
// what gets archived when a game ends and what a restoration backup holds.
type Details struct {
	ID           string        `json:"id"`
	White        PlayerDetails `json:"white"`
	Black        PlayerDetails `json:"black"`
	Options      Options       `json:"options"`
	History      []Move        `json:"history"`
	IsInProgress bool          `json:"isInProgress"`
	StartTime    int64         `json:"startTime"`
	EndTime      *int64        `json:"endTime"`
	Result       *Result       `json:"result"`
	FEN          string        `json:"fen"`
	Clocks       Clocks        `json:"clocks"`
}

// Details snapshots the game as of now.
func (g *Game) Details() Details {
	d := Details{
		ID:           g.id,
		White:        g.players[White].Details(),
		Black:        g.players[Black].Details(),
		Options:      g.tc.Options(),
		History:      g.History(),
		IsInProgress: g.inProgress,
		StartTime:    g.startTime.UnixMilli(),
		Result:       g.result,
		FEN:          g.board.FEN(),
		Clocks: Clocks{
			White: g.TimeLeft(White).Milliseconds(),
			Black: g.TimeLeft(Black).Milliseconds(),
		},
	}
	if d.History == nil {
		d.History = []Move{}
	}
	if !g.inProgress {
		end := g.endTime.UnixMilli()
		d.EndTime = &end
	}
	return d
}

func (g *Game) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Details())
}

// Restore rebuilds an in-progress game from a backup, with white and black
// as its players. The clocks resume from the backed up times.
func Restore(white, black *Player, d Details, sched loop.Scheduler, settings Settings) (*Game, error) {
	if d.ID == "" || !d.IsInProgress {
		return nil, domain.ErrInvalidBackup
	}
	tc, err := NewTimeControl(d.Options.InitialTime, d.Options.TimeIncrement)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBackup, err)
	}

	g := newGame(d.ID, white, black, tc, sched, settings)
	for i, m := range d.History {
		m.Index = i
		if err := g.push(&m); err != nil {
			return nil, fmt.Errorf("%w: move %d: %v", domain.ErrInvalidBackup, i, err)
		}
		g.history = append(g.history, m)
		g.positions = append(g.positions, positionKey(g.board.FEN()))
	}
	if _, over := boardResult(g.board); over {
		return nil, fmt.Errorf("%w: game is already over", domain.ErrInvalidBackup)
	}

	if d.Clocks.White > 0 || d.Clocks.Black > 0 {
		g.clocks = [2]time.Duration{
			time.Duration(d.Clocks.White) * time.Millisecond,
			time.Duration(d.Clocks.Black) * time.Millisecond,
		}
	}
	g.startTime = time.UnixMilli(d.StartTime)
	g.turnStart = sched.Now()
	g.armTimer()
	return g, nil
}
