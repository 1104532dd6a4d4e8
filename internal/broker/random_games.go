package broker

import (
	"slices"

	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
)

// RandomMove is a move played in one of the feed's games
type RandomMove struct {
	Game *game.Game
	Move game.Move
}

// RandomGames is a bounded window over live games for spectators who want
// to watch any game
type RandomGames struct {
	Move     event.Event[RandomMove]
	GameOver event.Event[*game.Game]
	NewGame  event.Event[*game.Game]

	count    int
	games    []*game.Game
	bindings map[*game.Game][]event.Binding
}

// NewRandomGames watches up to count of app's games
func NewRandomGames(app *Application, count int) *RandomGames {
	r := &RandomGames{
		count:    count,
		bindings: make(map[*game.Game][]event.Binding),
	}
	app.NewGame.AddHandler(func(g *game.Game) {
		if len(r.games) < r.count {
			r.addGame(g)
		}
	})
	for _, g := range app.CurrentGames() {
		if len(r.games) >= r.count {
			break
		}
		r.addGame(g)
	}
	return r
}

// Games returns the games currently in the window
func (r *RandomGames) Games() []*game.Game {
	return slices.Clone(r.games)
}

func (r *RandomGames) addGame(g *game.Game) {
	r.games = append(r.games, g)
	r.bindings[g] = []event.Binding{
		g.Events.GameOver.AddHandler(func(game.Result) { r.removeGame(g) }),
		g.Events.Aborted.AddHandler(func(*game.Game) { r.removeGame(g) }),
		g.Events.Move.AddHandler(func(m game.Move) {
			r.Move.Fire(RandomMove{Game: g, Move: m})
		}),
	}
	r.NewGame.Fire(g)
}

func (r *RandomGames) removeGame(g *game.Game) {
	i := slices.Index(r.games, g)
	if i < 0 {
		return
	}
	r.games = slices.Delete(r.games, i, i+1)
	event.RemoveAll(r.bindings[g])
	delete(r.bindings, g)
	r.GameOver.Fire(g)
}
