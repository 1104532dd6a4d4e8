package broker

import (
	"encoding/json"
	"strings"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
)

type restoreRequest struct {
	GameDetails game.Details `json:"gameDetails"`
}

func (s *Session) subscribeToUserMessages() {
	handlers := map[string]func(json.RawMessage){
		"/user/login": func(data json.RawMessage) {
			c := decode[credentials](data)
			s.login(c.Username, c.Password)
		},
		"/user/logout": func(json.RawMessage) {
			s.resignGames()
			s.updateDB()
			s.logout()
		},
		"/user/register": func(data json.RawMessage) {
			c := decode[credentials](data)
			s.register(c.Username, c.Password)
		},
		"/challenge/create": func(data json.RawMessage) {
			s.createChallenge(decode[domain.ChallengeOptions](data))
		},
		"/challenge/cancel": func(json.RawMessage) {
			s.cancelCurrentChallenge()
		},
		"/challenge/accept": func(data json.RawMessage) {
			s.acceptChallenge(decode[string](data))
		},
		"/request/game": func(data json.RawMessage) {
			id := decode[string](data)
			if g := s.spectate(id); g != nil {
				s.send("/game", g)
				return
			}
			s.send("/game/not_found", id)
		},
		"/request/games": func(json.RawMessage) {
			s.send("/games", s.CurrentGames())
		},
		"/request/user": func(json.RawMessage) {
			s.send("/user", s.privateJSON())
		},
		"/request/challenges": func(json.RawMessage) {
			s.send("/challenges", s.app.OpenChallenges())
		},
		"/user/prefs/update": func(data json.RawMessage) {
			s.prefs.Merge(decode[map[string]json.RawMessage](data))
		},
		"/request/time": func(data json.RawMessage) {
			s.send("/time/"+requestID(data), s.app.sched.Now().UnixMilli())
		},
		"/game/restore": func(data json.RawMessage) {
			s.restoreGame(decode[restoreRequest](data).GameDetails)
		},
		"/game/restore/cancel": func(data json.RawMessage) {
			s.app.CancelGameRestoration(s.player, decode[string](data))
		},
		"/request/restoration_requests": func(json.RawMessage) {
			s.send("/restoration_requests", append([]string{}, s.pendingRestorations...))
		},
		"/random_games/subscribe": func(json.RawMessage) {
			s.watchRandomGames()
		},
		"/random_games/unsubscribe": func(json.RawMessage) {
			s.removeRandomGamesHandlers()
		},
	}

	for topic, fn := range handlers {
		s.handlers = append(s.handlers, s.conn.Subscribe(topic, fn))
	}
}

// requestID accepts both string and numeric request ids
func requestID(data json.RawMessage) string {
	if id := decode[string](data); id != "" {
		return id
	}
	return strings.TrimSpace(string(data))
}

func (s *Session) setupRandomGamesHandlers() {
	feed := s.app.RandomGames()
	s.randomGamesHandlers = []event.Binding{
		feed.Move.AddHandler(func(rm RandomMove) {
			if rm.Game.IsInProgress() {
				s.sendRandomGame(rm.Game)
			}
		}),
		feed.GameOver.AddHandler(func(g *game.Game) {
			s.send("/random_game/game_over", g.ID())
		}),
		feed.NewGame.AddHandler(func(g *game.Game) {
			s.sendRandomGame(g)
		}),
	}
	event.RemoveAll(s.randomGamesHandlers)
}

func (s *Session) watchRandomGames() {
	if !s.watchingRandomGames {
		s.watchingRandomGames = true
		for _, b := range s.randomGamesHandlers {
			b.Add()
		}
	}
	for _, g := range s.app.RandomGames().Games() {
		s.sendRandomGame(g)
	}
}

func (s *Session) removeRandomGamesHandlers() {
	s.watchingRandomGames = false
	event.RemoveAll(s.randomGamesHandlers)
}

func (s *Session) sendRandomGame(g *game.Game) {
	payload := randomGamePayload{ID: g.ID(), FEN: g.FEN()}
	if m, ok := g.LastMove(); ok {
		payload.LastMove = &squarePair{From: m.From, To: m.To}
	}
	s.send("/random_game", payload)
}
