package broker

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
)

// trackedGame is a game a session receives messages for. bindings holds
// both the "/game/<id>/..." subscriptions and the game event handlers so
// the whole set is torn down together.
type trackedGame struct {
	game     *game.Game
	bindings []event.Binding
}

func (s *Session) tracked(id string) *trackedGame {
	for _, t := range s.games {
		if t.game.ID() == id {
			return t
		}
	}
	return nil
}

// CurrentGames returns the games the session is tracking
func (s *Session) CurrentGames() []*game.Game {
	games := make([]*game.Game, len(s.games))
	for i, t := range s.games {
		games[i] = t.game
	}
	return games
}

func (s *Session) isPlayer(g *game.Game) bool {
	return g.IsPlaying(s.player)
}

func (s *Session) hasGamesInProgress() bool {
	for _, t := range s.games {
		if t.game.IsInProgress() && s.isPlayer(t.game) {
			return true
		}
	}
	return false
}

func (s *Session) addGame(g *game.Game) {
	t := &trackedGame{game: g}
	t.bindings = append(s.subscribeToGameMessages(g), s.bindGameEvents(g)...)
	s.games = append(s.games, t)
}

func (s *Session) subscribeToGameMessages(g *game.Game) []event.Binding {
	prefix := "/game/" + g.ID() + "/"

	handlers := map[string]func(json.RawMessage){
		"request/moves": func(data json.RawMessage) {
			from := max(0, decode[int](data))
			history := g.History()
			for i := from; i < len(history); i++ {
				s.send(prefix+"move", history[i])
			}
		},
		"chat": func(data json.RawMessage) {
			if msg := decode[string](data); msg != "" {
				g.Chat(s.player, msg)
			}
		},
		"move": func(data json.RawMessage) {
			m := decode[movePayload](data)
			s.logIgnored(g, "move", g.Move(s.player, m.From, m.To, m.PromoteTo))
		},
		"premove": func(data json.RawMessage) {
			m := decode[movePayload](data)
			if c, ok := g.PlayerColour(s.player); ok && c == g.ActiveColour() {
				s.logIgnored(g, "move", g.Move(s.player, m.From, m.To, m.PromoteTo))
				return
			}
			s.logIgnored(g, "premove", g.Premove(s.player, m.From, m.To, m.PromoteTo))
		},
		"request/premove": func(json.RawMessage) {
			if c, ok := g.PlayerColour(s.player); ok && c != g.ActiveColour() {
				s.send(prefix+"premove", g.PendingPremove())
			}
		},
		"premove/cancel": func(json.RawMessage) {
			g.CancelPremove(s.player)
		},
		"resign": func(json.RawMessage) {
			g.Resign(s.player)
		},
		"offer_draw": func(json.RawMessage) {
			g.OfferDraw(s.player)
		},
		"claim_draw": func(json.RawMessage) {
			s.logIgnored(g, "claim_draw", g.ClaimDraw(s.player))
		},
		"accept_draw": func(json.RawMessage) {
			s.logIgnored(g, "accept_draw", g.AcceptDraw(s.player))
		},
		"rematch": func(json.RawMessage) {
			g.OfferRematch(s.player)
		},
		"decline_rematch": func(json.RawMessage) {
			g.DeclineRematch(s.player)
		},
	}

	bindings := make([]event.Binding, 0, len(handlers))
	for topic, fn := range handlers {
		bindings = append(bindings, s.conn.Subscribe(prefix+topic, fn))
	}
	return bindings
}

// logIgnored records a rejected game action. Rejections are not reported
// to the client; its board is authoritative only after the move echo.
func (s *Session) logIgnored(g *game.Game, action string, err error) {
	if err != nil {
		s.logger.Debug("game action rejected",
			zap.String("game_id", g.ID()),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *Session) bindGameEvents(g *game.Game) []event.Binding {
	prefix := "/game/" + g.ID() + "/"
	ev := &g.Events

	bindings := []event.Binding{
		ev.Move.AddHandler(func(m game.Move) {
			s.send(prefix+"move", m)
		}),
		ev.Aborted.AddHandler(func(*game.Game) {
			s.removeGame(g)
			s.send(prefix+"aborted", nil)
		}),
		ev.DrawOffered.AddHandler(func(c game.Colour) {
			s.send(prefix+"draw_offer", c.FenString())
		}),
		ev.Rematch.AddHandler(func(next *game.Game) {
			s.addGame(next)
			s.send(prefix+"rematch", next)
		}),
		ev.GameOver.AddHandler(func(result game.Result) {
			if s.isPlayer(g) {
				s.registerCompletedRatedGame(g, result)
			}
			s.send(prefix+"game_over", gameOverPayload{Result: result})
		}),
		ev.Chat.AddHandler(func(msg game.ChatMessage) {
			if s.isPlayer(g) && !g.IsPlaying(msg.Player) {
				return
			}
			s.send(prefix+"chat", chatPayload{From: msg.Player.Name(), Body: msg.Message})
		}),
	}

	if s.isPlayer(g) {
		bindings = append(bindings,
			ev.RematchOffered.AddHandler(func(p *game.Player) {
				if p != s.player {
					s.send(prefix+"rematch_offer", nil)
				}
			}),
			ev.RematchDeclined.AddHandler(func(p *game.Player) {
				if p != s.player {
					s.send(prefix+"rematch_declined", nil)
				}
			}),
		)
	}
	return bindings
}

// spectate starts tracking a game the session is not yet part of. It
// returns nil if no live game has the id.
func (s *Session) spectate(id string) *game.Game {
	if t := s.tracked(id); t != nil {
		return t.game
	}
	g := s.app.Game(id)
	if g != nil {
		s.addGame(g)
	}
	return g
}

func (s *Session) removeGame(g *game.Game) {
	for i, t := range s.games {
		if t.game == g {
			event.RemoveAll(t.bindings)
			s.games = append(s.games[:i], s.games[i+1:]...)
			return
		}
	}
}

// removeInactiveGames stops tracking games that ended longer ago than the
// inactive game expiry
func (s *Session) removeInactiveGames() {
	now := s.app.sched.Now()
	kept := s.games[:0]
	for _, t := range s.games {
		g := t.game
		if g.IsInProgress() || now.Sub(g.EndTime()) < s.app.cfg.InactiveGameExpiry {
			kept = append(kept, t)
			continue
		}
		event.RemoveAll(t.bindings)
	}
	clear(s.games[len(kept):])
	s.games = kept
}

func (s *Session) dropGames() {
	for _, t := range s.games {
		event.RemoveAll(t.bindings)
	}
	s.games = nil
}

func (s *Session) resignGames() {
	for _, g := range s.CurrentGames() {
		g.Resign(s.player)
	}
}

// registerCompletedRatedGame records the outcome of a game the session
// played. Ratings are recomputed once a full rating period of results has
// accumulated.
func (s *Session) registerCompletedRatedGame(g *game.Game, result game.Result) {
	colour, _ := g.PlayerColour(s.player)
	if colour == game.White {
		s.gamesAsWhite++
	} else {
		s.gamesAsBlack++
	}

	s.recentRatedResults = append(s.recentRatedResults, domain.RatedResult{
		OpponentGlicko2: g.FinalGlicko2(colour.Opposite()),
		PlayerScore:     result.Scores.Of(colour),
	})

	if len(s.recentRatedResults) >= s.app.cfg.GamesPerRatingPeriod {
		s.glicko2 = s.app.ratings.Update(s.glicko2, s.recentRatedResults)
		s.recentRatedResults = nil
		s.logger.Info("rating period closed",
			zap.String("username", s.username),
			zap.Float64("rating", s.glicko2.Rating),
		)
		if s.loggedIn {
			s.app.notifier.RatingUpdated(domain.RatingUpdate{
				Username:  s.username,
				Rating:    s.glicko2.Rating,
				RD:        s.glicko2.RD,
				Vol:       s.glicko2.Vol,
				Timestamp: s.app.sched.Now(),
			})
		}
	}

	s.updateDB()
}
