package game

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/chess-broker/internal/domain"
)

// Identity is whatever currently stands behind a Player, normally a
// session.
type Identity interface {
	Username() string
	IsLoggedIn() bool
	Glicko2() domain.Glicko2
	GamesAsWhiteRatio() float64
}

// Player is the identity a game refers to. It outlives the session that
// created it: when a session is replaced the new one takes over the Player.
type Player struct {
	id   string
	user Identity
}

func NewPlayer(user Identity) *Player {
	return &Player{id: uuid.NewString(), user: user}
}

func (p *Player) ID() string { return p.id }

func (p *Player) User() Identity { return p.user }

// SetUser re-points the player at a new identity.
func (p *Player) SetUser(user Identity) { p.user = user }

func (p *Player) Name() string { return p.user.Username() }

func (p *Player) Rating() float64 { return p.user.Glicko2().Rating }

func (p *Player) Glicko2() domain.Glicko2 { return p.user.Glicko2() }

func (p *Player) GamesAsWhiteRatio() float64 { return p.user.GamesAsWhiteRatio() }

func (p *Player) IsLoggedIn() bool { return p.user.IsLoggedIn() }

// PlayerDetails is the JSON form of a player.
type PlayerDetails struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Rating     float64 `json:"rating"`
	IsLoggedIn bool    `json:"isLoggedIn"`
}

func (p *Player) Details() PlayerDetails {
	return PlayerDetails{
		ID:         p.id,
		Name:       p.Name(),
		Rating:     p.Rating(),
		IsLoggedIn: p.IsLoggedIn(),
	}
}

func (p *Player) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Details())
}
