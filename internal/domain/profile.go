package domain

import (
	"encoding/json"
	"time"
)

// AnonymousUsername is reserved for sessions that are not logged in
const AnonymousUsername = "Anonymous"

// ChallengeOptions are the raw options of a challenge as sent by a client.
// Empty fields fall back to the challenge defaults.
type ChallengeOptions struct {
	InitialTime     string `json:"initialTime,omitempty"`
	TimeIncrement   string `json:"timeIncrement,omitempty"`
	AcceptRatingMin string `json:"acceptRatingMin,omitempty"`
	AcceptRatingMax string `json:"acceptRatingMax,omitempty"`
}

// Prefs are the client display and input preferences stored per user
type Prefs struct {
	Premove     bool    `json:"premove"`
	AlwaysQueen bool    `json:"alwaysQueen"`
	PieceStyle  *string `json:"pieceStyle"`
	BoardSize   *int    `json:"boardSize"`
	BoardStyle  *string `json:"boardStyle"`
}

// DefaultPrefs returns the preferences of a fresh session
func DefaultPrefs() Prefs {
	return Prefs{Premove: true}
}

// Merge overwrites the preferences present in raw and ignores unknown keys.
func (p *Prefs) Merge(raw map[string]json.RawMessage) {
	decode := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	decode("premove", &p.Premove)
	decode("alwaysQueen", &p.AlwaysQueen)
	decode("pieceStyle", &p.PieceStyle)
	decode("boardSize", &p.BoardSize)
	decode("boardStyle", &p.BoardStyle)
}

// Profile is the persistent record of a registered user
type Profile struct {
	Username             string            `json:"username"`
	Password             string            `json:"password,omitempty"`
	GamesPlayedAsWhite   int               `json:"gamesPlayedAsWhite"`
	GamesPlayedAsBlack   int               `json:"gamesPlayedAsBlack"`
	Glicko2              Glicko2           `json:"glicko2"`
	LastChallengeOptions *ChallengeOptions `json:"lastChallengeOptions"`
	Prefs                Prefs             `json:"prefs"`
	RecentRatedResults   []RatedResult     `json:"recentRatedResults"`
}

// PublicProfile is the part of a profile exposed over the HTTP API
type PublicProfile struct {
	Username           string    `json:"username"`
	Rating             float64   `json:"rating"`
	RD                 float64   `json:"rd"`
	GamesPlayedAsWhite int       `json:"games_played_as_white"`
	GamesPlayedAsBlack int       `json:"games_played_as_black"`
	FetchedAt          time.Time `json:"fetched_at"`
}

// Public strips the profile down to what anyone may see
func (p *Profile) Public(now time.Time) PublicProfile {
	return PublicProfile{
		Username:           p.Username,
		Rating:             p.Glicko2.Rating,
		RD:                 p.Glicko2.RD,
		GamesPlayedAsWhite: p.GamesPlayedAsWhite,
		GamesPlayedAsBlack: p.GamesPlayedAsBlack,
		FetchedAt:          now,
	}
}
