package domain

// Glicko-2 defaults for a new player
const (
	DefaultRating = 1500.0
	DefaultRD     = 350.0
	DefaultVol    = 0.06
)

// Glicko2 is a player's rating triple
type Glicko2 struct {
	Rating float64 `json:"rating"`
	RD     float64 `json:"rd"`
	Vol    float64 `json:"vol"`
}

// DefaultGlicko2 returns the rating every new identity starts with
func DefaultGlicko2() Glicko2 {
	return Glicko2{Rating: DefaultRating, RD: DefaultRD, Vol: DefaultVol}
}

// RatedResult is one finished game waiting for the next rating period
type RatedResult struct {
	OpponentGlicko2 Glicko2 `json:"opponentGlicko2"`
	PlayerScore     float64 `json:"playerScore"`
}
