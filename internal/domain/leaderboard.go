package domain

import (
	"time"
)

// RatingLeaderboardID is the only leaderboard the broker maintains.
const RatingLeaderboardID = "rating"

// LeaderboardEntry represents a single entry in the rating leaderboard
type LeaderboardEntry struct {
	Rank     int64   `json:"rank"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
}

// RatingUpdate is published whenever a player's rating period closes
type RatingUpdate struct {
	Username  string    `json:"username"`
	Rating    float64   `json:"rating"`
	RD        float64   `json:"rd"`
	Vol       float64   `json:"vol"`
	Timestamp time.Time `json:"timestamp"`
}

// GameSummary is published when a game finishes
type GameSummary struct {
	GameID      string    `json:"game_id"`
	White       string    `json:"white"`
	Black       string    `json:"black"`
	Result      string    `json:"result"`
	Method      string    `json:"method"`
	Moves       int       `json:"moves"`
	InitialTime string    `json:"initial_time"`
	Increment   string    `json:"increment"`
	EndTime     time.Time `json:"end_time"`
}
