package game

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chess-broker/internal/domain"
)

// Squares are numbered 0 (a1) to 63 (h8), rank by rank.
const numSquares = 64

func validSquare(n int) bool {
	return n >= 0 && n < numSquares
}

func squareName(n int) string {
	return string([]byte{byte('a' + n%8), byte('1' + n/8)})
}

// SquareNumber parses an algebraic square name such as "e4".
func SquareNumber(name string) (int, bool) {
	if len(name) != 2 {
		return 0, false
	}
	file, rank := name[0], name[1]
	if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
		return 0, false
	}
	return int(rank-'1')*8 + int(file-'a'), true
}

// normalisePromotion accepts a SAN piece letter in either case and returns
// it upper-cased. Empty means no promotion piece was given.
func normalisePromotion(p string) (string, error) {
	switch up := strings.ToUpper(strings.TrimSpace(p)); up {
	case "", "Q", "R", "B", "N":
		return up, nil
	default:
		return "", fmt.Errorf("%w: promotion piece %q", domain.ErrIllegalMove, p)
	}
}

// Move is one move of a game's history.
type Move struct {
	From      int
	To        int
	PromoteTo string
	Index     int
	// Time is how long the mover took.
	Time time.Duration
}

// UCI returns the move in UCI notation.
func (m Move) UCI() string {
	return squareName(m.From) + squareName(m.To) + strings.ToLower(m.PromoteTo)
}

type moveJSON struct {
	From      int    `json:"from"`
	To        int    `json:"to"`
	PromoteTo string `json:"promoteTo,omitempty"`
	Index     int    `json:"index"`
	Time      int64  `json:"time"`
}

// MarshalJSON writes the short move form. Queen promotions are implied and
// left out.
func (m Move) MarshalJSON() ([]byte, error) {
	promote := m.PromoteTo
	if promote == "Q" {
		promote = ""
	}
	return json.Marshal(moveJSON{
		From:      m.From,
		To:        m.To,
		PromoteTo: promote,
		Index:     m.Index,
		Time:      m.Time.Milliseconds(),
	})
}

func (m *Move) UnmarshalJSON(data []byte) error {
	var raw moveJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	promote, err := normalisePromotion(raw.PromoteTo)
	if err != nil {
		return err
	}
	*m = Move{
		From:      raw.From,
		To:        raw.To,
		PromoteTo: promote,
		Index:     raw.Index,
		Time:      time.Duration(raw.Time) * time.Millisecond,
	}
	return nil
}

// Premove is a move queued by the side waiting for its turn.
type Premove struct {
	Colour    Colour `json:"-"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	PromoteTo string `json:"promoteTo,omitempty"`
}
