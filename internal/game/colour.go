package game

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// Colour is the side a player plays.
type Colour int

const (
	White Colour = iota
	Black
)

// Colours lists both sides, white first.
var Colours = [2]Colour{White, Black}

// Opposite returns the other side.
func (c Colour) Opposite() Colour {
	if c == White {
		return Black
	}
	return White
}

// FenString returns the FEN active-colour letter.
func (c Colour) FenString() string {
	if c == White {
		return "w"
	}
	return "b"
}

func (c Colour) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

func (c Colour) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Colour) UnmarshalText(text []byte) error {
	switch string(text) {
	case "white", "w":
		*c = White
	case "black", "b":
		*c = Black
	default:
		return fmt.Errorf("unknown colour %q", text)
	}
	return nil
}

func colourOf(c nchess.Color) Colour {
	if c == nchess.Black {
		return Black
	}
	return White
}
