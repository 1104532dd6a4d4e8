package game

import (
	"strconv"
	"strings"
)

// positionKey keeps the FEN fields that make two positions the same for
// repetition purposes: placement, side to move, castling and en passant.
func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// halfmoveClock returns the FEN halfmove clock, or 0 if it is missing.
func halfmoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return n
}

// claimableDraw returns the method by which a draw may be claimed in the
// current position, or "" if none applies.
func (g *Game) claimableDraw() string {
	if len(g.positions) > 0 {
		current := g.positions[len(g.positions)-1]
		seen := 0
		for _, p := range g.positions {
			if p == current {
				seen++
			}
		}
		if seen >= 3 {
			return MethodThreefold
		}
	}
	if halfmoveClock(g.board.FEN()) >= 100 {
		return MethodFiftyMove
	}
	return ""
}
