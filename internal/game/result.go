package game

import (
	"strings"
	"unicode"

	nchess "github.com/corentings/chess/v2"
)

// Methods by which a game ends, besides those reported by the board.
const (
	MethodResignation  = "resignation"
	MethodTimeout      = "timeout"
	MethodDrawAgreed   = "draw_agreed"
	MethodThreefold    = "threefold_repetition"
	MethodFiftyMove    = "fifty_move_rule"
	MethodBoardUnknown = "unknown"
)

// Scores holds each side's score: 1 for a win, 0.5 for a draw.
type Scores struct {
	White float64 `json:"white"`
	Black float64 `json:"black"`
}

// Of returns the score of colour c.
func (s Scores) Of(c Colour) float64 {
	if c == White {
		return s.White
	}
	return s.Black
}

// Result is how a game ended. Winner is nil for a draw.
type Result struct {
	Winner *Colour `json:"winner"`
	Method string  `json:"method"`
	Scores Scores  `json:"scores"`
}

func win(c Colour, method string) Result {
	r := Result{Winner: &c, Method: method}
	if c == White {
		r.Scores = Scores{White: 1}
	} else {
		r.Scores = Scores{Black: 1}
	}
	return r
}

func draw(method string) Result {
	return Result{Method: method, Scores: Scores{White: 0.5, Black: 0.5}}
}

// IsDraw reports whether neither side won.
func (r Result) IsDraw() bool {
	return r.Winner == nil
}

// Summary returns the result in PGN form.
func (r Result) Summary() string {
	switch {
	case r.Winner == nil:
		return "1/2-1/2"
	case *r.Winner == White:
		return "1-0"
	default:
		return "0-1"
	}
}

func boardResult(g *nchess.Game) (Result, bool) {
	method := snakeCase(g.Method().String())
	if method == "" {
		method = MethodBoardUnknown
	}
	switch g.Outcome() {
	case nchess.WhiteWon:
		return win(White, method), true
	case nchess.BlackWon:
		return win(Black, method), true
	case nchess.Draw:
		return draw(method), true
	default:
		return Result{}, false
	}
}

// snakeCase turns "ThreefoldRepetition" into "threefold_repetition".
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
