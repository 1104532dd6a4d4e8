package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrGameNotFound       = errors.New("game not found")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
	ErrInvalidTimeControl = errors.New("invalid time control")
	ErrZeroInitialTime    = errors.New("initial time must be at least 1 unit")
	ErrInvalidRatingBand  = errors.New("invalid rating band")
	ErrNotPlaying         = errors.New("player is not playing in this game")
	ErrGameNotInProgress  = errors.New("game is not in progress")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrIllegalMove        = errors.New("illegal move")
	ErrPremovePending     = errors.New("a premove is already pending")
	ErrNoDrawOffer        = errors.New("no draw offer to accept")
	ErrDrawNotClaimable   = errors.New("draw cannot be claimed in this position")
	ErrInvalidBackup      = errors.New("invalid game backup")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrChallengeNotFound)
}
