package broker

import (
	"encoding/json"
	"fmt"
)

// Failure messages sent verbatim to clients
const (
	msgAlreadyLoggedIn         = "You are already logged in"
	msgLoginGamesInProgress    = "You must finish all games before logging in"
	msgBadCredentials          = "Username/password combination not recognised"
	msgRegisterLoggedIn        = "You must be logged out to register an account"
	msgRegisterGamesInProgress = "You must finish all current games before registering an account"
	msgUsernameWhitespace      = "Username must not begin or end with whitespace"
	msgUsernameEmpty           = "Username must be at least 1 character long"
	msgPasswordEmpty           = "Password must be at least 1 character long"
	msgStaleRequest            = "Your session changed while the request was running, please try again"
)

func msgUsernameReserved(name string) string {
	return fmt.Sprintf("'%s' is reserved for anonymous users", name)
}

func msgAlreadyRegistered(name string) string {
	return fmt.Sprintf("The username '%s' is already registered", name)
}

func msgServerError(err error) string {
	return "Server error: " + err.Error()
}

// Failure is an error whose text is shown to the user as is
type Failure string

func (f Failure) Error() string { return string(f) }

// Restoration failures
const (
	ErrRestoreNotOriginalPlayer Failure = "You must be logged in as one of the original players to restore a game"
	ErrRestoreAnonymousPlayers  Failure = "Only games where both players were logged in can be restored"
	ErrRestoreGameInProgress    Failure = "The game is already in progress"
	ErrRestoreCancelled         Failure = "Game restoration cancelled"
	ErrRestoreBackupMismatch    Failure = "The players' backups of this game do not match"
)

// credentials is the payload of /user/login and /user/register
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// movePayload is the payload of /game/<id>/move and premove
type movePayload struct {
	From      int    `json:"from"`
	To        int    `json:"to"`
	PromoteTo string `json:"promoteTo,omitempty"`
}

type chatPayload struct {
	From string `json:"from"`
	Body string `json:"body"`
}

type gameOverPayload struct {
	Result any `json:"result"`
}

type squarePair struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type randomGamePayload struct {
	ID       string      `json:"id"`
	FEN      string      `json:"fen"`
	LastMove *squarePair `json:"lastMove"`
}

// decode unmarshals a payload, leaving the zero value on malformed input
func decode[T any](data json.RawMessage) T {
	var v T
	if len(data) > 0 {
		_ = json.Unmarshal(data, &v)
	}
	return v
}
