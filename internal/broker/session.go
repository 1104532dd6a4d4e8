package broker

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/seek"
	"github.com/chess-broker/internal/store"
	"github.com/chess-broker/internal/websocket"
)

var errBadCredentials = errors.New("bad credentials")

// Session binds one connection to a player identity. A logged in identity
// has at most one authoritative session; logging in elsewhere supersedes
// the old one.
type Session struct {
	Connected    event.Event[struct{}]
	Disconnected event.Event[struct{}]
	LoggedIn     event.Event[struct{}]
	// LoggedOut fires with the username the session was logged in as
	LoggedOut event.Event[string]
	// Replaced fires with the session that took over this one
	Replaced     event.Event[*Session]
	Deregistered event.Event[struct{}]

	id     string
	app    *Application
	conn   Connection
	logger *zap.Logger

	username string
	loggedIn bool
	player   *game.Player
	// generation changes whenever the identity does; async completions
	// started under an older generation are dropped
	generation uint64

	gamesAsWhite         int
	gamesAsBlack         int
	glicko2              domain.Glicko2
	recentRatedResults   []domain.RatedResult
	lastChallengeOptions *domain.ChallengeOptions
	prefs                domain.Prefs

	games               []*trackedGame
	currentChallenge    *seek.Seek
	pendingRestorations []string

	watchingRandomGames bool
	randomGamesHandlers []event.Binding
	handlers            []event.Binding
	superseded          bool
}

func newSession(app *Application, conn Connection) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		app:      app,
		conn:     conn,
		logger:   app.logger.With(zap.String("session_id", id), zap.String("client_id", conn.ID())),
		username: domain.AnonymousUsername,
		glicko2:  domain.DefaultGlicko2(),
		prefs:    domain.DefaultPrefs(),
	}
	s.player = game.NewPlayer(s)

	ev := conn.ClientEvents()
	s.handlers = []event.Binding{
		ev.Disconnected.AddHandler(func(struct{}) {
			s.removeInactiveGames()
			s.Disconnected.Fire(struct{}{})
		}),
		ev.Connected.AddHandler(func(struct{}) {
			s.Connected.Fire(struct{}{})
		}),
		ev.CheckingActivity.AddHandler(func(check *websocket.ActivityCheck) {
			if s.isActive() {
				check.RegisterActivity()
			}
		}),
		ev.Deregistering.AddHandler(func(struct{}) {
			s.deregister()
		}),
	}

	s.setupRandomGamesHandlers()
	s.subscribeToUserMessages()
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Username returns the logged in username, or the anonymous name
func (s *Session) Username() string { return s.username }

// IsLoggedIn reports whether the session is bound to an account
func (s *Session) IsLoggedIn() bool { return s.loggedIn }

// Glicko2 returns the current rating
func (s *Session) Glicko2() domain.Glicko2 { return s.glicko2 }

// GamesAsWhiteRatio compares games played as white to games as black.
// Counts below one are treated as one.
func (s *Session) GamesAsWhiteRatio() float64 {
	return float64(max(1, s.gamesAsWhite)) / float64(max(1, s.gamesAsBlack))
}

// Player returns the player currently bound to the session
func (s *Session) Player() *game.Player { return s.player }

// IsSuperseded reports whether another session took this one over
func (s *Session) IsSuperseded() bool { return s.superseded }

func (s *Session) send(topic string, data any) {
	s.conn.Send(topic, data)
}

func (s *Session) profile() domain.Profile {
	return domain.Profile{
		Username:             s.username,
		GamesPlayedAsWhite:   s.gamesAsWhite,
		GamesPlayedAsBlack:   s.gamesAsBlack,
		Glicko2:              s.glicko2,
		LastChallengeOptions: s.lastChallengeOptions,
		Prefs:                s.prefs,
		RecentRatedResults:   s.recentRatedResults,
	}
}

func (s *Session) loadProfile(p domain.Profile) {
	s.username = p.Username
	s.gamesAsWhite = p.GamesPlayedAsWhite
	s.gamesAsBlack = p.GamesPlayedAsBlack
	s.glicko2 = p.Glicko2
	s.lastChallengeOptions = p.LastChallengeOptions
	s.prefs = p.Prefs
	s.recentRatedResults = p.RecentRatedResults
}

type privateJSON struct {
	PlayerID             string                   `json:"playerId"`
	Username             string                   `json:"username"`
	IsLoggedIn           bool                     `json:"isLoggedIn"`
	Rating               float64                  `json:"rating"`
	CurrentChallenge     *seek.Seek               `json:"currentChallenge"`
	LastChallengeOptions *domain.ChallengeOptions `json:"lastChallengeOptions"`
	Prefs                domain.Prefs             `json:"prefs"`
}

func (s *Session) privateJSON() privateJSON {
	return privateJSON{
		PlayerID:             s.player.ID(),
		Username:             s.username,
		IsLoggedIn:           s.loggedIn,
		Rating:               s.glicko2.Rating,
		CurrentChallenge:     s.currentChallenge,
		LastChallengeOptions: s.lastChallengeOptions,
		Prefs:                s.prefs,
	}
}

func (s *Session) loginPrecondition() string {
	switch {
	case s.loggedIn:
		return msgAlreadyLoggedIn
	case s.hasGamesInProgress():
		return msgLoginGamesInProgress
	}
	return ""
}

func (s *Session) login(username, password string) {
	if msg := s.loginPrecondition(); msg != "" {
		s.send("/user/login/failure", msg)
		return
	}

	gen := s.generation
	users := s.app.users
	store.Call(s.app.async, func(ctx context.Context) (domain.Profile, error) {
		doc, err := users.FindOne(ctx, username)
		if err != nil {
			return domain.Profile{}, err
		}
		profile, err := store.Decode[domain.Profile](doc)
		if err != nil {
			return profile, err
		}
		if bcrypt.CompareHashAndPassword([]byte(profile.Password), []byte(password)) != nil {
			return profile, errBadCredentials
		}
		profile.Password = ""
		return profile, nil
	}, func(profile domain.Profile, err error) {
		if msg := s.loginPrecondition(); msg != "" {
			s.send("/user/login/failure", msg)
			return
		}
		if gen != s.generation {
			s.logger.Debug("rejecting stale login completion")
			s.send("/user/login/failure", msgStaleRequest)
			return
		}
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, errBadCredentials):
			s.send("/user/login/failure", msgBadCredentials)
			return
		case err != nil:
			s.logger.Warn("login lookup failed", zap.String("username", username), zap.Error(err))
			s.send("/user/login/failure", msgServerError(err))
			return
		}

		s.loadProfile(profile)
		s.loggedIn = true
		s.generation++
		s.cancelCurrentChallenge()
		s.logger.Info("user logged in", zap.String("username", s.username))
		s.LoggedIn.Fire(struct{}{})
		s.send("/user/login/success", s.privateJSON())
	})
}

func (s *Session) registerPrecondition(username, password string) string {
	switch {
	case s.loggedIn:
		return msgRegisterLoggedIn
	case s.hasGamesInProgress():
		return msgRegisterGamesInProgress
	case strings.TrimSpace(username) != username:
		return msgUsernameWhitespace
	case username == "":
		return msgUsernameEmpty
	case username == domain.AnonymousUsername:
		return msgUsernameReserved(domain.AnonymousUsername)
	case password == "":
		return msgPasswordEmpty
	}
	return ""
}

func (s *Session) register(username, password string) {
	if msg := s.registerPrecondition(username, password); msg != "" {
		s.send("/user/register/failure", msg)
		return
	}

	gen := s.generation
	users := s.app.users
	cost := s.app.cfg.BcryptCost

	store.Call(s.app.async, func(ctx context.Context) ([]byte, error) {
		_, err := users.FindOne(ctx, username)
		if err == nil {
			return nil, store.ErrDuplicate
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return bcrypt.GenerateFromPassword([]byte(password), cost)
	}, func(hash []byte, err error) {
		if s.registrationFailed(username, err) {
			return
		}
		// Nothing is written until the session is known to still qualify
		if msg := s.registerPrecondition(username, password); msg != "" {
			s.send("/user/register/failure", msg)
			return
		}
		if gen != s.generation {
			s.logger.Debug("rejecting stale registration completion")
			s.send("/user/register/failure", msgStaleRequest)
			return
		}
		s.insertAccount(username, hash)
	})
}

func (s *Session) registrationFailed(username string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrDuplicate):
		s.send("/user/register/failure", msgAlreadyRegistered(username))
	default:
		s.logger.Warn("registration failed", zap.String("username", username), zap.Error(err))
		s.send("/user/register/failure", msgServerError(err))
	}
	return true
}

// insertAccount stores the new profile and logs the session in. Should the
// session stop qualifying while the insert is in flight, the account stays
// registered and the client is told it was not logged in.
func (s *Session) insertAccount(username string, hash []byte) {
	gen := s.generation
	profile := s.profile()
	profile.Username = username
	profile.Password = string(hash)
	doc, err := store.Encode(profile)
	if err != nil {
		s.registrationFailed(username, err)
		return
	}

	users := s.app.users
	store.Exec(s.app.async, func(ctx context.Context) error {
		// The insert is unique on the username, so two racing
		// registrations cannot both succeed.
		return users.Insert(ctx, username, doc)
	}, func(err error) {
		if s.registrationFailed(username, err) {
			return
		}
		msg := s.loginPrecondition()
		if msg == "" && gen != s.generation {
			msg = msgStaleRequest
		}
		if msg != "" {
			s.logger.Info("user registered but not logged in", zap.String("username", username))
			s.send("/user/register/success", nil)
			s.send("/user/login/failure", msg)
			return
		}

		s.username = username
		s.loggedIn = true
		s.generation++
		s.cancelCurrentChallenge()
		s.logger.Info("user registered", zap.String("username", username))
		s.send("/user/login/success", s.privateJSON())
		s.send("/user/register/success", nil)
		s.LoggedIn.Fire(struct{}{})
	})
}

// logout returns the session to a fresh anonymous identity. It resigns
// nothing; games the session was tracking are dropped.
func (s *Session) logout() {
	if !s.loggedIn {
		return
	}
	name := s.username

	s.cancelCurrentChallenge()
	s.cancelRestorations()
	s.dropGames()
	if s.player.User() == s {
		// finished games keep showing who played them
		s.player.SetUser(snapshotIdentity(s))
	}

	s.loggedIn = false
	s.generation++
	s.username = domain.AnonymousUsername
	s.gamesAsWhite, s.gamesAsBlack = 0, 0
	s.glicko2 = domain.DefaultGlicko2()
	s.recentRatedResults = nil
	s.lastChallengeOptions = nil
	s.player = game.NewPlayer(s)

	s.logger.Info("user logged out", zap.String("username", name))
	s.LoggedOut.Fire(name)
	s.send("/user/logout", s.player.ID())
}

// supersede takes over old's identity, player and games in one step. old
// is logged out, told it was replaced and disconnected.
func (s *Session) supersede(old *Session) {
	s.loadProfile(old.profile())

	games := make([]*game.Game, 0, len(old.games))
	for _, t := range old.games {
		games = append(games, t.game)
	}

	s.player = old.player
	s.player.SetUser(s)
	old.replacedBy(s)

	for _, g := range games {
		if s.tracked(g.ID()) == nil {
			s.addGame(g)
		}
	}
	s.logger.Info("session superseded another", zap.String("replaced_session_id", old.id))
}

func (s *Session) replacedBy(next *Session) {
	s.superseded = true
	s.Replaced.Fire(next)
	s.logout()
	s.send("/user/replaced", nil)
	s.conn.Disconnect()
}

// updateDB persists the profile of a logged in session. Failures are
// logged only.
func (s *Session) updateDB() {
	if !s.loggedIn {
		return
	}
	username := s.username
	patch, err := store.Encode(s.profile())
	if err != nil {
		s.logger.Error("failed to encode profile", zap.Error(err))
		return
	}
	users := s.app.users
	store.Exec(s.app.async, func(ctx context.Context) error {
		return users.Update(ctx, username, patch)
	}, func(err error) {
		if err != nil {
			s.logger.Warn("failed to save profile", zap.String("username", username), zap.Error(err))
		}
	})
}

func (s *Session) deregister() {
	event.RemoveAll(s.handlers)
	s.handlers = nil
	s.removeRandomGamesHandlers()
	s.updateDB()
	s.logout()
	s.cancelCurrentChallenge()
	s.cancelRestorations()
	s.dropGames()
	s.generation++
	s.logger.Debug("session deregistered")
	s.Deregistered.Fire(struct{}{})
}

func (s *Session) isActive() bool {
	maxIdle := s.app.cfg.MaxIdleAnonymous
	if s.loggedIn {
		maxIdle = s.app.cfg.MaxIdleLoggedIn
	}
	idle := s.app.sched.Now().Sub(s.conn.TimeLastActive())
	return idle <= maxIdle || s.hasGamesInProgress()
}

func (s *Session) createChallenge(opts domain.ChallengeOptions) {
	s.cancelCurrentChallenge()

	challenge, err := s.app.CreateChallenge(s.player, opts)
	if err != nil {
		s.send("/challenge/create/failure", err.Error())
		return
	}

	challenge.Matched.AddHandler(func(g *game.Game) {
		if s.currentChallenge == challenge {
			s.currentChallenge = nil
		}
		s.addGame(g)
		s.send("/challenge/accepted", g)
	})
	challenge.Expired.AddHandler(func(*seek.Seek) {
		if s.currentChallenge == challenge {
			s.currentChallenge = nil
		}
		s.send("/current_challenge/expired", nil)
	})

	s.currentChallenge = challenge
	s.lastChallengeOptions = &opts
	s.send("/current_challenge", challenge)
}

func (s *Session) acceptChallenge(id string) {
	challenge := s.app.Challenge(id)
	if challenge == nil {
		return
	}
	g := challenge.Accept(s.player)
	if g == nil {
		return
	}
	s.addGame(g)
	s.send("/challenge/accepted", g)
	s.cancelCurrentChallenge()
}

func (s *Session) cancelCurrentChallenge() {
	if s.currentChallenge != nil {
		s.currentChallenge.Cancel()
		s.currentChallenge = nil
	}
}

func (s *Session) restoreGame(d game.Details) {
	id := d.ID
	for _, pending := range s.pendingRestorations {
		if pending == id {
			return
		}
	}

	request := s.app.RestoreGame(s, d)
	if !request.IsFinished() {
		s.pendingRestorations = append(s.pendingRestorations, id)
		s.send("/game/restore/"+id+"/pending", nil)
	}

	request.Then(func(g *game.Game) {
		if s.tracked(g.ID()) == nil {
			s.addGame(g)
		}
		s.send("/game/restore/"+id+"/success", g)
	}, func(err error) {
		s.send("/game/restore/"+id+"/failure", err.Error())
	}, func() {
		s.removePendingRestoration(id)
	})
}

func (s *Session) removePendingRestoration(id string) {
	for i, pending := range s.pendingRestorations {
		if pending == id {
			s.pendingRestorations = append(s.pendingRestorations[:i], s.pendingRestorations[i+1:]...)
			return
		}
	}
}

func (s *Session) cancelRestorations() {
	for _, id := range append([]string(nil), s.pendingRestorations...) {
		s.app.CancelGameRestoration(s.player, id)
	}
}

// identity is a frozen copy of a session's identity
type identity struct {
	username string
	loggedIn bool
	glicko2  domain.Glicko2
	ratio    float64
}

func snapshotIdentity(s *Session) identity {
	return identity{
		username: s.username,
		loggedIn: s.loggedIn,
		glicko2:  s.glicko2,
		ratio:    s.GamesAsWhiteRatio(),
	}
}

func (i identity) Username() string           { return i.username }
func (i identity) IsLoggedIn() bool           { return i.loggedIn }
func (i identity) Glicko2() domain.Glicko2    { return i.glicko2 }
func (i identity) GamesAsWhiteRatio() float64 { return i.ratio }
