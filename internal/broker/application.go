package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/future"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/loop"
	"github.com/chess-broker/internal/rating"
	"github.com/chess-broker/internal/seek"
	"github.com/chess-broker/internal/store"
)

// Notifier propagates rating changes and finished games outside the broker.
// Implementations must not block.
type Notifier interface {
	RatingUpdated(update domain.RatingUpdate)
	GameFinished(summary domain.GameSummary)
}

type nopNotifier struct{}

func (nopNotifier) RatingUpdated(domain.RatingUpdate) {}
func (nopNotifier) GameFinished(domain.GameSummary)   {}

// Stats counts what the registry currently holds
type Stats struct {
	Sessions   int `json:"sessions"`
	LoggedIn   int `json:"logged_in"`
	Challenges int `json:"challenges"`
	Games      int `json:"games"`
}

type pendingRestoration struct {
	player  *game.Player
	details game.Details
	promise *future.Promise[*game.Game]
}

// Application is the registry of connected sessions, open challenges and
// live games
type Application struct {
	// NewGame fires for every game entering the registry
	NewGame event.Event[*game.Game]

	cfg      *config.BrokerConfig
	sched    loop.Scheduler
	async    *store.Async
	users    store.Collection
	archive  store.Collection
	notifier Notifier
	ratings  *rating.Calculator
	logger   *zap.Logger

	sessions     map[string]*Session
	loggedIn     map[string]*Session
	challenges   map[string]*seek.Seek
	games        map[string]*game.Game
	promises     map[string]*future.Promise[game.Details]
	restorations map[string]*pendingRestoration
	randomGames  *RandomGames
}

// New creates the application. notifier may be nil.
func New(
	cfg *config.BrokerConfig,
	sched loop.Scheduler,
	db store.Database,
	async *store.Async,
	notifier Notifier,
	logger *zap.Logger,
) *Application {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	a := &Application{
		cfg:          cfg,
		sched:        sched,
		async:        async,
		users:        db.Collection(store.Users),
		archive:      db.Collection(store.Games),
		notifier:     notifier,
		ratings:      rating.NewCalculator(rating.DefaultTau),
		logger:       logger,
		sessions:     make(map[string]*Session),
		loggedIn:     make(map[string]*Session),
		challenges:   make(map[string]*seek.Seek),
		games:        make(map[string]*game.Game),
		promises:     make(map[string]*future.Promise[game.Details]),
		restorations: make(map[string]*pendingRestoration),
	}
	a.randomGames = NewRandomGames(a, cfg.RandomGames)
	return a
}

// Connect creates the session for a newly connected client
func (a *Application) Connect(conn Connection) *Session {
	s := newSession(a, conn)
	a.setupSession(s)
	a.sessions[s.id] = s
	s.logger.Debug("session connected")
	return s
}

func (a *Application) setupSession(s *Session) {
	s.Connected.AddHandler(func(struct{}) {
		a.sessions[s.id] = s
	})
	s.Disconnected.AddHandler(func(struct{}) {
		delete(a.sessions, s.id)
	})
	s.LoggedIn.AddHandler(func(struct{}) {
		name := s.Username()
		if existing, ok := a.loggedIn[name]; ok && existing != s {
			s.supersede(existing)
		}
		a.loggedIn[name] = s
	})
	s.LoggedOut.AddHandler(func(name string) {
		if a.loggedIn[name] == s {
			delete(a.loggedIn, name)
		}
	})
	s.Replaced.AddHandler(func(next *Session) {
		a.loggedIn[next.Username()] = next
	})
	s.Deregistered.AddHandler(func(struct{}) {
		delete(a.sessions, s.id)
	})
}

func (a *Application) seekConfig() seek.Config {
	return seek.Config{
		Timeout:   a.cfg.SeekTimeout,
		Scheduler: a.sched,
		Game:      a.gameSettings(),
	}
}

func (a *Application) gameSettings() game.Settings {
	return game.Settings{FirstMoveTimeout: a.cfg.FirstMoveTimeout}
}

// CreateChallenge opens a challenge for owner and announces it to every
// connected session
func (a *Application) CreateChallenge(owner *game.Player, opts domain.ChallengeOptions) (*seek.Seek, error) {
	challenge, err := seek.New(owner, opts, a.seekConfig())
	if err != nil {
		return nil, err
	}
	id := challenge.ID()

	challenge.Matched.AddHandler(func(g *game.Game) {
		a.addGame(g)
		delete(a.challenges, id)
	})
	challenge.Expired.AddHandler(func(*seek.Seek) {
		a.broadcast("/challenge/expired", id)
		delete(a.challenges, id)
	})

	a.challenges[id] = challenge
	a.broadcast("/challenges", []*seek.Seek{challenge})
	return challenge, nil
}

// Challenge returns the open challenge with the given id, or nil
func (a *Application) Challenge(id string) *seek.Seek {
	return a.challenges[id]
}

// Game returns the live game with the given id, or nil
func (a *Application) Game(id string) *game.Game {
	return a.games[id]
}

// OpenChallenges returns every open challenge, oldest first
func (a *Application) OpenChallenges() []*seek.Seek {
	challenges := make([]*seek.Seek, 0, len(a.challenges))
	for _, c := range a.challenges {
		challenges = append(challenges, c)
	}
	sort.Slice(challenges, func(i, j int) bool {
		if challenges[i].ExpiryTime().Equal(challenges[j].ExpiryTime()) {
			return challenges[i].ID() < challenges[j].ID()
		}
		return challenges[i].ExpiryTime().Before(challenges[j].ExpiryTime())
	})
	return challenges
}

// CurrentGames returns every live game, oldest first
func (a *Application) CurrentGames() []*game.Game {
	games := make([]*game.Game, 0, len(a.games))
	for _, g := range a.games {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].StartTime().Equal(games[j].StartTime()) {
			return games[i].ID() < games[j].ID()
		}
		return games[i].StartTime().Before(games[j].StartTime())
	})
	return games
}

// RandomGames returns the spectator feed
func (a *Application) RandomGames() *RandomGames {
	return a.randomGames
}

// LoggedInSession returns the authoritative session of a user, or nil
func (a *Application) LoggedInSession(username string) *Session {
	return a.loggedIn[username]
}

// Stats counts sessions, challenges and games
func (a *Application) Stats() Stats {
	return Stats{
		Sessions:   len(a.sessions),
		LoggedIn:   len(a.loggedIn),
		Challenges: len(a.challenges),
		Games:      len(a.games),
	}
}

func (a *Application) addGame(g *game.Game) {
	id := g.ID()
	a.games[id] = g

	g.Events.GameOver.AddHandler(func(game.Result) {
		a.archiveGame(g)
		delete(a.games, id)
		a.notifier.GameFinished(summarise(g))
	})
	g.Events.Aborted.AddHandler(func(*game.Game) {
		delete(a.games, id)
	})
	g.Events.Rematch.AddHandler(func(next *game.Game) {
		a.addGame(next)
	})

	a.logger.Debug("game started",
		zap.String("game_id", id),
		zap.String("white", g.Player(game.White).Name()),
		zap.String("black", g.Player(game.Black).Name()),
	)
	a.NewGame.Fire(g)
}

// archiveGame saves a finished game. Failures are logged and not retried.
func (a *Application) archiveGame(g *game.Game) {
	id := g.ID()
	doc, err := store.Encode(g.Details())
	if err != nil {
		a.logger.Error("failed to encode game", zap.String("game_id", id), zap.Error(err))
		return
	}
	store.Exec(a.async, func(ctx context.Context) error {
		return a.archive.Save(ctx, id, doc)
	}, func(err error) {
		if err != nil {
			a.logger.Warn("failed to archive game", zap.String("game_id", id), zap.Error(err))
		}
	})
}

func summarise(g *game.Game) domain.GameSummary {
	s := domain.GameSummary{
		GameID:      g.ID(),
		White:       g.Player(game.White).Name(),
		Black:       g.Player(game.Black).Name(),
		Moves:       len(g.History()),
		InitialTime: g.TimeControl().InitialSpec,
		Increment:   g.TimeControl().IncrementSpec,
		EndTime:     g.EndTime(),
	}
	if r := g.Result(); r != nil {
		s.Result = r.Summary()
		s.Method = r.Method
	}
	return s
}

// ArchivedGameDetails looks a game up in the live registry, then in the
// archive. Callers asking for the same game while a read is in flight share
// that read.
func (a *Application) ArchivedGameDetails(id string) *future.Promise[game.Details] {
	key := "/game/" + id
	if p, ok := a.promises[key]; ok {
		return p
	}
	if g, ok := a.games[id]; ok {
		return future.Resolved(g.Details())
	}

	p := future.New[game.Details]()
	p.Then(nil, nil, func() {
		delete(a.promises, key)
	})
	a.promises[key] = p

	store.Call(a.async, func(ctx context.Context) (game.Details, error) {
		doc, err := a.archive.FindOne(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return game.Details{}, domain.ErrGameNotFound
		}
		if err != nil {
			return game.Details{}, err
		}
		return store.Decode[game.Details](doc)
	}, func(d game.Details, err error) {
		if err != nil {
			p.Fail(err)
			return
		}
		p.Resolve(d)
	})
	return p
}

// RestoreGame parks the first eligible request for a game and restores the
// game when the other original player asks for it too. The returned
// promise is shared by both requests.
func (a *Application) RestoreGame(s *Session, d game.Details) *future.Promise[*game.Game] {
	if err := a.checkRestoration(s, d); err != nil {
		return future.Failed[*game.Game](err)
	}

	pending, ok := a.restorations[d.ID]
	if !ok {
		pending = &pendingRestoration{
			player:  s.player,
			details: d,
			promise: future.New[*game.Game](),
		}
		a.restorations[d.ID] = pending
		s.logger.Debug("game restoration pending", zap.String("game_id", d.ID))
		return pending.promise
	}
	if pending.player == s.player {
		return pending.promise
	}

	delete(a.restorations, d.ID)
	d, err := reconcileBackups(pending.details, d)
	if err != nil {
		s.logger.Info("game restoration rejected", zap.String("game_id", pending.details.ID), zap.Error(err))
		pending.promise.Fail(err)
		return pending.promise
	}

	players := map[string]*game.Player{
		pending.player.Name(): pending.player,
		s.Username():          s.player,
	}
	white, black := players[d.White.Name], players[d.Black.Name]
	if white == nil || black == nil || white == black {
		pending.promise.Fail(ErrRestoreNotOriginalPlayer)
		return pending.promise
	}

	g, err := game.Restore(white, black, d, a.sched, a.gameSettings())
	if err != nil {
		pending.promise.Fail(err)
		return pending.promise
	}
	a.addGame(g)
	s.logger.Info("game restored", zap.String("game_id", g.ID()))
	pending.promise.Resolve(g)
	return pending.promise
}

// reconcileBackups checks that both players' backups describe the same
// game and returns the more advanced one. One history must be a prefix of
// the other.
func reconcileBackups(first, second game.Details) (game.Details, error) {
	if first.White.Name != second.White.Name || first.Black.Name != second.Black.Name {
		return game.Details{}, ErrRestoreBackupMismatch
	}
	if first.Options != second.Options {
		return game.Details{}, ErrRestoreBackupMismatch
	}

	longer, shorter := first, second
	if len(second.History) > len(first.History) {
		longer, shorter = second, first
	}
	for i, m := range shorter.History {
		if !sameMove(m, longer.History[i]) {
			return game.Details{}, ErrRestoreBackupMismatch
		}
	}
	return longer, nil
}

func sameMove(a, b game.Move) bool {
	return a.From == b.From && a.To == b.To && promotion(a) == promotion(b)
}

// promotion treats an omitted piece as the implied queen
func promotion(m game.Move) string {
	if m.PromoteTo == "" {
		return "Q"
	}
	return m.PromoteTo
}

func (a *Application) checkRestoration(s *Session, d game.Details) error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidBackup)
	}
	if !d.White.IsLoggedIn || !d.Black.IsLoggedIn {
		return ErrRestoreAnonymousPlayers
	}
	name := s.Username()
	if !s.IsLoggedIn() || (name != d.White.Name && name != d.Black.Name) {
		return ErrRestoreNotOriginalPlayer
	}
	if _, live := a.games[d.ID]; live {
		return ErrRestoreGameInProgress
	}
	return nil
}

// CancelGameRestoration drops a pending restoration started by p
func (a *Application) CancelGameRestoration(p *game.Player, id string) {
	pending, ok := a.restorations[id]
	if !ok || pending.player != p {
		return
	}
	delete(a.restorations, id)
	pending.promise.Fail(ErrRestoreCancelled)
}

// PendingRestorations returns the ids of parked restoration requests
func (a *Application) PendingRestorations() []string {
	ids := make([]string, 0, len(a.restorations))
	for id := range a.restorations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PublicProfile reads a registered user's profile. It talks to the store
// directly and is safe to call from any goroutine.
func (a *Application) PublicProfile(ctx context.Context, username string) (*domain.PublicProfile, error) {
	doc, err := a.users.FindOne(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding profile: %w", err)
	}
	profile, err := store.Decode[domain.Profile](doc)
	if err != nil {
		return nil, err
	}
	public := profile.Public(a.sched.Now())
	return &public, nil
}

func (a *Application) broadcast(topic string, data any) {
	for _, s := range a.sessions {
		s.send(topic, data)
	}
}
