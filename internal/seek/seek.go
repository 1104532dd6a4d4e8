// Package seek implements open challenges: a time-limited offer to play
// that another player within the owner's rating band can accept.
package seek

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/event"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/loop"
)

// DefaultTimeout is how long a seek stays open.
const DefaultTimeout = 5 * time.Minute

// Config carries what a seek needs from the server.
type Config struct {
	Timeout   time.Duration
	Scheduler loop.Scheduler
	Game      game.Settings
}

// Seek is an open challenge. It ends exactly once: matched, cancelled or
// timed out.
type Seek struct {
	// Matched fires with the new game when the seek is accepted.
	Matched event.Event[*game.Game]
	// Expired fires when the seek is cancelled or times out.
	Expired event.Event[*Seek]

	id         string
	owner      *game.Player
	options    domain.ChallengeOptions
	tc         game.TimeControl
	ratingMin  float64
	ratingMax  float64
	expiryTime time.Time

	cfg    Config
	timer  loop.Timer
	closed bool
}

// New opens a seek for owner. Missing options take the defaults. The
// rating band is resolved against the owner's rating now and does not
// follow later rating changes.
func New(owner *game.Player, opts domain.ChallengeOptions, cfg Config) (*Seek, error) {
	opts = withDefaults(opts)

	tc, err := game.NewTimeControl(opts.InitialTime, opts.TimeIncrement)
	if err != nil {
		return nil, err
	}
	minBand, err := ParseBand(opts.AcceptRatingMin)
	if err != nil {
		return nil, err
	}
	maxBand, err := ParseBand(opts.AcceptRatingMax)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	rating := owner.Rating()
	s := &Seek{
		id:         uuid.NewString(),
		owner:      owner,
		options:    opts,
		tc:         tc,
		ratingMin:  minBand.Resolve(rating),
		ratingMax:  maxBand.Resolve(rating),
		expiryTime: cfg.Scheduler.Now().Add(cfg.Timeout),
		cfg:        cfg,
	}
	s.timer = cfg.Scheduler.AfterFunc(cfg.Timeout, s.expire)
	return s, nil
}

func withDefaults(opts domain.ChallengeOptions) domain.ChallengeOptions {
	if opts.InitialTime == "" {
		opts.InitialTime = game.DefaultInitialTime
	}
	if opts.TimeIncrement == "" {
		opts.TimeIncrement = game.DefaultTimeIncrement
	}
	if opts.AcceptRatingMin == "" {
		opts.AcceptRatingMin = DefaultAcceptRatingMin
	}
	if opts.AcceptRatingMax == "" {
		opts.AcceptRatingMax = DefaultAcceptRatingMax
	}
	return opts
}

func (s *Seek) ID() string { return s.id }

func (s *Seek) Owner() *game.Player { return s.owner }

func (s *Seek) Options() domain.ChallengeOptions { return s.options }

func (s *Seek) ExpiryTime() time.Time { return s.expiryTime }

// IsOpen reports whether the seek can still be accepted.
func (s *Seek) IsOpen() bool { return !s.closed }

// Accept starts a game between the owner and candidate. It returns nil when
// the seek is closed, the candidate is the owner, or the candidate's rating
// is outside the band.
func (s *Seek) Accept(candidate *game.Player) *game.Game {
	if s.closed || candidate == s.owner || !s.MatchesPlayer(candidate) {
		return nil
	}

	white, black := s.owner, candidate
	// the side that has played relatively more games as white gets black
	if s.owner.GamesAsWhiteRatio() > candidate.GamesAsWhiteRatio() {
		white, black = candidate, s.owner
	}

	g := game.New(white, black, s.tc, s.cfg.Scheduler, s.cfg.Game)
	s.close()
	s.Matched.Fire(g)
	return g
}

// MatchesPlayer reports whether p's current rating is inside the band.
func (s *Seek) MatchesPlayer(p *game.Player) bool {
	r := p.Rating()
	return r >= s.ratingMin && r <= s.ratingMax
}

// MatchesOptions reports whether opts describe the same time control.
func (s *Seek) MatchesOptions(opts domain.ChallengeOptions) bool {
	opts = withDefaults(opts)
	tc, err := game.NewTimeControl(opts.InitialTime, opts.TimeIncrement)
	if err != nil {
		return false
	}
	return tc.Equal(s.tc)
}

// Cancel closes the seek and fires Expired. Calling it on a closed seek does
// nothing.
func (s *Seek) Cancel() {
	s.expire()
}

func (s *Seek) expire() {
	if s.closed {
		return
	}
	s.close()
	s.Expired.Fire(s)
}

func (s *Seek) close() {
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type seekJSON struct {
	ID         string                  `json:"id"`
	Owner      *game.Player            `json:"owner"`
	Options    domain.ChallengeOptions `json:"options"`
	ExpiryTime int64                   `json:"expiryTime"`
}

func (s *Seek) MarshalJSON() ([]byte, error) {
	return json.Marshal(seekJSON{
		ID:         s.id,
		Owner:      s.owner,
		Options:    s.options,
		ExpiryTime: s.expiryTime.UnixMilli(),
	})
}
