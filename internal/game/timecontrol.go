package game

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chess-broker/internal/domain"
)

// Default time control of a challenge.
const (
	DefaultInitialTime   = "10m"
	DefaultTimeIncrement = "0"
)

var unitSuffixes = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// ParseTime reads a time such as "5m", "30s", "1.5h" or "10". A number
// without a suffix is in defaultUnit.
func ParseTime(spec string, defaultUnit time.Duration) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if s == "" {
		return 0, fmt.Errorf("%w: empty time", domain.ErrInvalidTimeControl)
	}

	unit := defaultUnit
	for _, u := range unitSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			unit = u.unit
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimeControl, spec)
	}
	return time.Duration(n * float64(unit)), nil
}

// TimeControl is the clock setting of a game. The specs are kept as the
// client wrote them so they can be sent back unchanged.
type TimeControl struct {
	Initial       time.Duration
	Increment     time.Duration
	InitialSpec   string
	IncrementSpec string
}

// NewTimeControl parses an initial time (minutes by default) and an
// increment (seconds by default). Empty specs take the defaults.
func NewTimeControl(initial, increment string) (TimeControl, error) {
	if initial == "" {
		initial = DefaultInitialTime
	}
	if increment == "" {
		increment = DefaultTimeIncrement
	}

	ini, err := ParseTime(initial, time.Minute)
	if err != nil {
		return TimeControl{}, err
	}
	if ini <= 0 {
		return TimeControl{}, domain.ErrZeroInitialTime
	}
	inc, err := ParseTime(increment, time.Second)
	if err != nil {
		return TimeControl{}, err
	}

	return TimeControl{
		Initial:       ini,
		Increment:     inc,
		InitialSpec:   initial,
		IncrementSpec: increment,
	}, nil
}

// Equal compares the parsed durations only.
func (tc TimeControl) Equal(other TimeControl) bool {
	return tc.Initial == other.Initial && tc.Increment == other.Increment
}

// Options is the JSON form of a time control.
type Options struct {
	InitialTime   string `json:"initialTime"`
	TimeIncrement string `json:"timeIncrement"`
}

func (tc TimeControl) Options() Options {
	return Options{InitialTime: tc.InitialSpec, TimeIncrement: tc.IncrementSpec}
}
