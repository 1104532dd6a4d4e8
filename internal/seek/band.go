package seek

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chess-broker/internal/domain"
)

// Default rating band of a seek, relative to the owner.
const (
	DefaultAcceptRatingMin = "-100"
	DefaultAcceptRatingMax = "+100"
)

// BandKind says how a Band value is interpreted.
type BandKind int

const (
	Absolute BandKind = iota
	RelativeToOwner
)

// Band is one end of a seek's acceptable rating range.
type Band struct {
	Kind  BandKind
	Value int
}

// ParseBand reads "1400" as an absolute rating and "+100" or "-100" as an
// offset from the owner's rating.
func ParseBand(s string) (Band, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Band{}, fmt.Errorf("%w: empty", domain.ErrInvalidRatingBand)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Band{}, fmt.Errorf("%w: %q", domain.ErrInvalidRatingBand, s)
	}
	if s[0] == '+' || s[0] == '-' {
		return Band{Kind: RelativeToOwner, Value: n}, nil
	}
	return Band{Kind: Absolute, Value: n}, nil
}

// Resolve returns the absolute rating the band stands for.
func (b Band) Resolve(ownerRating float64) float64 {
	if b.Kind == RelativeToOwner {
		return ownerRating + float64(b.Value)
	}
	return float64(b.Value)
}
