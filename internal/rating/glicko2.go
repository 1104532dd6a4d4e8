// Package rating implements the Glicko-2 rating system.
package rating

import (
	"math"

	"github.com/chess-broker/internal/domain"
)

const (
	// glicko2Scale converts between the Glicko and Glicko-2 scales.
	glicko2Scale = 173.7178

	// DefaultTau constrains how quickly volatility changes.
	DefaultTau = 0.5

	convergence = 0.000001
)

// Calculator applies one rating period to a player.
type Calculator struct {
	tau float64
}

// NewCalculator returns a calculator using the given system constant. A
// non-positive tau selects DefaultTau.
func NewCalculator(tau float64) *Calculator {
	if tau <= 0 {
		tau = DefaultTau
	}
	return &Calculator{tau: tau}
}

// Update returns the player's rating after the given results. With no
// results only the deviation grows.
func (c *Calculator) Update(player domain.Glicko2, results []domain.RatedResult) domain.Glicko2 {
	mu := (player.Rating - domain.DefaultRating) / glicko2Scale
	phi := player.RD / glicko2Scale
	sigma := player.Vol

	if len(results) == 0 {
		phiStar := math.Sqrt(phi*phi + sigma*sigma)
		return domain.Glicko2{Rating: player.Rating, RD: phiStar * glicko2Scale, Vol: sigma}
	}

	var vInv, deltaSum float64
	for _, r := range results {
		muJ := (r.OpponentGlicko2.Rating - domain.DefaultRating) / glicko2Scale
		phiJ := r.OpponentGlicko2.RD / glicko2Scale
		g := gFactor(phiJ)
		e := expected(mu, muJ, g)
		vInv += g * g * e * (1 - e)
		deltaSum += g * (r.PlayerScore - e)
	}
	v := 1 / vInv
	delta := v * deltaSum

	sigmaPrime := c.volatility(phi, sigma, v, delta)
	phiStar := math.Sqrt(phi*phi + sigmaPrime*sigmaPrime)
	phiPrime := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muPrime := mu + phiPrime*phiPrime*deltaSum

	return domain.Glicko2{
		Rating: muPrime*glicko2Scale + domain.DefaultRating,
		RD:     phiPrime * glicko2Scale,
		Vol:    sigmaPrime,
	}
}

// volatility solves for the new volatility with the Illinois algorithm.
func (c *Calculator) volatility(phi, sigma, v, delta float64) float64 {
	a := math.Log(sigma * sigma)
	tau2 := c.tau * c.tau
	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi*phi + v + ex
		return ex*(delta*delta-phi*phi-v-ex)/(2*d*d) - (x-a)/tau2
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*c.tau) < 0 {
			k++
		}
		B = a - k*c.tau
	}

	fA, fB := f(A), f(B)
	for math.Abs(B-A) > convergence {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2)
}

func gFactor(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, g float64) float64 {
	return 1 / (1 + math.Exp(-g*(mu-muJ)))
}
