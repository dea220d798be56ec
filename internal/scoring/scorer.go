// Package scoring computes the conversion probability metric for a candidate
// business. Pure math: no I/O, no shared state.
package scoring

import (
	"fmt"
	"math"

	apperrors "leadscout/internal/common/errors"
)

// Metric weights. Changing these changes ranking semantics, so they are fixed.
const (
	weightRentability = 0.2
	weightTypology    = 0.4
	weightProximity   = 0.4

	rentabilityScale = 100.0
	typologyScale    = 1000.0
)

// Scorer computes conversion scores with a configured distance divisor.
//
// The divisor is applied to the distance before the 1/(1+d) proximity term.
// The upstream formula feeds raw meters (divisor 1); whether meters or
// kilometers were intended is unresolved, so the divisor is injected from
// config rather than hardcoded. See ScoringConfig.
type Scorer struct {
	distanceDivisor float64
}

// NewScorer creates a Scorer. A non-positive divisor falls back to 1 (raw units).
func NewScorer(distanceDivisor float64) *Scorer {
	if distanceDivisor <= 0 {
		distanceDivisor = 1
	}
	return &Scorer{distanceDivisor: distanceDivisor}
}

// Score returns the conversion probability for a candidate:
//
//	sigmoid(0.2*(rentability/100) + 0.4*(typology/1000) + 0.4*(1/(1+distance)))
//
// Strictly increasing in rentability and typology, strictly decreasing in
// distance. Result is in [0,1). Non-finite inputs fail with INVALID_METRIC_INPUT.
func (s *Scorer) Score(rentability, typology, distance float64) (float64, error) {
	for name, v := range map[string]float64{
		"rentability": rentability,
		"typology":    typology,
		"distance":    distance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, apperrors.NewInvalidMetricInputError(fmt.Sprintf("%s is not finite: %v", name, v))
		}
	}

	r := rentability / rentabilityScale
	t := typology / typologyScale
	p := 1 / (1 + distance/s.distanceDivisor)

	x := weightRentability*r + weightTypology*t + weightProximity*p

	return Sigmoid(x), nil
}

// Sigmoid is the standard logistic function 1/(1+e^-x), with the argument
// clamped to avoid exp overflow on extreme inputs.
func Sigmoid(x float64) float64 {
	x = math.Max(math.Min(x, 100), -100)
	return 1 / (1 + math.Exp(-x))
}
