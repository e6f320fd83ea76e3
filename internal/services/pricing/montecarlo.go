package pricing

import (
	"math"
	"math/rand/v2"
)

const tradingDaysPerYear = 252

// DefaultPaths is the number of simulated paths when none is configured.
const DefaultPaths = 10000

// Steps returns the number of daily steps used to discretize T years.
func Steps(T float64) int {
	n := int(math.Round(T * tradingDaysPerYear))
	if n < 1 {
		return 1
	}
	return n
}

// MonteCarlo estimates the fair value by simulating geometric price paths
// with daily log increments N(-σd²/2, σd), σd = σ/√252, and discounting the mean
// payoff at the risk-free rate. ok is false on invalid inputs.
func MonteCarlo(in Inputs, paths int, rng *rand.Rand) (float64, bool) {
	if !in.Valid() || paths <= 0 || rng == nil {
		return 0, false
	}

	steps := Steps(in.T)
	sigmaD := in.Sigma / math.Sqrt(tradingDaysPerYear)
	drift := -0.5 * sigmaD * sigmaD

	var sum float64
	for p := 0; p < paths; p++ {
		logS := 0.0
		for s := 0; s < steps; s++ {
			logS += drift + sigmaD*rng.NormFloat64()
		}
		st := in.S * math.Exp(logS)
		if in.Call {
			sum += math.Max(st-in.K, 0)
		} else {
			sum += math.Max(in.K-st, 0)
		}
	}

	v := sum / float64(paths) * math.Exp(-in.R*in.T)
	if !finite(v) {
		return 0, false
	}
	return v, true
}
