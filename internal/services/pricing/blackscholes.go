package pricing

import "math"

// Inputs are the model inputs for one contract. Sigma is a decimal fraction, T is in years.
type Inputs struct {
	S     float64
	K     float64
	T     float64
	R     float64
	Sigma float64
	Call  bool
}

// Valid reports whether the inputs can be priced: S, K, T and Sigma strictly positive
// and every input finite.
func (in Inputs) Valid() bool {
	return finite(in.S, in.K, in.T, in.R, in.Sigma) &&
		in.S > 0 && in.K > 0 && in.T > 0 && in.Sigma > 0
}

// Greeks holds the closed-form results. Theta is per calendar day, Vega per vol point.
type Greeks struct {
	Delta     float64
	Gamma     float64
	Theta     float64
	Vega      float64
	Rho       float64
	FairValue float64
}

// BlackScholes prices a European option in closed form.
// ok is false when the inputs are invalid or any result is not finite.
func BlackScholes(in Inputs) (g Greeks, ok bool) {
	if !in.Valid() {
		return Greeks{}, false
	}
	S, K, T, r, sigma := in.S, in.K, in.T, in.R, in.Sigma

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := K * math.Exp(-r*T)
	pdf := normPDF(d1)

	g.Gamma = pdf / (S * sigma * sqrtT)
	g.Vega = S * pdf * sqrtT / 100
	decay := -S * pdf * sigma / (2 * sqrtT)

	if in.Call {
		g.Delta = normCDF(d1)
		g.FairValue = S*normCDF(d1) - disc*normCDF(d2)
		g.Theta = (decay - r*disc*normCDF(d2)) / 365
		g.Rho = K * T * math.Exp(-r*T) * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.FairValue = disc*normCDF(-d2) - S*normCDF(-d1)
		g.Theta = (decay + r*disc*normCDF(-d2)) / 365
		g.Rho = -K * T * math.Exp(-r*T) * normCDF(-d2)
	}

	if !finite(g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho, g.FairValue) {
		return Greeks{}, false
	}
	return g, true
}
