package pricing

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestBlackScholesBounds(t *testing.T) {
	spots := []float64{50, 90, 100, 110, 200}
	vols := []float64{0.05, 0.2, 0.8}
	terms := []float64{1.0 / 365, 30.0 / 365, 1, 3}
	for _, s := range spots {
		for _, sigma := range vols {
			for _, T := range terms {
				call, ok := BlackScholes(Inputs{S: s, K: 100, T: T, R: 0.01, Sigma: sigma, Call: true})
				if !ok {
					t.Fatalf("call not priced for S=%v sigma=%v T=%v", s, sigma, T)
				}
				put, ok := BlackScholes(Inputs{S: s, K: 100, T: T, R: 0.01, Sigma: sigma})
				if !ok {
					t.Fatalf("put not priced for S=%v sigma=%v T=%v", s, sigma, T)
				}
				if call.Delta < 0 || call.Delta > 1 {
					t.Fatalf("call delta out of range: %v", call.Delta)
				}
				if put.Delta < -1 || put.Delta > 0 {
					t.Fatalf("put delta out of range: %v", put.Delta)
				}
				if call.Gamma < 0 || put.Gamma < 0 {
					t.Fatalf("negative gamma: %v %v", call.Gamma, put.Gamma)
				}
				if call.Vega < 0 || put.Vega < 0 {
					t.Fatalf("negative vega: %v %v", call.Vega, put.Vega)
				}
				if math.Abs(call.Gamma-put.Gamma) > 1e-12 {
					t.Fatalf("gamma differs between sides: %v %v", call.Gamma, put.Gamma)
				}
			}
		}
	}
}

func TestPutCallParity(t *testing.T) {
	cases := []Inputs{
		{S: 100, K: 100, T: 30.0 / 365, R: 0.01, Sigma: 0.2},
		{S: 120, K: 100, T: 0.5, R: 0.05, Sigma: 0.35},
		{S: 80, K: 100, T: 2, R: 0.03, Sigma: 0.15},
	}
	for _, in := range cases {
		callIn := in
		callIn.Call = true
		call, _ := BlackScholes(callIn)
		put, _ := BlackScholes(in)
		want := in.S - in.K*math.Exp(-in.R*in.T)
		if got := call.FairValue - put.FairValue; math.Abs(got-want) > 1e-9 {
			t.Fatalf("parity broken for %+v: got %v want %v", in, got, want)
		}
	}
}

func TestBlackScholesKnownValue(t *testing.T) {
	// S=100 K=100 T=1 r=5% sigma=20%: call 10.4506, put 5.5735
	call, _ := BlackScholes(Inputs{S: 100, K: 100, T: 1, R: 0.05, Sigma: 0.2, Call: true})
	put, _ := BlackScholes(Inputs{S: 100, K: 100, T: 1, R: 0.05, Sigma: 0.2})
	if math.Abs(call.FairValue-10.4506) > 1e-3 {
		t.Fatalf("call fair value %v", call.FairValue)
	}
	if math.Abs(put.FairValue-5.5735) > 1e-3 {
		t.Fatalf("put fair value %v", put.FairValue)
	}
	if math.Abs(call.Delta-0.6368) > 1e-3 {
		t.Fatalf("call delta %v", call.Delta)
	}
	if math.Abs(call.Vega-0.3752) > 1e-3 {
		t.Fatalf("vega per point %v", call.Vega)
	}
	if call.Theta >= 0 {
		t.Fatalf("call theta should decay, got %v", call.Theta)
	}
	if call.Rho <= 0 || put.Rho >= 0 {
		t.Fatalf("rho signs call=%v put=%v", call.Rho, put.Rho)
	}
}

func TestInvalidInputsSkip(t *testing.T) {
	bad := []Inputs{
		{S: 100, K: 100, T: 0, R: 0.01, Sigma: 0.2, Call: true},
		{S: 100, K: 100, T: 0.1, R: 0.01, Sigma: 0, Call: true},
		{S: 0, K: 100, T: 0.1, R: 0.01, Sigma: 0.2},
		{S: 100, K: -5, T: 0.1, R: 0.01, Sigma: 0.2},
		{S: math.NaN(), K: 100, T: 0.1, R: 0.01, Sigma: 0.2},
		{S: 100, K: 100, T: math.Inf(1), R: 0.01, Sigma: 0.2},
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for _, in := range bad {
		if _, ok := BlackScholes(in); ok {
			t.Fatalf("expected skip for %+v", in)
		}
		if _, ok := MonteCarlo(in, 100, rng); ok {
			t.Fatalf("expected simulation skip for %+v", in)
		}
	}
}

func TestMonteCarloConvergesToClosedForm(t *testing.T) {
	// T=0.25 discretizes to exactly 63 daily steps and r=0 matches the zero-drift walk,
	// so the estimator is unbiased for the closed form.
	for _, call := range []bool{true, false} {
		in := Inputs{S: 110, K: 100, T: 0.25, R: 0, Sigma: 0.2, Call: call}
		if !call {
			in.S = 90
		}
		want, _ := BlackScholes(in)
		got, ok := MonteCarlo(in, 50000, rand.New(rand.NewPCG(42, 7)))
		if !ok {
			t.Fatalf("simulation skipped")
		}
		if rel := math.Abs(got-want.FairValue) / want.FairValue; rel > 0.02 {
			t.Fatalf("call=%v: simulated %v closed form %v (rel %.4f)", call, got, want.FairValue, rel)
		}
	}
}

func TestMonteCarloSeededIsDeterministic(t *testing.T) {
	in := Inputs{S: 100, K: 100, T: 30.0 / 365, R: 0.01, Sigma: 0.2, Call: true}
	a, _ := MonteCarlo(in, 2000, rand.New(rand.NewPCG(9, 9)))
	b, _ := MonteCarlo(in, 2000, rand.New(rand.NewPCG(9, 9)))
	if a != b {
		t.Fatalf("seeded runs differ: %v %v", a, b)
	}
}

func TestSteps(t *testing.T) {
	if got := Steps(0.0001); got != 1 {
		t.Fatalf("minimum steps: %d", got)
	}
	if got := Steps(0.25); got != 63 {
		t.Fatalf("quarter year steps: %d", got)
	}
	if got := Steps(30.0 / 365); got != 21 {
		t.Fatalf("30 day steps: %d", got)
	}
}
