package pricing

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"runtime"

	"OptionPull/internal/domain/models"
	"OptionPull/internal/domain/service"

	"golang.org/x/sync/errgroup"
)

// Option configures Engine.
type Option func(*Config)

// Config holds engine configuration.
type Config struct {
	RiskFreeRate       float64
	Paths              int
	Seed               uint64 // 0 picks a random seed
	Workers            int
	LiquidityThreshold float64
	Simulate           bool
}

// WithRiskFreeRate sets the annual risk-free rate (decimal).
func WithRiskFreeRate(r float64) Option {
	return func(c *Config) { c.RiskFreeRate = r }
}

// WithPaths sets the number of Monte-Carlo paths.
func WithPaths(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Paths = n
		}
	}
}

// WithSeed fixes the simulation seed so results are reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Config) { c.Seed = seed }
}

// WithWorkers bounds the pricing worker pool.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithLiquidityThreshold sets the volume a contract must exceed to be priced.
func WithLiquidityThreshold(v float64) Option {
	return func(c *Config) { c.LiquidityThreshold = v }
}

// WithSimulation toggles the Monte-Carlo estimator.
func WithSimulation(enabled bool) Option {
	return func(c *Config) { c.Simulate = enabled }
}

// Engine computes Greeks and fair values. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates a pricing engine.
func NewEngine(opts ...Option) *Engine {
	cfg := Config{
		RiskFreeRate:       0.01,
		Paths:              DefaultPaths,
		Workers:            runtime.NumCPU(),
		LiquidityThreshold: 10000,
		Simulate:           true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	return &Engine{cfg: cfg}
}

// Price computes analytics for one record. Closed-form and simulated results are
// independent: either may be missing while the other is present.
func (e *Engine) Price(rec *models.ContractRecord, in service.MarketInputs) (models.Analytics, service.Outcome) {
	var out models.Analytics
	if rec == nil || rec.ImpliedVolatility == nil {
		return out, service.Skipped
	}

	strike, _ := rec.StrikePrice.Float64()
	inputs := Inputs{
		S:     in.Underlying,
		K:     strike,
		T:     models.YearsToExpiry(rec.ObservedAt, rec.ExpiryDate),
		R:     in.RiskFreeRate,
		Sigma: *rec.ImpliedVolatility / 100,
		Call:  rec.OptionType.IsCall(),
	}
	if !inputs.Valid() {
		return out, service.Skipped
	}

	computed := 0
	if g, ok := BlackScholes(inputs); ok {
		out.Delta = models.Float(g.Delta)
		out.Gamma = models.Float(g.Gamma)
		out.Theta = models.Float(g.Theta)
		out.Vega = models.Float(g.Vega)
		out.Rho = models.Float(g.Rho)
		out.FairValueClosedForm = models.Float(g.FairValue)
		computed++
	}
	if e.cfg.Simulate {
		if v, ok := MonteCarlo(inputs, e.cfg.Paths, e.rngFor(rec.ContractKey)); ok {
			out.FairValueSimulated = models.Float(v)
			computed++
		}
	}

	switch {
	case computed == 0:
		return models.Analytics{}, service.Skipped
	case computed == 1 && e.cfg.Simulate:
		return out, service.PartiallyPriced
	default:
		return out, service.Priced
	}
}

// Enrich prices every record whose traded volume exceeds the liquidity threshold,
// spreading the work over a bounded pool. Records keep their input order; records that
// are not priced carry empty analytics. Nil records are dropped. Cancellation stops
// pricing of remaining records.
func (e *Engine) Enrich(ctx context.Context, recs []*models.ContractRecord) ([]*models.Observation, service.EnrichStats) {
	recs = nonNil(recs)
	out := make([]*models.Observation, len(recs))
	outcomes := make([]service.Outcome, len(recs))
	liquid := make([]bool, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, rec := range recs {
		out[i] = &models.Observation{ContractRecord: *rec}
		if !e.Liquid(rec) {
			continue
		}
		liquid[i] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := service.MarketInputs{Underlying: *rec.UnderlyingValue, RiskFreeRate: e.cfg.RiskFreeRate}
			out[i].Analytics, outcomes[i] = e.Price(rec, in)
			return nil
		})
	}
	_ = g.Wait()

	var stats service.EnrichStats
	for i := range recs {
		if !liquid[i] {
			stats.BelowThreshold++
			continue
		}
		switch outcomes[i] {
		case service.Priced:
			stats.Priced++
		case service.PartiallyPriced:
			stats.Partial++
		default:
			stats.Skipped++
		}
	}
	return out, stats
}

func nonNil(recs []*models.ContractRecord) []*models.ContractRecord {
	for _, r := range recs {
		if r == nil {
			kept := make([]*models.ContractRecord, 0, len(recs))
			for _, r := range recs {
				if r != nil {
					kept = append(kept, r)
				}
			}
			return kept
		}
	}
	return recs
}

// Liquid reports whether the record passes the liquidity gate and carries an underlying.
func (e *Engine) Liquid(rec *models.ContractRecord) bool {
	if rec == nil || rec.UnderlyingValue == nil || rec.TotalTradedVolume == nil {
		return false
	}
	return *rec.TotalTradedVolume > e.cfg.LiquidityThreshold
}

// rngFor returns a generator whose stream depends only on the seed and the contract key,
// so results do not depend on worker scheduling.
func (e *Engine) rngFor(k models.ContractKey) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.String()))
	return rand.New(rand.NewPCG(e.cfg.Seed, h.Sum64()))
}

var (
	_ service.Pricer   = (*Engine)(nil)
	_ service.Enricher = (*Engine)(nil)
)
