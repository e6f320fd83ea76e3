package service

import (
	"context"

	"OptionPull/internal/domain/models"
)

// MarketInputs are the market-wide pricing inputs for one contract.
type MarketInputs struct {
	Underlying   float64
	RiskFreeRate float64
}

// Outcome tells whether analytics were computed. Skipped is not an error.
type Outcome int

const (
	Skipped Outcome = iota
	PartiallyPriced
	Priced
)

func (o Outcome) String() string {
	switch o {
	case Priced:
		return "priced"
	case PartiallyPriced:
		return "partial"
	default:
		return "skipped"
	}
}

// Pricer derives Greeks and fair values for one contract observation.
type Pricer interface {
	Price(rec *models.ContractRecord, in MarketInputs) (models.Analytics, Outcome)
}

// EnrichStats counts pricing outcomes for one cycle.
type EnrichStats struct {
	Priced         int
	Partial        int
	Skipped        int // liquid but inputs invalid
	BelowThreshold int
}

// Enricher prices a whole cycle, gating on liquidity.
type Enricher interface {
	Enrich(ctx context.Context, recs []*models.ContractRecord) ([]*models.Observation, EnrichStats)
}
