package repository

import (
	"context"
	"time"

	"OptionPull/internal/domain/models"
)

// ChainFetcher pulls one option-chain snapshot for a symbol.
type ChainFetcher interface {
	Fetch(ctx context.Context, symbol string) ([]*models.ContractRecord, error)
}

// Publisher streams observations to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, o *models.Observation) error
	PublishBatch(ctx context.Context, obs []*models.Observation) error
	Close() error
}

// Storage persists observations keyed on the contract business key.
type Storage interface {
	Init(ctx context.Context) error // ensure schema
	Upsert(ctx context.Context, o *models.Observation) error
	UpsertBatch(ctx context.Context, obs []*models.Observation) error
	Query(ctx context.Context, f ObservationFilter) ([]*models.Observation, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// ObservationFilter selects stored observations. Zero values mean "no constraint".
type ObservationFilter struct {
	Symbol     string
	StrikeMin  *float64
	StrikeMax  *float64
	Strike     *float64
	OptionType models.OptionType
	Expiry     *time.Time
	From       time.Time
	To         time.Time
	MinVolume  float64 // strictly greater than
	Latest     bool    // only the most recent observed_at
	Ascending  bool    // observed_at ASC instead of DESC
	Limit      int
}

// CycleLock prevents two replicas from running the same ingestion cycle.
type CycleLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// CycleObserver is notified with the observations of each persisted cycle.
type CycleObserver interface {
	OnCycle(ctx context.Context, obs []*models.Observation)
}

type Metrics interface {
	RecordMessageSent(backend, symbol string, n int)
	RecordError(kind string)
	RecordUnderlying(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordCycle(result string)
	RecordSkipped(reason string, n int)
}
