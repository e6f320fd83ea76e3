package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	"OptionPull/pkg/cache"
	applogger "OptionPull/pkg/logger"
)

// LatestChain is the most recently persisted cycle for a symbol.
type LatestChain struct {
	Symbol     string                      `json:"symbol"`
	ObservedAt time.Time                   `json:"observed_at"`
	Rows       []models.ObservationMessage `json:"rows"`
}

type cachedChain struct {
	chain    *LatestChain
	storedAt time.Time
}

// ObservationService answers read queries over the snapshot store and keeps the
// latest chain cached. It is a CycleObserver.
type ObservationService struct {
	store  drepo.Storage
	cache  cache.Service // optional
	symbol string
	ttl    time.Duration
	latest atomic.Pointer[cachedChain]
	l      *applogger.Logger
}

func NewObservationService(store drepo.Storage, c cache.Service, symbol string, ttl time.Duration, l *applogger.Logger) *ObservationService {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ObservationService{store: store, cache: c, symbol: symbol, ttl: ttl, l: l}
}

func (s *ObservationService) latestKey() string { return cache.Key("chain", "latest", s.symbol) }

// Query returns observations matching f, newest first. An empty symbol means the service's own.
func (s *ObservationService) Query(ctx context.Context, f drepo.ObservationFilter) ([]models.ObservationMessage, error) {
	if f.Symbol == "" {
		f.Symbol = s.symbol
	}
	obs, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return messages(obs), nil
}

// History returns one contract's observations oldest first.
func (s *ObservationService) History(ctx context.Context, f drepo.ObservationFilter) ([]models.ObservationMessage, error) {
	f.Ascending = true
	f.Latest = false
	return s.Query(ctx, f)
}

// LatestChain serves the last cycle from memory, then the shared cache, then the store.
func (s *ObservationService) LatestChain(ctx context.Context) (*LatestChain, error) {
	if c := s.latest.Load(); c != nil && time.Since(c.storedAt) < s.memoryTTL() {
		return c.chain, nil
	}
	if s.cache != nil {
		lc, err := cache.GetTyped[LatestChain](ctx, s.cache, s.latestKey())
		switch {
		case err == nil:
			s.remember(&lc)
			return &lc, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			s.l.Warn("latest chain cache read failed", applogger.Error(err))
		}
	}

	obs, err := s.store.Query(ctx, drepo.ObservationFilter{Symbol: s.symbol, Latest: true})
	if err != nil {
		return nil, err
	}
	lc := s.chainOf(obs)
	if len(obs) > 0 {
		s.remember(lc)
	}
	return lc, nil
}

// OnCycle replaces the cached latest chain with a freshly persisted cycle.
func (s *ObservationService) OnCycle(ctx context.Context, obs []*models.Observation) {
	if len(obs) == 0 {
		return
	}
	lc := s.chainOf(obs)
	s.remember(lc)
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.latestKey(), lc, s.ttl); err != nil {
		s.l.Warn("latest chain cache write failed", applogger.Error(err))
	}
}

// memoryTTL keeps the in-process copy short so replicas pick up cycles run elsewhere.
func (s *ObservationService) memoryTTL() time.Duration {
	if s.cache == nil || s.ttl < 15*time.Second {
		return s.ttl
	}
	return 15 * time.Second
}

func (s *ObservationService) remember(lc *LatestChain) {
	s.latest.Store(&cachedChain{chain: lc, storedAt: time.Now()})
}

func (s *ObservationService) Health(ctx context.Context) error { return s.store.Health(ctx) }

func (s *ObservationService) chainOf(obs []*models.Observation) *LatestChain {
	lc := &LatestChain{Symbol: s.symbol, Rows: messages(obs)}
	if len(obs) > 0 {
		lc.ObservedAt = obs[0].ObservedAt
	}
	return lc
}

func messages(obs []*models.Observation) []models.ObservationMessage {
	out := make([]models.ObservationMessage, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o.Message())
		}
	}
	return out
}

var _ drepo.CycleObserver = (*ObservationService)(nil)
