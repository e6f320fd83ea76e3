package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/domain/service"
	applogger "OptionPull/pkg/logger"
)

// Cycle results, also used as the cycles_total metric label.
const (
	ResultOK            = "ok"
	ResultEmpty         = "empty"
	ResultFetchFailed   = "fetch_failed"
	ResultStoreFailed   = "store_failed"
	ResultPublishFailed = "publish_failed"
	ResultTimeout       = "timeout"
	ResultLocked        = "skipped_locked"
)

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	ObservedAt   time.Time           `json:"observed_at,omitempty"`
	Result       string              `json:"result"`
	Fetched      int                 `json:"fetched"`
	Stored       int                 `json:"stored"`
	Published    int                 `json:"published"`
	Pricing      service.EnrichStats `json:"pricing"`
	FetchError   string              `json:"fetch_error,omitempty"`
	StoreError   string              `json:"store_error,omitempty"`
	PublishError string              `json:"publish_error,omitempty"`
}

// CycleProcessor runs one fetch, enrich, persist pass.
type CycleProcessor struct {
	fetcher   drepo.ChainFetcher
	pricer    service.Enricher
	store     drepo.Storage
	pub       drepo.Publisher // nil when streaming is disabled
	metrics   drepo.Metrics
	observers []drepo.CycleObserver
	symbol    string
	l         *applogger.Logger
}

// NewCycleProcessor creates a new CycleProcessor instance.
func NewCycleProcessor(
	fetcher drepo.ChainFetcher,
	pricer service.Enricher,
	store drepo.Storage,
	pub drepo.Publisher,
	metrics drepo.Metrics,
	symbol string,
	l *applogger.Logger,
) *CycleProcessor {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CycleProcessor{
		fetcher: fetcher,
		pricer:  pricer,
		store:   store,
		pub:     pub,
		metrics: metrics,
		symbol:  symbol,
		l:       l,
	}
}

// AddObserver registers o to receive every successfully stored cycle.
func (p *CycleProcessor) AddObserver(o drepo.CycleObserver) {
	if o != nil {
		p.observers = append(p.observers, o)
	}
}

// Run executes one cycle. stage, when set, is told about each state change.
// Errors never escape: they are logged, counted and reflected in the report.
func (p *CycleProcessor) Run(ctx context.Context, stage func(State)) CycleReport {
	if stage == nil {
		stage = func(State) {}
	}
	rep := CycleReport{StartedAt: time.Now().UTC()}
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		p.metrics.RecordCycle(rep.Result)
		p.metrics.RecordLatency("cycle", rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	}()

	stage(StateFetching)
	start := time.Now()
	recs, err := p.fetcher.Fetch(ctx, p.symbol)
	p.metrics.RecordLatency("fetch", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordError(string(errs.KindFetch))
		p.l.Error("fetch failed, skipping cycle",
			applogger.String("symbol", p.symbol),
			applogger.Bool("transient", errs.IsTransient(err)),
			applogger.Error(err),
		)
		rep.Result, rep.FetchError = ResultFetchFailed, err.Error()
		return rep
	}
	rep.Fetched = len(recs)
	if len(recs) == 0 {
		p.l.Warn("empty option chain", applogger.String("symbol", p.symbol))
		rep.Result = ResultEmpty
		return rep
	}
	rep.ObservedAt = recs[0].ObservedAt
	if u := recs[0].UnderlyingValue; u != nil {
		p.metrics.RecordUnderlying(p.symbol, *u)
	}

	stage(StateProcessing)
	start = time.Now()
	obs, stats := p.pricer.Enrich(ctx, recs)
	p.metrics.RecordLatency("enrich", time.Since(start).Seconds())
	p.metrics.RecordSkipped("below_threshold", stats.BelowThreshold)
	p.metrics.RecordSkipped("invalid_inputs", stats.Skipped)
	rep.Pricing = stats

	stage(StatePersisting)
	storeErr, pubErr := p.persist(ctx, obs)
	switch {
	case storeErr != nil:
		rep.Result, rep.StoreError = ResultStoreFailed, storeErr.Error()
	case pubErr != nil:
		rep.Result = ResultPublishFailed
	default:
		rep.Result = ResultOK
	}
	if storeErr == nil {
		rep.Stored = len(obs)
		p.notify(ctx, obs)
	}
	if pubErr != nil {
		rep.PublishError = pubErr.Error()
	} else if p.pub != nil {
		rep.Published = len(obs)
	}

	p.l.Info("cycle complete",
		applogger.String("symbol", p.symbol),
		applogger.String("result", rep.Result),
		applogger.Int("fetched", rep.Fetched),
		applogger.Int("priced", stats.Priced),
		applogger.Int("below_threshold", stats.BelowThreshold),
		applogger.Int("skipped", stats.Skipped),
		applogger.Duration("duration", time.Since(rep.StartedAt)),
	)
	return rep
}

// persist writes to the store and the stream concurrently and waits for both.
// Neither failure cancels the other write.
func (p *CycleProcessor) persist(ctx context.Context, obs []*models.Observation) (storeErr, pubErr error) {
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		storeErr = p.store.UpsertBatch(ctx, obs)
		p.metrics.RecordLatency("store", time.Since(start).Seconds())
		if storeErr != nil {
			p.metrics.RecordError(string(errs.KindStore))
			p.l.Error("store write failed",
				applogger.Int("records", len(obs)),
				applogger.Bool("transient", errs.IsTransient(storeErr)),
				applogger.Error(storeErr),
			)
			return nil
		}
		p.metrics.RecordMessageSent("store", p.symbol, len(obs))
		return nil
	})
	if p.pub != nil {
		g.Go(func() error {
			start := time.Now()
			pubErr = p.pub.PublishBatch(ctx, obs)
			p.metrics.RecordLatency("publish", time.Since(start).Seconds())
			if pubErr != nil {
				p.metrics.RecordError(string(errs.KindPublish))
				p.l.Warn("stream publish failed",
					applogger.Int("records", len(obs)),
					applogger.Error(pubErr),
				)
				return nil
			}
			p.metrics.RecordMessageSent("stream", p.symbol, len(obs))
			return nil
		})
	}
	_ = g.Wait()
	return storeErr, pubErr
}

func (p *CycleProcessor) notify(ctx context.Context, obs []*models.Observation) {
	for _, o := range p.observers {
		o.OnCycle(ctx, obs)
	}
}

// Close releases the store and the publisher.
func (p *CycleProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
