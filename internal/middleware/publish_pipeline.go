package middleware

import (
	"context"
	"errors"
	"time"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	domrepo "OptionPull/internal/domain/repository"
	applogger "OptionPull/pkg/logger"
)

// PublishPipeline sits between the ingestion cycle and the stream publisher.
// It validates records, retries transient failures with capped exponential backoff,
// and drops the batch once retries are exhausted. It never holds state across batches.
type PublishPipeline struct {
	next       domrepo.Publisher
	metrics    domrepo.Metrics
	l          *applogger.Logger
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ domrepo.Publisher = (*PublishPipeline)(nil)

var errNilObservation = errors.New("nil observation")

type PipelineOption func(*PublishPipeline)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithBackoff sets the initial and maximum wait between retries.
func WithBackoff(initial, max time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if initial > 0 {
			p.backoff = initial
		}
		if max >= initial {
			p.maxBackoff = max
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *PublishPipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewPublishPipeline creates a new pipeline.
func NewPublishPipeline(next domrepo.Publisher, metrics domrepo.Metrics, opts ...PipelineOption) *PublishPipeline {
	p := &PublishPipeline{
		next:       next,
		metrics:    metrics,
		l:          applogger.NewNop(),
		retries:    2,
		backoff:    200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PublishPipeline) Publish(ctx context.Context, o *models.Observation) error {
	return p.PublishBatch(ctx, []*models.Observation{o})
}

// PublishBatch forwards the valid records of obs. The returned error is the last
// downstream failure after retries; invalid records alone never cause an error.
func (p *PublishPipeline) PublishBatch(ctx context.Context, obs []*models.Observation) error {
	start := time.Now()
	valid := make([]*models.Observation, 0, len(obs))
	for _, o := range obs {
		if err := validateObservation(o); err != nil {
			p.metrics.RecordError("pipeline_validate")
			continue
		}
		valid = append(valid, o)
	}
	if len(valid) == 0 {
		return nil
	}

	backoff := p.backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = p.next.PublishBatch(ctx, valid)
		if err == nil {
			p.metrics.RecordLatency("pipeline_publish", time.Since(start).Seconds())
			return nil
		}
		if attempt >= p.retries || !errs.IsTransient(err) {
			break
		}
		p.metrics.RecordError("pipeline_retry")
		p.l.Warn("publish failed, retrying",
			applogger.Int("attempt", attempt+1),
			applogger.Int("records", len(valid)),
			applogger.Duration("backoff", backoff),
			applogger.Error(err),
		)
		if serr := p.sleep(ctx, backoff); serr != nil {
			err = serr
			break
		}
		if backoff *= 2; backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}

	p.metrics.RecordError("pipeline_drop")
	p.l.Error("publish dropped",
		applogger.Int("records", len(valid)),
		applogger.Bool("transient", errs.IsTransient(err)),
		applogger.Error(err),
	)
	return err
}

func (p *PublishPipeline) Close() error { return p.next.Close() }

func validateObservation(o *models.Observation) error {
	if o == nil {
		return errs.Publish("validate", false, errNilObservation)
	}
	if err := o.ContractKey.Validate(); err != nil {
		return errs.Publish(o.ContractKey.String(), false, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
