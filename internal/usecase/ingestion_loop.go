package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	drepo "OptionPull/internal/domain/repository"
	applogger "OptionPull/pkg/logger"
)

// State is the ingestion loop's position in its cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StatePersisting State = "persisting"
	StateSleeping   State = "sleeping"
	StateStopped    State = "stopped"
)

type LoopOption func(*IngestionLoop)

// WithCycleLock makes replicas take turns: a cycle runs only on the holder of key.
func WithCycleLock(lock drepo.CycleLock, key string, ttl time.Duration) LoopOption {
	return func(l *IngestionLoop) {
		l.lock, l.lockKey, l.lockTTL = lock, key, ttl
	}
}

func WithLoopLogger(lg *applogger.Logger) LoopOption {
	return func(l *IngestionLoop) {
		if lg != nil {
			l.l = lg
		}
	}
}

// IngestionLoop drives the cycle processor on a fixed interval. Cycles never overlap:
// the sleep starts after a cycle finishes. Cancellation is honoured between cycles;
// a running cycle finishes under its own timeout.
type IngestionLoop struct {
	proc         *CycleProcessor
	interval     time.Duration
	cycleTimeout time.Duration
	lock         drepo.CycleLock
	lockKey      string
	lockTTL      time.Duration
	l            *applogger.Logger
	metrics      drepo.Metrics

	mu    sync.RWMutex
	state State
	last  *CycleReport
	done  chan struct{}
}

func NewIngestionLoop(proc *CycleProcessor, metrics drepo.Metrics, interval, cycleTimeout time.Duration, opts ...LoopOption) *IngestionLoop {
	l := &IngestionLoop{
		proc:         proc,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		metrics:      metrics,
		l:            applogger.NewNop(),
		state:        StateIdle,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is cancelled. The first cycle starts immediately.
func (l *IngestionLoop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.setState(StateStopped)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.l.Info("ingestion loop stopped")
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			l.l.Info("ingestion loop stopped")
			return nil
		}

		rep := l.RunOnce(ctx)
		l.setState(StateSleeping)
		l.l.Debug("sleeping", applogger.String("last_result", rep.Result), applogger.Duration("interval", l.interval))
		timer.Reset(l.interval)
	}
}

// RunOnce executes one cycle on a context detached from ctx's cancellation and
// bounded by the cycle timeout.
func (l *IngestionLoop) RunOnce(ctx context.Context) CycleReport {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cycleTimeout)
	defer cancel()

	if l.lock != nil {
		ok, err := l.lock.TryLock(cctx, l.lockKey, l.lockTTL)
		switch {
		case err != nil:
			l.metrics.RecordError("cycle_lock")
			l.l.Warn("cycle lock unavailable, running unlocked", applogger.Error(err))
		case !ok:
			now := time.Now().UTC()
			rep := CycleReport{StartedAt: now, FinishedAt: now, Result: ResultLocked}
			l.metrics.RecordCycle(rep.Result)
			l.l.Debug("cycle held by another replica", applogger.String("key", l.lockKey))
			l.record(rep)
			return rep
		default:
			defer func() {
				if err := l.lock.Unlock(context.WithoutCancel(cctx), l.lockKey); err != nil {
					l.l.Warn("cycle unlock failed", applogger.Error(err))
				}
			}()
		}
	}

	rep := l.proc.Run(cctx, l.setState)
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && rep.Result != ResultOK {
		l.metrics.RecordError("cycle_timeout")
		rep.Result = ResultTimeout
		l.l.Warn("cycle exceeded timeout", applogger.Duration("timeout", l.cycleTimeout))
	}
	l.record(rep)
	return rep
}

// Done is closed when Run returns.
func (l *IngestionLoop) Done() <-chan struct{} { return l.done }

// State returns the loop's current state.
func (l *IngestionLoop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// LastReport returns the most recent cycle report, or nil before the first cycle.
func (l *IngestionLoop) LastReport() *CycleReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return nil
	}
	rep := *l.last
	return &rep
}

func (l *IngestionLoop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *IngestionLoop) record(rep CycleReport) {
	l.mu.Lock()
	l.last = &rep
	l.state = StateIdle
	l.mu.Unlock()
}
