// Package worker runs one generation worker per accelerator device. Workers
// share an input queue of jobs and an output queue of results and never
// talk to each other.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"peacasso-client/internal/cache"
	"peacasso-client/internal/engine"
	"peacasso-client/internal/models"
	"peacasso-client/internal/queue"
)

// Config describes a pool
type Config struct {
	Devices     []string
	Factory     engine.Factory
	Cache       *cache.Cache
	Recorder    Recorder // optional
	Logger      *slog.Logger
	StopTimeout time.Duration // how long Stop waits for busy workers
}

// Pool is a fixed set of workers, one per device
type Pool struct {
	workers     []*Worker
	in          *queue.Queue[*models.Job]
	out         *queue.Queue[*models.Result]
	logger      *slog.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stop    sync.Once
}

// New builds a worker and its engine for every device
func New(cfg Config) (*Pool, error) {
	if len(cfg.Devices) == 0 {
		return nil, errors.New("worker pool needs at least one device")
	}
	if cfg.Factory == nil {
		return nil, errors.New("worker pool needs an engine factory")
	}
	if cfg.Cache == nil {
		return nil, errors.New("worker pool needs a cache")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}

	p := &Pool{
		in:          queue.New[*models.Job](),
		out:         queue.New[*models.Result](),
		logger:      logger.With("component", "pool"),
		stopTimeout: stopTimeout,
	}
	for i, device := range cfg.Devices {
		eng, err := cfg.Factory(device)
		if err != nil {
			return nil, fmt.Errorf("engine for device %s: %w", device, err)
		}
		p.workers = append(p.workers, &Worker{
			id:       i + 1,
			device:   device,
			engine:   eng,
			cache:    cfg.Cache,
			in:       p.in,
			out:      p.out,
			recorder: cfg.Recorder,
			logger:   logger.With("component", "worker", "worker_id", i+1, "device", device),
		})
	}
	return p, nil
}

// Start launches every worker. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(w)
	}
	p.logger.Info("started workers", "count", len(p.workers))
}

// Input is the shared job queue
func (p *Pool) Input() *queue.Queue[*models.Job] { return p.in }

// Output is the shared result queue
func (p *Pool) Output() *queue.Queue[*models.Result] { return p.out }

// Size returns the number of workers
func (p *Pool) Size() int { return len(p.workers) }

// Stop cancels every worker and waits for them up to the stop timeout. A
// worker stuck in an engine that ignores cancellation is abandoned. Stop is
// idempotent, and a no-op on a pool that was never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}

	p.stop.Do(func() {
		cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("all workers stopped")
		case <-time.After(p.stopTimeout):
			p.logger.Warn("workers still busy after stop timeout, abandoning", "timeout", p.stopTimeout)
		}
	})
}
