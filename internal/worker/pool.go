package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"go.uber.org/zap"
)

// Job is one engine run waiting for the worker.
type Job struct {
	RunID string
	Kind  core.RunKind
}

// Handler handles jobs.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

var (
	ErrPoolClosed     = errors.New("worker: pool closed")
	ErrPoolFull       = errors.New("worker: queue full")
	ErrPoolNotStarted = errors.New("worker: pool not started")
)

// Pool runs jobs on a fixed number of goroutines. Engine runs use a single
// worker so transfers stay sequential.
type Pool struct {
	handler Handler
	workers int
	jobs    chan Job
	logger  *zap.Logger

	// mu guards started, closed and sends on jobs.
	mu      sync.RWMutex
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(workers int, handler Handler, queueSize int, logger *zap.Logger) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("worker: workers number cant be <= 0")
	}
	if handler == nil {
		return nil, errors.New("worker: required handler")
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		workers: workers,
		jobs:    make(chan Job, queueSize),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	for range p.workers {
		p.wg.Add(1)
		go p.run()
	}
	return nil
}

// Stop signals running jobs through their context, drains the queue and
// waits for the workers to exit. Jobs observe the stop between files.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) Submit(ctx context.Context, job Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case !p.started:
		return ErrPoolNotStarted
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.handler.Handle(p.ctx, job); err != nil {
			p.logger.Error("job failed",
				zap.String("run_id", job.RunID),
				zap.String("kind", string(job.Kind)),
				zap.Error(err),
			)
		}
	}
}
