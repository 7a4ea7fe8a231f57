package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"LeadPulse/internal/broadcast"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/models"
	"LeadPulse/internal/queue"
)

var (
	ErrPoolFull   = errors.New("worker pool queue is full")
	ErrPoolClosed = errors.New("worker pool is stopped")
)

// Task is a unit of background work detached from the request that
// scheduled it.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs short tasks on a fixed set of workers fed by a bounded channel,
// and long paced tasks (broadcasts, sweeps) on their own goroutines so they
// never hold a worker.
type Pool struct {
	log   *zap.Logger
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	ctx    context.Context

	// sweeping guards against overlapping sweeps.
	sweeping sync.Mutex
}

func NewPool(size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{log: log, tasks: make(chan Task, size), ctx: context.Background()}
}

// Start launches workers that run tasks with ctx until the pool is stopped
// or ctx is cancelled.
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)

		go func(id int) {
			defer p.wg.Done()

			p.log.Info("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					p.log.Info("worker shutting down", zap.Int("worker_id", id))
					return

				case task, ok := <-p.tasks:
					if !ok {
						p.log.Info("task channel closed", zap.Int("worker_id", id))
						return
					}
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked",
				zap.Int("worker_id", id),
				zap.String("task", task.Name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.Run(ctx); err != nil {
		p.log.Warn("task failed",
			zap.Int("worker_id", id),
			zap.String("task", task.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	p.log.Debug("task done",
		zap.Int("worker_id", id),
		zap.String("task", task.Name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// Submit hands a task to the pool without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		metrics.TasksDropped.Inc()
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		metrics.TasksDropped.Inc()
		p.log.Warn("task dropped, pool is full", zap.String("task", task.Name))
		return ErrPoolFull
	}
}

// Spawn runs a long task on its own tracked goroutine. It only fails once
// the pool is stopped.
func (p *Pool) Spawn(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		metrics.TasksDropped.Inc()
		return ErrPoolClosed
	}

	ctx := p.ctx
	p.wg.Add(1)
	metrics.DetachedTasks.Inc()

	go func() {
		defer p.wg.Done()
		defer metrics.DetachedTasks.Dec()
		p.run(ctx, -1, task)
	}()
	return nil
}

// Stop refuses new tasks and waits for queued and spawned ones to finish.
// It returns ctx.Err() if ctx ends first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeper is the part of the send queue the sweeper drives.
type Sweeper interface {
	Sweep(ctx context.Context) (queue.SweepResult, error)
}

// RunSweeper sweeps once immediately, so items left over from a previous
// run are resumed, and then every interval until ctx is cancelled.
func (p *Pool) RunSweeper(ctx context.Context, q Sweeper, interval time.Duration) {
	p.sweepOnce(ctx, q)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx, q)
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context, q Sweeper) {
	if !p.sweeping.TryLock() {
		p.log.Info("sweep already running, skipping")
		return
	}
	defer p.sweeping.Unlock()

	if _, err := q.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Error("queue sweep failed", zap.Error(err))
	}
}

// SweepTask runs a sweep unless one is already in progress. Sweeps are
// paced, so schedule it with Spawn.
func (p *Pool) SweepTask(q Sweeper) Task {
	return Task{
		Name: "sweep",
		Run: func(ctx context.Context) error {
			p.sweepOnce(ctx, q)
			return nil
		},
	}
}

type Processor interface {
	Process(ctx context.Context, id string) error
}

func ProcessTask(q Processor, id string) Task {
	return Task{
		Name: "process:" + id,
		Run: func(ctx context.Context) error {
			return q.Process(ctx, id)
		},
	}
}

type Notifier interface {
	Broadcast(ctx context.Context, lead models.Lead) (broadcast.Result, error)
}

func BroadcastTask(b Notifier, lead models.Lead) Task {
	return Task{
		Name: "broadcast:" + string(lead.FormType),
		Run: func(ctx context.Context) error {
			_, err := b.Broadcast(ctx, lead)
			return err
		},
	}
}
