package workerpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Failure records a task that returned an error or panicked
type Failure struct {
	Index int // position of the task in the submitted batch
	ID    string
	Err   error
}

// WorkerPool runs batches of independent tasks on a bounded number of
// goroutines. A batch is a phase: Run returns only once every task of the
// batch has finished, which makes it a barrier.
type WorkerPool struct {
	name           string
	maxWorkers     int
	stopOnError    bool
	logger         *zap.Logger
	activeWorkers  int32
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	skippedTasks   uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	// StopOnError cancels the rest of the batch on the first failure.
	// Otherwise failures are collected and the batch runs to completion.
	StopOnError bool
	Logger      *zap.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &WorkerPool{
		name:        cfg.Name,
		maxWorkers:  cfg.MaxWorkers,
		stopOnError: cfg.StopOnError,
		logger:      cfg.Logger,
	}
}

// Run executes every task with at most MaxWorkers running at once and waits
// for all of them. Failures are returned in submission order. The error is
// non-nil when the context was canceled or, with StopOnError, when a task
// failed; tasks not started by then are counted as skipped.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) ([]Failure, error) {
	p.logger.Debug("Worker pool batch started",
		zap.String("pool", p.name),
		zap.Int("max_workers", p.maxWorkers),
		zap.Int("tasks", len(tasks)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	var (
		mu       sync.Mutex
		failures []Failure
	)

	started := 0
	for i, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		started++
		atomic.AddUint64(&p.totalTasks, 1)

		g.Go(func() error {
			if gctx.Err() != nil {
				atomic.AddUint64(&p.skippedTasks, 1)
				return nil
			}

			err := p.executeTask(gctx, task)
			if err == nil {
				return nil
			}

			mu.Lock()
			failures = append(failures, Failure{Index: i, ID: task.ID, Err: err})
			mu.Unlock()

			if p.stopOnError {
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if skipped := len(tasks) - started; skipped > 0 {
		atomic.AddUint64(&p.skippedTasks, uint64(skipped))
	}
	if err == nil {
		// errgroup only cancels gctx on task errors; the caller's context
		// may have been canceled independently.
		err = ctx.Err()
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })

	p.logger.Debug("Worker pool batch finished",
		zap.String("pool", p.name),
		zap.Int("tasks", len(tasks)),
		zap.Int("failures", len(failures)),
		zap.Error(err))

	return failures, err
}

// executeTask executes a single task
func (p *WorkerPool) executeTask(ctx context.Context, task Task) error {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()

	// Execute task with panic recovery
	err := p.safeExecute(ctx, task)

	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedTasks, 1)
		p.logger.Debug("Task completed",
			zap.String("pool", p.name),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration))
	}
	return err
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	return task.Fn(ctx)
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		SkippedTasks:   atomic.LoadUint64(&p.skippedTasks),
	}
}

// LogStats logs the task counters of the pool, normally once its batch is
// done
func (p *WorkerPool) LogStats() {
	stats := p.Stats()
	p.logger.Info("Worker pool stats",
		zap.String("pool", stats.Name),
		zap.Int("max_workers", stats.MaxWorkers),
		zap.Uint64("tasks", stats.TotalTasks),
		zap.Uint64("completed", stats.CompletedTasks),
		zap.Uint64("failed", stats.FailedTasks),
		zap.Uint64("skipped", stats.SkippedTasks),
		zap.Float64("success_rate", stats.SuccessRate()))
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	SkippedTasks   uint64
}

// SuccessRate returns the task success rate as a percentage
func (s Stats) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 100.0
	}
	return (float64(s.CompletedTasks) / float64(s.TotalTasks)) * 100.0
}
