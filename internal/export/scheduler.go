package export

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSchedulerClosed is returned when scheduling on a stopped scheduler.
var ErrSchedulerClosed = errors.New("export scheduler is shut down")

// errNotRunning is returned by Cancel for jobs this process is not running.
var errNotRunning = errors.New("export job not running here")

// Scheduler starts tasks in the background. Schedule must return without
// waiting for the task to finish.
type Scheduler interface {
	Schedule(ctx context.Context, task Task) error
}

// Canceler is implemented by schedulers that can interrupt a running task
// immediately rather than waiting for the next cancellation check.
type Canceler interface {
	Cancel(jobID string) error
}

// TaskRunner executes one task to completion.
type TaskRunner interface {
	Run(ctx context.Context, task Task) error
}

// LocalScheduler runs each task on its own goroutine in this process.
type LocalScheduler struct {
	runner TaskRunner
	base   context.Context
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewLocalScheduler returns a scheduler whose tasks stop when ctx is done.
func NewLocalScheduler(ctx context.Context, runner TaskRunner, logger *slog.Logger) *LocalScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalScheduler{
		runner:  runner,
		base:    ctx,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Schedule starts task. The request context only bounds the hand-off; the
// task runs under the scheduler's context.
func (s *LocalScheduler) Schedule(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	ctx, cancel := context.WithCancel(s.base)
	s.running[task.JobID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, task.JobID)
			s.mu.Unlock()
		}()
		if err := s.runner.Run(ctx, task); err != nil {
			s.logger.Error("export task failed", "job_id", task.JobID, "error", err)
		}
	}()
	return nil
}

// Cancel interrupts the task for jobID if it is running here.
func (s *LocalScheduler) Cancel(jobID string) error {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return errNotRunning
	}
	cancel()
	return nil
}

// Running reports how many tasks are in flight.
func (s *LocalScheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops accepting tasks and waits for running ones, up to ctx.
// Tasks still running when ctx ends are interrupted.
func (s *LocalScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for _, cancel := range s.running {
			cancel()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
