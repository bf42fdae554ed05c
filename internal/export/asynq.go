package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeExport = "photoexport:export"
	TaskTypeSweep  = "photoexport:sweep"
)

// Enqueuer abstracts task enqueue operations.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProcessingCanceler abstracts cancelling an active asynq task.
type ProcessingCanceler interface {
	CancelProcessing(id string) error
}

var (
	_ Enqueuer           = (*asynq.Client)(nil)
	_ ProcessingCanceler = (*asynq.Inspector)(nil)
)

// AsynqScheduler enqueues tasks for a worker process. The asynq task id is
// the job id, so a job is never enqueued twice.
type AsynqScheduler struct {
	client    Enqueuer
	inspector ProcessingCanceler
	queue     string
	timeout   time.Duration
}

// NewAsynqScheduler returns a scheduler for queue. inspector may be nil, in
// which case cancellation waits for the worker's between-photo check.
func NewAsynqScheduler(client Enqueuer, inspector ProcessingCanceler, queue string, timeout time.Duration) *AsynqScheduler {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &AsynqScheduler{client: client, inspector: inspector, queue: queue, timeout: timeout}
}

func (s *AsynqScheduler) Schedule(ctx context.Context, task Task) error {
	b, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeExport, b),
		asynq.Queue(s.queue),
		asynq.TaskID(task.JobID),
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
	)
	return err
}

func (s *AsynqScheduler) Cancel(jobID string) error {
	if s.inspector == nil {
		return errNotRunning
	}
	return s.inspector.CancelProcessing(jobID)
}

// ProcessTask is the asynq handler for TaskTypeExport.
func (r *Runner) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode export task: %v: %w", err, asynq.SkipRetry)
	}
	if task.JobID == "" {
		return fmt.Errorf("export task without job id: %w", asynq.SkipRetry)
	}
	return r.Run(ctx, task)
}

type sweepPayload struct {
	MaxAgeSeconds int64 `json:"max_age_seconds"`
}

// NewSweepTask builds the periodic retention task.
func NewSweepTask(maxAge time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(sweepPayload{MaxAgeSeconds: int64(maxAge / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSweep, b, asynq.MaxRetry(0)), nil
}

// SweepHandler returns the asynq handler for TaskTypeSweep.
func SweepHandler(sweeper Sweeper, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, t *asynq.Task) error {
		var p sweepPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode sweep task: %v: %w", err, asynq.SkipRetry)
		}
		res, err := sweeper.Sweep(time.Duration(p.MaxAgeSeconds) * time.Second)
		if err != nil {
			return err
		}
		logger.Debug("scheduled export sweep done", "deleted", len(res.Deleted))
		return nil
	}
}
