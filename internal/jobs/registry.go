package jobs

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("export job not found")
	// ErrJobExists is returned when Create reuses an id.
	ErrJobExists = errors.New("export job already exists")
	// ErrJobFinished is returned when cancelling a job in a terminal state.
	ErrJobFinished = errors.New("export job already finished")
)

// Registry maps job ids to job state. Implementations are safe for
// concurrent use; Update applies fn atomically with respect to other writers.
type Registry interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Job, error)
}

// RequestCancel flags a non-terminal job for cancellation.
func RequestCancel(ctx context.Context, reg Registry, id string) (Job, error) {
	return reg.Update(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrJobFinished
		}
		j.CancelRequested = true
		return nil
	})
}
