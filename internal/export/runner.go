package export

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/jobs"
)

// Archiver executes one export run.
type Archiver interface {
	Run(ctx context.Context, req archive.Request) (archive.Result, error)
}

// Runner drives a job through its lifecycle: it claims the job, runs the
// archiver with per-photo progress updates, and records the outcome.
type Runner struct {
	registry jobs.Registry
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner returns a runner that records job state in registry.
func NewRunner(registry jobs.Registry, archiver Archiver, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, archiver: archiver, logger: logger, now: time.Now}
}

// Run executes task. Export failures end up on the job record and are not
// returned; an error means the job state itself could not be maintained.
func (r *Runner) Run(ctx context.Context, task Task) error {
	log := r.logger.With("job_id", task.JobID)
	cancelled := false
	job, err := r.registry.Update(ctx, task.JobID, func(j *jobs.Job) error {
		if j.CancelRequested {
			cancelled = true
			return j.Transition(jobs.StatusCancelled, r.now())
		}
		return j.Transition(jobs.StatusProcessing, r.now())
	})
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		log.Info("export job no longer tracked; skipping")
		return nil
	case errors.Is(err, jobs.ErrInvalidTransition):
		log.Warn("export job already started or finished; skipping", "status", job.Status)
		return nil
	case err != nil:
		return fmt.Errorf("claim export job %s: %w", task.JobID, err)
	}
	if cancelled {
		log.Info("export job cancelled before start")
		return nil
	}
	log.Info("export job started", "images", len(task.Photos), "format", task.Format, "quality", task.Quality)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	stateCtx := context.WithoutCancel(ctx)

	start := time.Now()
	res, runErr := r.archiver.Run(runCtx, archive.Request{
		Photos:          task.Photos,
		Destination:     task.Destination,
		Format:          task.Format,
		Tier:            task.Quality,
		IncludeManifest: task.IncludeMetadata,
		OnItem: func(item archive.ItemResult) {
			updated, err := r.registry.Update(stateCtx, task.JobID, func(j *jobs.Job) error {
				j.RecordItem(item.Exported)
				return nil
			})
			switch {
			case errors.Is(err, jobs.ErrJobNotFound):
				stop()
			case err != nil:
				log.Warn("failed to record export progress", "photo_id", item.PhotoID, "error", err)
			case updated.CancelRequested:
				stop()
			}
		},
	})
	if res.ManifestErr != nil {
		log.Warn("export manifest not written", "error", res.ManifestErr)
	}

	if runErr != nil {
		return r.finishWithError(stateCtx, ctx, task, res, runErr)
	}

	checksum := ""
	var size int64
	if task.Format == archive.FormatZip {
		checksum, size, err = fileChecksum(res.Path)
		if err != nil {
			log.Warn("failed to checksum export archive", "path", res.Path, "error", err)
		}
	}
	lateCancel := false
	_, err = r.registry.Update(stateCtx, task.JobID, func(j *jobs.Job) error {
		if j.CancelRequested {
			lateCancel = true
			if task.Format == archive.FormatFolder {
				j.ExportPath = res.Path
			}
			return j.Transition(jobs.StatusCancelled, r.now())
		}
		return j.Complete(res.Path, checksum, r.now())
	})
	if errors.Is(err, jobs.ErrJobNotFound) {
		r.discard(log, task)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record export completion %s: %w", task.JobID, err)
	}
	if lateCancel {
		log.Info("export job cancelled after its output was built", "exported", res.Exported)
		r.discard(log, task)
		return nil
	}
	log.Info("export job completed",
		"path", res.Path,
		"exported", res.Exported,
		"failed", res.Failed,
		"size", humanize.Bytes(uint64(size)),
		"checksum", checksum,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (r *Runner) finishWithError(stateCtx, parent context.Context, task Task, res archive.Result, runErr error) error {
	log := r.logger.With("job_id", task.JobID)
	interrupted := errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)

	status := jobs.StatusFailed
	_, err := r.registry.Update(stateCtx, task.JobID, func(j *jobs.Job) error {
		if task.Format == archive.FormatFolder {
			j.ExportPath = res.Path
		}
		if interrupted && j.CancelRequested {
			status = jobs.StatusCancelled
			return j.Transition(jobs.StatusCancelled, r.now())
		}
		msg := runErr.Error()
		if interrupted && parent.Err() != nil {
			msg = "export interrupted: " + parent.Err().Error()
		}
		return j.Fail(msg, r.now())
	})
	if errors.Is(err, jobs.ErrJobNotFound) {
		log.Info("export job removed while running", "exported", res.Exported)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record export failure %s: %w", task.JobID, err)
	}
	if status == jobs.StatusCancelled {
		log.Info("export job cancelled", "exported", res.Exported, "failed", res.Failed)
	} else {
		log.Error("export job failed", "exported", res.Exported, "failed", res.Failed, "error", runErr)
	}
	return nil
}

// discard removes a zip that no job will serve. Folder destinations may
// hold other files and are left in place; a cancelled folder job keeps its
// path so Delete can remove it.
func (r *Runner) discard(log *slog.Logger, task Task) {
	if task.Format != archive.FormatZip {
		log.Info("folder output kept", "path", task.Destination)
		return
	}
	if err := os.Remove(task.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove orphaned export archive", "path", task.Destination, "error", err)
		return
	}
	log.Info("orphaned export archive discarded", "path", task.Destination)
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), n, nil
}
