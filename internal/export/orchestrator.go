// Package export accepts export requests, tracks them as jobs and runs them
// in the background.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/jobs"
	"photo-organizer/export/internal/render"
	"photo-organizer/export/internal/retention"
)

var (
	// ErrNoImagesSelected is returned when a request resolves to no photos.
	ErrNoImagesSelected = errors.New("no images to export")
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid export request")
	// ErrJobNotReady is returned when downloading a job that has not completed.
	ErrJobNotReady = errors.New("export not completed yet")
	// ErrArtifactMissing is returned when a completed job's output is gone.
	ErrArtifactMissing = errors.New("export file not found")
)

// Catalog resolves photo selections.
type Catalog interface {
	AlbumPhotos(ctx context.Context, albumID int64) ([]catalog.Photo, error)
	PhotosByIDs(ctx context.Context, ids []int64) ([]catalog.Photo, error)
}

// Sweeper removes expired archives.
type Sweeper interface {
	Sweep(maxAge time.Duration) (retention.Result, error)
}

// Orchestrator is the entry point for export operations.
type Orchestrator struct {
	catalog   Catalog
	registry  jobs.Registry
	scheduler Scheduler
	sweeper   Sweeper
	exportDir string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewOrchestrator wires an orchestrator. exportDir holds default
// destinations and relative destination paths.
func NewOrchestrator(cat Catalog, registry jobs.Registry, scheduler Scheduler, sweeper Sweeper, exportDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog:   cat,
		registry:  registry,
		scheduler: scheduler,
		sweeper:   sweeper,
		exportDir: exportDir,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit validates req, records a pending job and hands it to the
// scheduler. It returns as soon as the job is queued.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (jobs.Job, error) {
	hasAlbum := req.AlbumID != nil
	hasIDs := len(req.ImageIDs) > 0
	switch {
	case hasAlbum && hasIDs:
		return jobs.Job{}, fmt.Errorf("%w: album_id and image_ids are mutually exclusive", ErrInvalidRequest)
	case !hasAlbum && !hasIDs:
		return jobs.Job{}, ErrNoImagesSelected
	}
	format, err := archive.ParseFormat(string(req.Format))
	if err != nil {
		return jobs.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	tier, err := render.ParseTier(string(req.Quality))
	if err != nil {
		return jobs.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var photos []catalog.Photo
	if hasAlbum {
		photos, err = o.catalog.AlbumPhotos(ctx, *req.AlbumID)
	} else {
		photos, err = o.catalog.PhotosByIDs(ctx, req.ImageIDs)
	}
	if err != nil {
		return jobs.Job{}, err
	}
	if len(photos) == 0 {
		return jobs.Job{}, ErrNoImagesSelected
	}

	now := o.now()
	id := o.newID()
	job := jobs.New(id, len(photos), now)
	job.Format = string(format)
	job.Quality = string(tier)
	if err := o.registry.Create(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("register export job: %w", err)
	}

	task := Task{
		JobID:           id,
		Photos:          photos,
		Destination:     o.destination(req.DestinationPath, format, id, now),
		Format:          format,
		Quality:         tier,
		IncludeMetadata: req.IncludeMetadata,
	}
	if err := o.scheduler.Schedule(ctx, task); err != nil {
		if _, uerr := o.registry.Update(context.WithoutCancel(ctx), id, func(j *jobs.Job) error {
			return j.Fail("schedule export: "+err.Error(), o.now())
		}); uerr != nil {
			o.logger.Error("failed to record scheduling failure", "job_id", id, "error", uerr)
		}
		return jobs.Job{}, fmt.Errorf("schedule export job: %w", err)
	}

	o.logger.Info("export job queued",
		"job_id", id,
		"images", len(photos),
		"format", format,
		"quality", tier,
		"destination", task.Destination,
	)
	return job, nil
}

func (o *Orchestrator) destination(requested string, format archive.Format, id string, now time.Time) string {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if filepath.IsAbs(requested) {
			return filepath.Clean(requested)
		}
		return filepath.Join(o.exportDir, requested)
	}
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := fmt.Sprintf("export_%s_%s", now.UTC().Format("20060102_150405"), prefix)
	if format == archive.FormatZip {
		name += ".zip"
	}
	return filepath.Join(o.exportDir, name)
}

// Status returns the current job record.
func (o *Orchestrator) Status(ctx context.Context, id string) (jobs.Job, error) {
	return o.registry.Get(ctx, id)
}

// List returns all tracked jobs, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]jobs.Job, error) {
	return o.registry.List(ctx)
}

// Download locates the output of a completed job.
func (o *Orchestrator) Download(ctx context.Context, id string) (Artifact, error) {
	job, err := o.registry.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if job.Status != jobs.StatusCompleted {
		return Artifact{}, ErrJobNotReady
	}
	if job.ExportPath == "" {
		return Artifact{}, ErrArtifactMissing
	}
	info, err := os.Stat(job.ExportPath)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, ErrArtifactMissing
	}
	if err != nil {
		return Artifact{}, err
	}

	art := Artifact{
		Path:    job.ExportPath,
		Name:    filepath.Base(job.ExportPath),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	switch {
	case art.IsDir:
		art.Name += ".zip"
		art.ContentType = "application/zip"
	case strings.EqualFold(filepath.Ext(art.Name), ".zip"):
		art.ContentType = "application/zip"
	default:
		art.ContentType = "application/octet-stream"
	}
	return art, nil
}

// Delete cancels the job if it is still running, removes its output and
// forgets it.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	job, err := o.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		latest, err := jobs.RequestCancel(ctx, o.registry, id)
		switch {
		case err == nil:
			o.interrupt(id)
		case errors.Is(err, jobs.ErrJobFinished):
			// Finished since the read above; its output path is now set.
			job = latest
		default:
			o.logger.Warn("failed to flag export job for cancellation", "job_id", id, "error", err)
			o.interrupt(id)
		}
	}
	if job.ExportPath != "" {
		if err := os.RemoveAll(job.ExportPath); err != nil {
			o.logger.Warn("failed to remove export output", "job_id", id, "path", job.ExportPath, "error", err)
		}
	}
	if err := o.registry.Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Info("export job deleted", "job_id", id, "status", job.Status)
	return nil
}

// Cancel asks a pending or processing job to stop. The job reaches
// "cancelled" once its runner notices, at the latest after the photo in
// progress.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (jobs.Job, error) {
	job, err := jobs.RequestCancel(ctx, o.registry, id)
	if err != nil {
		return jobs.Job{}, err
	}
	o.interrupt(id)
	o.logger.Info("export job cancellation requested", "job_id", id, "status", job.Status)
	return job, nil
}

func (o *Orchestrator) interrupt(id string) {
	c, ok := o.scheduler.(Canceler)
	if !ok {
		return
	}
	if err := c.Cancel(id); err != nil {
		o.logger.Debug("export job interrupt not delivered", "job_id", id, "error", err)
	}
}

// Cleanup deletes archives older than maxAge from the export directory.
func (o *Orchestrator) Cleanup(maxAge time.Duration) (retention.Result, error) {
	if o.sweeper == nil {
		return retention.Result{Deleted: []string{}}, nil
	}
	return o.sweeper.Sweep(maxAge)
}
