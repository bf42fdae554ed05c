// Package jobs models export jobs and their lifecycle, and keeps them in a
// registry shared by the API and the workers.
package jobs

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Status is the lifecycle stage of an export job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the tracked state of one export request.
type Job struct {
	ID              string     `json:"job_id"`
	Status          Status     `json:"status"`
	Format          string     `json:"format"`
	Quality         string     `json:"quality"`
	TotalImages     int        `json:"total_images"`
	ProcessedImages int        `json:"processed_images"`
	ExportedImages  int        `json:"exported_images"`
	FailedImages    int        `json:"failed_images"`
	ExportPath      string     `json:"export_path,omitempty"`
	Checksum        string     `json:"checksum,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// New returns a pending job for total photos.
func New(id string, total int, createdAt time.Time) Job {
	return Job{
		ID:          id,
		Status:      StatusPending,
		TotalImages: total,
		CreatedAt:   createdAt.UTC(),
	}
}

// Progress is the completed share of the job as a whole percentage.
func (j Job) Progress() int {
	if j.TotalImages <= 0 {
		return 0
	}
	return j.ProcessedImages * 100 / j.TotalImages
}

// Transition moves the job to status, stamping CompletedAt on terminal states.
func (j *Job) Transition(to Status, now time.Time) error {
	if !validTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	if to.Terminal() {
		t := now.UTC()
		j.CompletedAt = &t
	}
	return nil
}

// RecordItem counts one processed photo. Counts never pass TotalImages.
func (j *Job) RecordItem(exported bool) {
	if j.ProcessedImages >= j.TotalImages {
		return
	}
	j.ProcessedImages++
	if exported {
		j.ExportedImages++
	} else {
		j.FailedImages++
	}
}

// Complete marks a successful run.
func (j *Job) Complete(path, checksum string, now time.Time) error {
	if err := j.Transition(StatusCompleted, now); err != nil {
		return err
	}
	j.ExportPath = path
	j.Checksum = checksum
	return nil
}

// Fail marks a job-level failure. Photos that were never reached are
// counted as failed so ProcessedImages ends at TotalImages.
func (j *Job) Fail(msg string, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.ErrorMessage = msg
	if remaining := j.TotalImages - j.ProcessedImages; remaining > 0 {
		j.FailedImages += remaining
		j.ProcessedImages = j.TotalImages
	}
	return nil
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}
