package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestJobProgress(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		want      int
	}{
		{name: "empty", total: 0, processed: 0, want: 0},
		{name: "none", total: 3, processed: 0, want: 0},
		{name: "floor", total: 3, processed: 1, want: 33},
		{name: "two thirds", total: 3, processed: 2, want: 66},
		{name: "done", total: 3, processed: 3, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Job{TotalImages: tt.total, ProcessedImages: tt.processed}
			if got := j.Progress(); got != tt.want {
				t.Fatalf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJobTransitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	allowed := map[Status][]Status{
		StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
		StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	}
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			j := Job{Status: from}
			err := j.Transition(to, now)
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			if want && err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: error = %v, want ErrInvalidTransition", from, to, err)
			}
			if want && to.Terminal() && (j.CompletedAt == nil || !j.CompletedAt.Equal(now)) {
				t.Fatalf("%s -> %s: completed_at not stamped", from, to)
			}
		}
	}
}

func TestJobRecordItemNeverExceedsTotal(t *testing.T) {
	j := New("job-1", 2, time.Now())
	j.RecordItem(true)
	j.RecordItem(false)
	j.RecordItem(true)

	if j.ProcessedImages != 2 {
		t.Fatalf("processed = %d, want 2", j.ProcessedImages)
	}
	if j.ExportedImages != 1 || j.FailedImages != 1 {
		t.Fatalf("exported/failed = %d/%d, want 1/1", j.ExportedImages, j.FailedImages)
	}
}

func TestJobFailCountsRemainingAsFailed(t *testing.T) {
	j := New("job-1", 5, time.Now())
	if err := j.Transition(StatusProcessing, time.Now()); err != nil {
		t.Fatal(err)
	}
	j.RecordItem(true)
	j.RecordItem(true)

	if err := j.Fail("disk full", time.Now()); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if j.ProcessedImages != j.TotalImages {
		t.Fatalf("processed = %d, want %d", j.ProcessedImages, j.TotalImages)
	}
	if j.FailedImages != 3 {
		t.Fatalf("failed = %d, want 3", j.FailedImages)
	}
	if j.ErrorMessage != "disk full" {
		t.Fatalf("error message = %q", j.ErrorMessage)
	}
	if j.ExportPath != "" {
		t.Fatalf("export path set on failure: %q", j.ExportPath)
	}
}

func TestJobCompleteRequiresProcessing(t *testing.T) {
	j := New("job-1", 1, time.Now())
	if err := j.Complete("/tmp/x.zip", "", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete() from pending error = %v, want ErrInvalidTransition", err)
	}
	if j.ExportPath != "" {
		t.Fatal("export path set after rejected transition")
	}
}
