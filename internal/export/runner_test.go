package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/jobs"
	"photo-organizer/export/internal/render"
	"photo-organizer/export/internal/retention"
)

type stubArchiver struct {
	calls int
	res   archive.Result
	err   error
}

func (s *stubArchiver) Run(_ context.Context, req archive.Request) (archive.Result, error) {
	s.calls++
	for _, item := range s.res.Items {
		if req.OnItem != nil {
			req.OnItem(item)
		}
	}
	return s.res, s.err
}

func TestRunnerSkipsUnknownJob(t *testing.T) {
	a := &stubArchiver{}
	r := NewRunner(jobs.NewMemoryRegistry(), a, nil)
	if err := r.Run(context.Background(), Task{JobID: "gone"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.calls != 0 {
		t.Fatal("archiver ran for an unknown job")
	}
}

func TestRunnerHonorsCancelBeforeStart(t *testing.T) {
	ctx := context.Background()
	reg := jobs.NewMemoryRegistry()
	_ = reg.Create(ctx, jobs.New("j1", 2, time.Now()))
	if _, err := jobs.RequestCancel(ctx, reg, "j1"); err != nil {
		t.Fatal(err)
	}

	a := &stubArchiver{}
	if err := NewRunner(reg, a, nil).Run(ctx, Task{JobID: "j1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := reg.Get(ctx, "j1")
	if got.Status != jobs.StatusCancelled || got.ProcessedImages != 0 || a.calls != 0 {
		t.Fatalf("job = %+v, archiver calls = %d", got, a.calls)
	}
}

func TestRunnerSkipsFinishedJob(t *testing.T) {
	ctx := context.Background()
	reg := jobs.NewMemoryRegistry()
	j := jobs.New("j1", 1, time.Now())
	_ = j.Fail("boom", time.Now())
	_ = reg.Create(ctx, j)

	a := &stubArchiver{}
	if err := NewRunner(reg, a, nil).Run(ctx, Task{JobID: "j1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.calls != 0 {
		t.Fatal("archiver ran for a finished job")
	}
}

func TestRunnerArchiveFailureCountsEveryPhoto(t *testing.T) {
	ctx := context.Background()
	reg := jobs.NewMemoryRegistry()
	_ = reg.Create(ctx, jobs.New("j1", 3, time.Now()))

	a := &stubArchiver{
		res: archive.Result{Exported: 1, Items: []archive.ItemResult{{Exported: true}}},
		err: archive.ErrArchiveBuild,
	}
	if err := NewRunner(reg, a, nil).Run(ctx, Task{JobID: "j1", Format: archive.FormatZip}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := reg.Get(ctx, "j1")
	if got.Status != jobs.StatusFailed || got.ProcessedImages != 3 || got.ExportedImages != 1 || got.FailedImages != 2 {
		t.Fatalf("job = %+v", got)
	}
	if got.ErrorMessage == "" || got.ExportPath != "" {
		t.Fatalf("job = %+v", got)
	}
}

func TestRunnerInterruptedByShutdownFails(t *testing.T) {
	ctx := context.Background()
	reg := jobs.NewMemoryRegistry()
	_ = reg.Create(ctx, jobs.New("j1", 2, time.Now()))

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	a := &stubArchiver{err: context.Canceled}
	if err := NewRunner(reg, a, nil).Run(runCtx, Task{JobID: "j1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := reg.Get(ctx, "j1")
	if got.Status != jobs.StatusFailed || got.ErrorMessage != "export interrupted: context canceled" {
		t.Fatalf("job = %+v", got)
	}
}

// lateCancelArchiver builds its output, then sees the job cancelled before
// it returns.
type lateCancelArchiver struct {
	reg jobs.Registry
	id  string
}

func (a *lateCancelArchiver) Run(ctx context.Context, req archive.Request) (archive.Result, error) {
	item := archive.ItemResult{PhotoID: 1, Filename: "a.jpg", Exported: true}
	req.OnItem(item)
	if req.Format == archive.FormatFolder {
		if err := os.MkdirAll(req.Destination, 0o755); err != nil {
			return archive.Result{}, err
		}
		if err := os.WriteFile(filepath.Join(req.Destination, "a.jpg"), []byte("a"), 0o644); err != nil {
			return archive.Result{}, err
		}
	} else if err := os.WriteFile(req.Destination, []byte("PK"), 0o644); err != nil {
		return archive.Result{}, err
	}
	if _, err := jobs.RequestCancel(ctx, a.reg, a.id); err != nil {
		return archive.Result{}, err
	}
	return archive.Result{Path: req.Destination, Exported: 1, Items: []archive.ItemResult{item}}, nil
}

func TestRunnerCancelAfterBuildLeavesNoOrphan(t *testing.T) {
	for _, format := range []archive.Format{archive.FormatZip, archive.FormatFolder} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			reg := jobs.NewMemoryRegistry()
			_ = reg.Create(ctx, jobs.New("j1", 1, time.Now()))
			dest := filepath.Join(t.TempDir(), "out")
			if format == archive.FormatZip {
				dest += ".zip"
			}

			a := &lateCancelArchiver{reg: reg, id: "j1"}
			task := Task{JobID: "j1", Destination: dest, Format: format, Quality: render.TierOriginal}
			if err := NewRunner(reg, a, nil).Run(ctx, task); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got, _ := reg.Get(ctx, "j1")
			if got.Status != jobs.StatusCancelled {
				t.Fatalf("status = %s, want cancelled", got.Status)
			}

			if format == archive.FormatZip {
				if _, err := os.Stat(dest); !os.IsNotExist(err) {
					t.Fatalf("cancelled archive kept: %v", err)
				}
				return
			}
			if got.ExportPath != dest {
				t.Fatalf("export path = %q, want %q", got.ExportPath, dest)
			}
			o := NewOrchestrator(&fakeCatalog{}, reg, plainScheduler{}, nil, t.TempDir(), nil)
			if err := o.Delete(ctx, "j1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Fatalf("cancelled folder kept after delete: %v", err)
			}
		})
	}
}

type fakeEnqueuer struct {
	task *asynq.Task
	opts []asynq.Option
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.task = task
	f.opts = opts
	return &asynq.TaskInfo{}, f.err
}

type fakeInspector struct{ cancelled []string }

func (f *fakeInspector) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestAsynqSchedulerRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(src, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	camera := "X-T5"
	task := Task{
		JobID:           "job-42",
		Photos:          []catalog.Photo{{ID: 7, SourcePath: src, CameraModel: &camera, Tags: []string{"sky"}}},
		Destination:     filepath.Join(t.TempDir(), "out.zip"),
		Format:          archive.FormatZip,
		Quality:         render.TierOriginal,
		IncludeMetadata: true,
	}

	enq := &fakeEnqueuer{}
	insp := &fakeInspector{}
	s := NewAsynqScheduler(enq, insp, "exports", time.Minute)
	if err := s.Schedule(ctx, task); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if enq.task.Type() != TaskTypeExport || len(enq.opts) != 4 {
		t.Fatalf("enqueued %s with %d options", enq.task.Type(), len(enq.opts))
	}
	var decoded Task
	if err := json.Unmarshal(enq.task.Payload(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.JobID != task.JobID || len(decoded.Photos) != 1 || *decoded.Photos[0].CameraModel != camera {
		t.Fatalf("payload = %+v", decoded)
	}

	if err := s.Cancel("job-42"); err != nil || len(insp.cancelled) != 1 {
		t.Fatalf("Cancel() = %v, %v", err, insp.cancelled)
	}

	reg := jobs.NewMemoryRegistry()
	_ = reg.Create(ctx, jobs.New(task.JobID, 1, time.Now()))
	runner := NewRunner(reg, archive.New(render.New(), t.TempDir(), nil), nil)
	if err := runner.ProcessTask(ctx, enq.task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	got, _ := reg.Get(ctx, task.JobID)
	if got.Status != jobs.StatusCompleted || got.ExportPath != task.Destination {
		t.Fatalf("job = %+v", got)
	}
}

func TestProcessTaskRejectsBadPayload(t *testing.T) {
	r := NewRunner(jobs.NewMemoryRegistry(), &stubArchiver{}, nil)
	err := r.ProcessTask(context.Background(), asynq.NewTask(TaskTypeExport, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("ProcessTask() error = %v", err)
	}
}

type recordingSweeper struct{ maxAge time.Duration }

func (s *recordingSweeper) Sweep(maxAge time.Duration) (retention.Result, error) {
	s.maxAge = maxAge
	return retention.Result{}, nil
}

func TestSweepTask(t *testing.T) {
	task, err := NewSweepTask(36 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s := &recordingSweeper{}
	if err := SweepHandler(s, nil)(context.Background(), task); err != nil {
		t.Fatalf("sweep handler error = %v", err)
	}
	if s.maxAge != 36*time.Hour {
		t.Fatalf("maxAge = %v", s.maxAge)
	}
}
