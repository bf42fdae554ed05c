package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"photo-organizer/export/internal/export"
)

// runWorker processes export tasks from the queue and schedules the
// periodic retention sweep until ctx is cancelled.
func (st *appState) runWorker(ctx context.Context) error {
	srv := asynq.NewServer(
		st.redisOpt(),
		asynq.Config{
			Concurrency: st.cfg.Concurrency,
			Queues: map[string]int{
				st.cfg.Queue: 1,
			},
			ShutdownTimeout: 30 * time.Second,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(export.TaskTypeExport, st.runner.ProcessTask)
	mux.HandleFunc(export.TaskTypeSweep, export.SweepHandler(st.sweeper, logger))
	if err := srv.Start(mux); err != nil {
		return err
	}
	defer srv.Shutdown()

	var periodic *asynq.Scheduler
	if st.cfg.SweepInterval > 0 {
		task, err := export.NewSweepTask(st.cfg.Retention())
		if err != nil {
			return err
		}
		periodic = asynq.NewScheduler(st.redisOpt(), &asynq.SchedulerOpts{Location: time.UTC})
		spec := fmt.Sprintf("@every %s", st.cfg.SweepInterval)
		if _, err := periodic.Register(spec, task, asynq.Queue(st.cfg.Queue)); err != nil {
			return fmt.Errorf("register sweep schedule: %w", err)
		}
		if err := periodic.Start(); err != nil {
			return err
		}
		defer periodic.Shutdown()
	}

	logger.Info("export worker started",
		"queue", st.cfg.Queue,
		"concurrency", st.cfg.Concurrency,
		"sweep_interval", st.cfg.SweepInterval.String(),
		"retention_hours", st.cfg.RetentionHours,
	)
	<-ctx.Done()
	logger.Info("export worker stopping")
	return nil
}
