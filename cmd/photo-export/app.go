package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/config"
	"photo-organizer/export/internal/export"
	"photo-organizer/export/internal/jobs"
	"photo-organizer/export/internal/render"
	"photo-organizer/export/internal/retention"
)

const (
	modeAll    = "all"
	modeAPI    = "api"
	modeWorker = "worker"
)

type appState struct {
	cfg      config.Config
	store    *catalog.Store
	registry jobs.Registry
	runner   *export.Runner
	sweeper  *retention.Sweeper
	orch     *export.Orchestrator

	local     *export.LocalScheduler
	redis     *redis.Client
	asynqCli  *asynq.Client
	inspector *asynq.Inspector
}

func (st *appState) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: st.cfg.Redis.Addr, Password: st.cfg.Redis.Password, DB: st.cfg.Redis.DB}
}

// newAppState wires the components a run mode needs. The catalog is only
// opened when the API is served.
func newAppState(ctx context.Context, cfg config.Config, mode string) (*appState, error) {
	switch mode {
	case modeAll, modeAPI, modeWorker:
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
	if cfg.Backend == config.BackendMemory && mode != modeAll {
		return nil, fmt.Errorf("run mode %q needs the redis backend; the memory backend only supports %q", mode, modeAll)
	}
	for _, dir := range []string{cfg.ExportDir, cfg.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	st := &appState{cfg: cfg, sweeper: retention.NewSweeper(cfg.ExportDir, logger)}
	if cfg.Backend == config.BackendRedis {
		st.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := st.redis.Ping(ctx).Err(); err != nil {
			st.close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		st.registry = jobs.NewRedisRegistry(st.redis, cfg.JobTTL)
	} else {
		st.registry = jobs.NewMemoryRegistry()
	}
	st.runner = export.NewRunner(st.registry, archive.New(render.New(), cfg.StagingDir, logger), logger)

	if mode == modeWorker {
		return st, nil
	}

	store, err := catalog.Open(cfg.CatalogDSN)
	if err != nil {
		st.close()
		return nil, err
	}
	st.store = store

	var sched export.Scheduler
	if cfg.Backend == config.BackendRedis {
		st.asynqCli = asynq.NewClient(st.redisOpt())
		st.inspector = asynq.NewInspector(st.redisOpt())
		sched = export.NewAsynqScheduler(st.asynqCli, st.inspector, cfg.Queue, cfg.TaskTimeout)
	} else {
		// Jobs outlive ctx so shutdown can let them finish; serve bounds the wait.
		st.local = export.NewLocalScheduler(context.WithoutCancel(ctx), st.runner, logger)
		sched = st.local
	}
	st.orch = export.NewOrchestrator(st.store, st.registry, sched, st.sweeper, cfg.ExportDir, logger)
	return st, nil
}

func (st *appState) close() {
	if st.asynqCli != nil {
		_ = st.asynqCli.Close()
	}
	if st.inspector != nil {
		_ = st.inspector.Close()
	}
	if st.store != nil {
		_ = st.store.Close()
	}
	if st.redis != nil {
		_ = st.redis.Close()
	}
}

// serve runs the API and/or worker for mode until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, mode string) error {
	st, err := newAppState(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer st.close()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if mode != modeAPI && cfg.Backend == config.BackendRedis {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.runWorker(ctx); err != nil {
				errCh <- fmt.Errorf("worker: %w", err)
			}
		}()
	}
	if cfg.Backend == config.BackendMemory {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.sweeper.Run(ctx, cfg.SweepInterval, cfg.Retention())
		}()
	}
	if mode != modeWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.runAPI(ctx); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("service component stopped", "error", err)
	}

	if st.local != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if serr := st.local.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("export jobs interrupted at shutdown", "error", serr)
		}
		cancel()
	}
	if err != nil {
		return err
	}
	wg.Wait()
	return nil
}

func (st *appState) runAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              st.cfg.APIAddr,
		Handler:           st.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("export api listening", "addr", st.cfg.APIAddr, "backend", st.cfg.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
