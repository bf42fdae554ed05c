// Package retention removes expired export archives.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FileError records a file the sweeper could not remove.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Result summarizes one sweep.
type Result struct {
	Deleted    []string    `json:"deleted"`
	FreedBytes int64       `json:"freed_bytes"`
	Errors     []FileError `json:"-"`
}

// Err joins the per-file errors, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Sweeper deletes "*.zip" files directly under dir once they are older than
// the retention window. Directories, in-progress ".partial" files and
// anything in subdirectories are left alone.
type Sweeper struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper returns a sweeper for dir.
func NewSweeper(dir string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{dir: dir, logger: logger, now: time.Now}
}

// Sweep removes archives whose modification time is more than maxAge ago.
// A missing export directory is not an error. Per-file failures are
// collected in the result; the returned error is reserved for failing to
// list the directory at all.
func (s *Sweeper) Sweep(maxAge time.Duration) (Result, error) {
	res := Result{Deleted: []string{}}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read export dir: %w", err)
	}

	now := s.now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				res.Errors = append(res.Errors, FileError{Path: path, Err: err})
			}
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			res.Errors = append(res.Errors, FileError{Path: path, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, path)
		res.FreedBytes += info.Size()
		s.logger.Debug("expired export removed", "path", path, "age", now.Sub(info.ModTime()).Round(time.Second).String())
	}

	attrs := []any{
		"dir", s.dir,
		"max_age", maxAge.String(),
		"deleted", len(res.Deleted),
		"freed", humanize.Bytes(uint64(res.FreedBytes)),
	}
	if len(res.Errors) > 0 {
		s.logger.Warn("export sweep finished with errors", append(attrs, "errors", len(res.Errors), "error", res.Err())...)
	} else {
		s.logger.Info("export sweep finished", attrs...)
	}
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(maxAge); err != nil {
			s.logger.Error("export sweep failed", "dir", s.dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
