// Package archive turns a list of catalog photos into an export bundle: a
// folder of rendered copies or a zip archive of them, with an optional
// manifest.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/fileutil"
	"photo-organizer/export/internal/manifest"
	"photo-organizer/export/internal/render"
)

var (
	// ErrArchiveBuild is returned when the zip file itself cannot be
	// produced. It fails the whole export.
	ErrArchiveBuild = errors.New("archive build failed")
	// ErrSourceMissing marks an item whose source file is gone.
	ErrSourceMissing = errors.New("source file missing")
	// ErrUnknownFormat is returned for a format outside zip|folder.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Format is the bundle layout.
type Format string

const (
	FormatZip    Format = "zip"
	FormatFolder Format = "folder"
)

// ParseFormat normalizes raw into a Format. Empty input means FormatZip.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatZip, nil
	case FormatZip, FormatFolder:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Renderer produces one export copy.
type Renderer interface {
	Render(ctx context.Context, src, dst string, tier render.Tier) error
}

// ItemResult is the outcome for one input photo.
type ItemResult struct {
	Index    int
	PhotoID  int64
	Filename string
	Exported bool
	Err      error
}

// Request describes one export run.
type Request struct {
	Photos          []catalog.Photo
	Destination     string
	Format          Format
	Tier            render.Tier
	IncludeManifest bool
	// OnItem, if set, is called after each photo in input order.
	OnItem func(ItemResult)
}

// Result summarizes an export run. Exported+Failed equals the number of
// photos handled before the run ended.
type Result struct {
	Path        string
	Exported    int
	Failed      int
	Items       []ItemResult
	ManifestErr error
}

// Archiver runs export requests.
type Archiver struct {
	renderer    Renderer
	stagingRoot string
	logger      *slog.Logger
	now         func() time.Time
}

// New returns an Archiver that stages zip contents under stagingRoot.
func New(renderer Renderer, stagingRoot string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		renderer:    renderer,
		stagingRoot: stagingRoot,
		logger:      logger,
		now:         time.Now,
	}
}

// Run renders req.Photos into req.Destination. Per-photo failures are
// recorded and do not stop the run; context cancellation between photos
// does, returning the partial result with ctx.Err(). For zip bundles the
// staging directory is removed on every path and dest only appears once
// the archive is complete.
func (a *Archiver) Run(ctx context.Context, req Request) (Result, error) {
	switch req.Format {
	case FormatFolder:
		return a.runFolder(ctx, req)
	case FormatZip:
		return a.runZip(ctx, req)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFormat, string(req.Format))
	}
}

func (a *Archiver) runFolder(ctx context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(req.Destination, 0o755); err != nil {
		return Result{}, fmt.Errorf("create export folder: %w", err)
	}
	res, err := a.renderAll(ctx, req, req.Destination)
	res.Path = req.Destination
	if err != nil {
		return res, err
	}
	a.writeManifest(req, req.Destination, &res)
	return res, nil
}

func (a *Archiver) runZip(ctx context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(a.stagingRoot, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: create staging root: %v", ErrArchiveBuild, err)
	}
	staging, err := os.MkdirTemp(a.stagingRoot, "export_*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create staging dir: %v", ErrArchiveBuild, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			a.logger.Warn("failed to remove staging dir", "dir", staging, "error", err)
		}
	}()

	res, err := a.renderAll(ctx, req, staging)
	if err != nil {
		return res, err
	}
	a.writeManifest(req, staging, &res)

	if err := buildZip(staging, req.Destination); err != nil {
		return res, fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}
	res.Path = req.Destination
	return res, nil
}

func (a *Archiver) renderAll(ctx context.Context, req Request, dir string) (Result, error) {
	res := Result{Items: make([]ItemResult, 0, len(req.Photos))}
	var reserved []string
	if req.IncludeManifest {
		reserved = []string{manifest.FileName}
	}

	for i, photo := range req.Photos {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := a.renderOne(ctx, dir, photo, req.Tier, reserved)
		item.Index = i
		if item.Err != nil && ctx.Err() != nil {
			return res, ctx.Err()
		}
		if item.Exported {
			res.Exported++
		} else {
			res.Failed++
			a.logger.Warn("export item failed",
				"photo_id", photo.ID,
				"source", photo.SourcePath,
				"error", item.Err,
			)
		}
		res.Items = append(res.Items, item)
		if req.OnItem != nil {
			req.OnItem(item)
		}
	}
	return res, nil
}

func (a *Archiver) renderOne(ctx context.Context, dir string, photo catalog.Photo, tier render.Tier, reserved []string) ItemResult {
	item := ItemResult{PhotoID: photo.ID, Filename: tier.OutputName(photo.Filename())}
	info, err := os.Stat(photo.SourcePath)
	if err != nil || !info.Mode().IsRegular() {
		item.Err = fmt.Errorf("%w: %s", ErrSourceMissing, photo.SourcePath)
		return item
	}
	name, err := fileutil.UniqueName(dir, item.Filename, reserved...)
	if err != nil {
		item.Err = err
		return item
	}
	if err := a.renderer.Render(ctx, photo.SourcePath, filepath.Join(dir, name), tier); err != nil {
		item.Err = err
		return item
	}
	item.Filename = name
	item.Exported = true
	return item
}

func (a *Archiver) writeManifest(req Request, dir string, res *Result) {
	if !req.IncludeManifest || res.Exported == 0 {
		return
	}
	entries := make([]manifest.Entry, len(req.Photos))
	for i, photo := range req.Photos {
		name := req.Tier.OutputName(photo.Filename())
		if i < len(res.Items) && res.Items[i].Exported {
			name = res.Items[i].Filename
		}
		entries[i] = manifest.EntryFor(photo, name)
	}
	// A folder destination may already hold a manifest from an earlier export.
	name, err := fileutil.UniqueName(dir, manifest.FileName)
	if err != nil {
		res.ManifestErr = err
		return
	}
	if err := manifest.Write(filepath.Join(dir, name), a.now(), entries); err != nil {
		a.logger.Warn("failed to write export manifest", "dir", dir, "error", err)
		res.ManifestErr = err
	}
}
