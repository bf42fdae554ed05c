package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"photo-organizer/export/internal/autotag"
)

// Classifier suggests tags for an image file.
type Classifier interface {
	Classify(ctx context.Context, path string) ([]autotag.Suggestion, error)
}

// ImportError records one file the importer could not add or tag.
type ImportError struct {
	Path string
	Err  error
}

func (e ImportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// ImportResult summarizes a folder import.
type ImportResult struct {
	Scanned int
	Added   int
	Skipped int
	Tagged  int
	Errors  []ImportError
}

// Importer adds image files from a folder tree to the catalog.
type Importer struct {
	store      *Store
	classifier Classifier
	logger     *slog.Logger
}

// NewImporter returns an importer. classifier may be nil to skip tagging.
func NewImporter(store *Store, classifier Classifier, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, classifier: classifier, logger: logger}
}

// Import walks root and catalogs every image not already known by path or
// content hash. Capture date and camera model come from EXIF; the capture
// date falls back to the file modification time.
func (im *Importer) Import(ctx context.Context, root string) (ImportResult, error) {
	var res ImportResult
	files, err := ListImageFiles(root)
	if err != nil {
		return res, err
	}

	for _, full := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		abs, err := filepath.Abs(full)
		if err != nil {
			res.Errors = append(res.Errors, ImportError{Path: full, Err: err})
			continue
		}
		hash, err := fileMD5(abs)
		if err != nil {
			res.Errors = append(res.Errors, ImportError{Path: abs, Err: err})
			continue
		}
		known, err := im.store.HasContentHash(ctx, hash, abs)
		if err != nil {
			return res, err
		}
		if known {
			res.Skipped++
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			res.Errors = append(res.Errors, ImportError{Path: abs, Err: err})
			continue
		}
		meta := readExif(abs)
		if meta.CaptureDate == nil {
			mtime := info.ModTime().UTC()
			meta.CaptureDate = &mtime
		}
		id, err := im.store.AddPhoto(ctx, PhotoInput{
			SourcePath:       abs,
			OriginalFilename: filepath.Base(abs),
			CaptureDate:      meta.CaptureDate,
			CameraModel:      meta.CameraModel,
			ContentHash:      hash,
		})
		if err != nil {
			res.Errors = append(res.Errors, ImportError{Path: abs, Err: err})
			continue
		}
		res.Added++

		if im.classifier == nil {
			continue
		}
		suggestions, err := im.classifier.Classify(ctx, abs)
		if err != nil {
			im.logger.Warn("autotag failed", "path", abs, "error", err)
			res.Errors = append(res.Errors, ImportError{Path: abs, Err: err})
			continue
		}
		if len(suggestions) == 0 {
			continue
		}
		tags := make([]Tag, 0, len(suggestions))
		for _, s := range suggestions {
			conf := s.Confidence
			tags = append(tags, Tag{Name: s.Name, AIGenerated: true, Confidence: &conf})
		}
		if err := im.store.AddTags(ctx, id, tags); err != nil {
			res.Errors = append(res.Errors, ImportError{Path: abs, Err: err})
			continue
		}
		res.Tagged++
	}

	im.logger.Info("catalog import finished",
		"root", root,
		"scanned", res.Scanned,
		"added", res.Added,
		"skipped", res.Skipped,
		"tagged", res.Tagged,
		"errors", len(res.Errors),
	)
	return res, nil
}

// ListImageFiles returns image files under root in lexical order.
func ListImageFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	default:
		return false
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
