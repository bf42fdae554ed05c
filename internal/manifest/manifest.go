// Package manifest writes the metadata.json document shipped with an export.
package manifest

import (
	"encoding/json"
	"io"
	"time"

	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/fileutil"
)

// FileName is the manifest's name inside an export bundle.
const FileName = "metadata.json"

// Entry describes one exported photo.
type Entry struct {
	Filename    string   `json:"filename"`
	CaptureDate *string  `json:"capture_date"`
	CameraModel *string  `json:"camera_model"`
	Rating      int      `json:"rating"`
	Tags        []string `json:"tags"`
}

// Document is the manifest layout.
type Document struct {
	ExportDate  string  `json:"export_date"`
	TotalImages int     `json:"total_images"`
	Images      []Entry `json:"images"`
}

// EntryFor builds the manifest entry of p under the given bundle filename.
func EntryFor(p catalog.Photo, filename string) Entry {
	e := Entry{
		Filename:    filename,
		CameraModel: p.CameraModel,
		Rating:      p.Rating,
		Tags:        append([]string{}, p.Tags...),
	}
	if p.CaptureDate != nil {
		s := formatTime(*p.CaptureDate)
		e.CaptureDate = &s
	}
	return e
}

// New assembles a document in entry order.
func New(exportedAt time.Time, entries []Entry) Document {
	images := make([]Entry, len(entries))
	copy(images, entries)
	for i := range images {
		if images[i].Tags == nil {
			images[i].Tags = []string{}
		}
	}
	return Document{
		ExportDate:  formatTime(exportedAt.UTC()),
		TotalImages: len(images),
		Images:      images,
	}
}

// Write stores the manifest for entries at path.
func Write(path string, exportedAt time.Time, entries []Entry) error {
	doc := New(exportedAt, entries)
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	})
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
