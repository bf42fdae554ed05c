package catalog

import (
	"path/filepath"
	"time"
)

// Photo is a catalog record as seen by the export pipeline. Records are
// read-only to consumers.
type Photo struct {
	ID               int64      `json:"id"`
	SourcePath       string     `json:"source_path"`
	OriginalFilename *string    `json:"original_filename,omitempty"`
	CaptureDate      *time.Time `json:"capture_date,omitempty"`
	CameraModel      *string    `json:"camera_model,omitempty"`
	Rating           int        `json:"rating"`
	Tags             []string   `json:"tags"`
}

// Filename is the name an export should use for the photo: the original
// filename when known, else the base name of the source path. Directory
// components are stripped either way.
func (p Photo) Filename() string {
	if p.OriginalFilename != nil && *p.OriginalFilename != "" {
		if name := filepath.Base(*p.OriginalFilename); name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	return filepath.Base(p.SourcePath)
}

// Tag is one tag attached to a photo.
type Tag struct {
	Name        string   `json:"name"`
	AIGenerated bool     `json:"is_ai_generated"`
	Confidence  *float64 `json:"confidence,omitempty"`
}
