package export

import (
	"time"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/render"
)

// Request selects photos and describes the bundle to produce. Exactly one
// of AlbumID and ImageIDs must be set.
type Request struct {
	AlbumID         *int64
	ImageIDs        []int64
	Format          archive.Format
	Quality         render.Tier
	IncludeMetadata bool
	DestinationPath string
}

// Task is everything a runner needs to execute a job. Photos are resolved
// at submission so the runner never reads the catalog.
type Task struct {
	JobID           string          `json:"job_id"`
	Photos          []catalog.Photo `json:"photos"`
	Destination     string          `json:"destination"`
	Format          archive.Format  `json:"format"`
	Quality         render.Tier     `json:"quality"`
	IncludeMetadata bool            `json:"include_metadata"`
}

// Artifact locates a finished export for download.
type Artifact struct {
	Path        string
	Name        string
	ContentType string
	IsDir       bool
	Size        int64
	ModTime     time.Time
}
