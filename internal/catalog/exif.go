package catalog

import (
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// exifInfo is what the importer takes from a photo's EXIF block.
type exifInfo struct {
	CaptureDate *time.Time
	CameraModel string
}

// readExif returns the capture time (DateTimeOriginal, read as local time)
// and camera model of the image at path. Files without EXIF, or with
// unreadable tags, yield a zero exifInfo.
func readExif(path string) exifInfo {
	var info exifInfo
	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return info
	}
	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if raw, err := tag.StringVal(); err == nil {
			raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))
			if t, err := time.ParseInLocation(exifTimeLayout, raw, time.Local); err == nil {
				info.CaptureDate = &t
			}
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if model, err := tag.StringVal(); err == nil {
			info.CameraModel = strings.TrimSpace(strings.TrimRight(model, "\x00"))
		}
	}
	return info
}
