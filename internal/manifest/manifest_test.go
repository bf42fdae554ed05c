package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photo-organizer/export/internal/catalog"
)

func TestWriteDocument(t *testing.T) {
	captured := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	camera := "EOS R6"
	entries := []Entry{
		EntryFor(catalog.Photo{ID: 1, CaptureDate: &captured, CameraModel: &camera, Rating: 3, Tags: []string{"b", "a"}}, "one.jpg"),
		EntryFor(catalog.Photo{ID: 2}, "two.jpg"),
	}

	path := filepath.Join(t.TempDir(), FileName)
	exportedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Write(path, exportedAt, entries); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if doc["export_date"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("export_date = %v", doc["export_date"])
	}
	if doc["total_images"] != float64(2) {
		t.Fatalf("total_images = %v", doc["total_images"])
	}
	images := doc["images"].([]any)
	first := images[0].(map[string]any)
	if first["filename"] != "one.jpg" || first["capture_date"] != "2023-05-06T07:08:09Z" || first["camera_model"] != "EOS R6" || first["rating"] != float64(3) {
		t.Fatalf("first entry = %v", first)
	}
	tags := first["tags"].([]any)
	if len(tags) != 2 || tags[0] != "b" || tags[1] != "a" {
		t.Fatalf("tags = %v", tags)
	}

	second := images[1].(map[string]any)
	for _, key := range []string{"capture_date", "camera_model"} {
		v, ok := second[key]
		if !ok || v != nil {
			t.Fatalf("%s = %v (present=%v), want explicit null", key, v, ok)
		}
	}
	if tags, ok := second["tags"].([]any); !ok || len(tags) != 0 {
		t.Fatalf("tags = %#v, want []", second["tags"])
	}
}

func TestNewCountsEveryEntry(t *testing.T) {
	doc := New(time.Now(), []Entry{{Filename: "a"}, {Filename: "b"}, {Filename: "c"}})
	if doc.TotalImages != 3 || len(doc.Images) != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Images[2].Tags == nil {
		t.Fatal("nil tags should become an empty array")
	}
}
