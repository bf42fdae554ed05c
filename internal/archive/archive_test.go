package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"

	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/manifest"
	"photo-organizer/export/internal/render"
)

type fakeRenderer struct {
	fail map[string]error
}

func (f *fakeRenderer) Render(_ context.Context, src, dst string, _ render.Tier) error {
	if err := f.fail[src]; err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func strPtr(s string) *string { return &s }

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()
	out := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		out[f.Name] = data
	}
	return out
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s not empty: %v", dir, entries)
	}
}

func TestRunZipWithMissingSource(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out", "bundle.zip")

	photos := []catalog.Photo{
		{ID: 1, SourcePath: writeSource(t, src, "a.jpg", "AAA"), Tags: []string{"x"}},
		{ID: 2, SourcePath: filepath.Join(src, "gone.jpg")},
		{ID: 3, SourcePath: writeSource(t, src, "c.jpg", "CCC"), OriginalFilename: strPtr("a.jpg")},
	}
	var seen []ItemResult
	res, err := New(render.New(), staging, nil).Run(context.Background(), Request{
		Photos:          photos,
		Destination:     dest,
		Format:          FormatZip,
		Tier:            render.TierOriginal,
		IncludeManifest: true,
		OnItem:          func(it ItemResult) { seen = append(seen, it) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Exported != 2 || res.Failed != 1 || res.Path != dest {
		t.Fatalf("Run() = %+v", res)
	}
	if len(seen) != 3 || !errors.Is(seen[1].Err, ErrSourceMissing) {
		t.Fatalf("OnItem saw %+v", seen)
	}

	files := readZip(t, dest)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	want := []string{"a.jpg", "a_1.jpg", manifest.FileName}
	if len(names) != len(want) {
		t.Fatalf("zip entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("zip entries = %v, want %v", names, want)
		}
	}
	if !bytes.Equal(files["a_1.jpg"], []byte("CCC")) {
		t.Fatalf("a_1.jpg = %q", files["a_1.jpg"])
	}

	var doc manifest.Document
	if err := json.Unmarshal(files[manifest.FileName], &doc); err != nil {
		t.Fatal(err)
	}
	if doc.TotalImages != 3 || len(doc.Images) != 3 {
		t.Fatalf("manifest = %+v", doc)
	}
	if doc.Images[1].Filename != "gone.jpg" || doc.Images[2].Filename != "a_1.jpg" {
		t.Fatalf("manifest filenames = %q, %q", doc.Images[1].Filename, doc.Images[2].Filename)
	}

	assertEmptyDir(t, staging)
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestRunFolderRenderFailureContinues(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "export")
	bad := writeSource(t, src, "bad.png", "x")
	good := writeSource(t, src, "good.png", "y")

	r := &fakeRenderer{fail: map[string]error{bad: errors.New("cannot decode")}}
	res, err := New(r, t.TempDir(), nil).Run(context.Background(), Request{
		Photos:          []catalog.Photo{{ID: 1, SourcePath: bad}, {ID: 2, SourcePath: good}},
		Destination:     dest,
		Format:          FormatFolder,
		Tier:            render.TierLow,
		IncludeManifest: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Exported != 1 || res.Failed != 1 {
		t.Fatalf("Run() = %+v", res)
	}
	if res.Items[1].Filename != "good.jpg" {
		t.Fatalf("output name = %q, want good.jpg", res.Items[1].Filename)
	}
	for _, name := range []string{"good.jpg", manifest.FileName} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}

func TestRunFolderKeepsExistingManifest(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	writeSource(t, dest, manifest.FileName, "earlier export")
	photo := writeSource(t, src, "a.jpg", "a")

	res, err := New(&fakeRenderer{}, t.TempDir(), nil).Run(context.Background(), Request{
		Photos:          []catalog.Photo{{ID: 1, SourcePath: photo}},
		Destination:     dest,
		Format:          FormatFolder,
		Tier:            render.TierOriginal,
		IncludeManifest: true,
	})
	if err != nil || res.ManifestErr != nil {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	old, err := os.ReadFile(filepath.Join(dest, manifest.FileName))
	if err != nil || string(old) != "earlier export" {
		t.Fatalf("existing manifest = %q, %v", old, err)
	}
	raw, err := os.ReadFile(filepath.Join(dest, "metadata_1.json"))
	if err != nil {
		t.Fatalf("new manifest missing: %v", err)
	}
	var doc manifest.Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.TotalImages != 1 {
		t.Fatalf("new manifest = %s, %v", raw, err)
	}
}

func TestRunSkipsManifestWhenNothingExported(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "export")
	res, err := New(&fakeRenderer{}, t.TempDir(), nil).Run(context.Background(), Request{
		Photos:          []catalog.Photo{{ID: 1, SourcePath: "/does/not/exist.jpg"}},
		Destination:     dest,
		Format:          FormatFolder,
		Tier:            render.TierOriginal,
		IncludeManifest: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Exported != 0 || res.Failed != 1 {
		t.Fatalf("Run() = %+v", res)
	}
	assertEmptyDir(t, dest)
}

func TestRunCancelledBetweenPhotos(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	dest := filepath.Join(t.TempDir(), "bundle.zip")
	photos := []catalog.Photo{
		{ID: 1, SourcePath: writeSource(t, src, "1.jpg", "1")},
		{ID: 2, SourcePath: writeSource(t, src, "2.jpg", "2")},
		{ID: 3, SourcePath: writeSource(t, src, "3.jpg", "3")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := New(&fakeRenderer{}, staging, nil).Run(ctx, Request{
		Photos:      photos,
		Destination: dest,
		Format:      FormatZip,
		Tier:        render.TierOriginal,
		OnItem:      func(ItemResult) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Exported != 1 {
		t.Fatalf("Exported = %d, want 1", res.Exported)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("archive should not exist: %v", err)
	}
	assertEmptyDir(t, staging)
}

func TestRunZipBuildFailure(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	blocker := writeSource(t, t.TempDir(), "file", "not a dir")

	_, err := New(&fakeRenderer{}, staging, nil).Run(context.Background(), Request{
		Photos:      []catalog.Photo{{ID: 1, SourcePath: writeSource(t, src, "1.jpg", "1")}},
		Destination: filepath.Join(blocker, "bundle.zip"),
		Format:      FormatZip,
		Tier:        render.TierOriginal,
	})
	if !errors.Is(err, ErrArchiveBuild) {
		t.Fatalf("Run() error = %v, want ErrArchiveBuild", err)
	}
	assertEmptyDir(t, staging)
}

func TestWriteZipFolder(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeSource(t, dir, "top.txt", "top")
	writeSource(t, filepath.Join(dir, "sub"), "inner.txt", "inner")

	out := filepath.Join(t.TempDir(), "folder.zip")
	f, err := os.Create(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteZip(f, dir); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}
	f.Close()

	files := readZip(t, out)
	if string(files["top.txt"]) != "top" || string(files["sub/inner.txt"]) != "inner" || len(files) != 2 {
		t.Fatalf("zip contents = %v", files)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatZip {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFormat("Folder"); err != nil || f != FormatFolder {
		t.Fatalf("ParseFormat(Folder) = %q, %v", f, err)
	}
	if _, err := ParseFormat("tar"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("ParseFormat(tar) error = %v", err)
	}
}
