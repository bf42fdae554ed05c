package autotag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyFiltersAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("format") != "json" {
			t.Errorf("format = %q, want json", r.FormValue("format"))
		}
		if _, hdr, err := r.FormFile("file"); err != nil || hdr.Filename != "cat.jpg" {
			t.Errorf("file field missing: %v", err)
		}
		_, _ = w.Write([]byte(`[{"tags":{"cat":0.91,"sofa":0.55,"dog":0.40,"noise":0.1}}]`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cat.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewClient(srv.URL, 0, srv.Client()).Classify(context.Background(), path)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "cat" || got[1].Name != "sofa" {
		t.Fatalf("Classify() = %+v", got)
	}
}

func TestClassifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "x.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(srv.URL, 0.5, nil).Classify(context.Background(), path); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
