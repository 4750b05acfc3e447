package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetch_DownloadsIntoScratch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/uploads/clip.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	scratch := t.TempDir()
	f, err := NewHTTPFetcher(server.URL, scratch, nil)
	if err != nil {
		t.Fatalf("NewHTTPFetcher() error = %v", err)
	}

	path, err := f.Fetch(context.Background(), "videos", "uploads/clip.mp4")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if filepath.Dir(path) != scratch {
		t.Errorf("downloaded to %s, want inside %s", path, scratch)
	}
	if !strings.HasSuffix(path, "_clip.mp4") {
		t.Errorf("scratch filename %s should end with _clip.mp4", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read downloaded file: %v", err)
	}
	if string(data) != "video bytes" {
		t.Errorf("downloaded content = %q", data)
	}
}

func TestFetch_UniquePathsForSameKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	f, err := NewHTTPFetcher(server.URL, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewHTTPFetcher() error = %v", err)
	}

	p1, err := f.Fetch(context.Background(), "videos", "clip.mp4")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	p2, err := f.Fetch(context.Background(), "videos", "clip.mp4")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if p1 == p2 {
		t.Errorf("concurrent downloads of the same key share path %s", p1)
	}
}

func TestFetch_SanitisesTraversalKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	scratch := t.TempDir()
	f, err := NewHTTPFetcher(server.URL, scratch, nil)
	if err != nil {
		t.Fatalf("NewHTTPFetcher() error = %v", err)
	}

	path, err := f.Fetch(context.Background(), "videos", "../../etc/passwd")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if filepath.Dir(path) != scratch {
		t.Errorf("traversal key escaped scratch: %s", path)
	}
}

func TestFetch_MissingObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer server.Close()

	f, err := NewHTTPFetcher(server.URL, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewHTTPFetcher() error = %v", err)
	}

	if _, err := f.Fetch(context.Background(), "videos", "ghost.mp4"); err == nil {
		t.Fatal("Fetch() should fail for a missing object")
	}
}
