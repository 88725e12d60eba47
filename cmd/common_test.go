package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"invoicexl/pkg/models"
)

func TestCollectUploadsWalksFolders(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.pdf":         "%PDF-1.4",
		"a.JPG":         "jpeg",
		"notes.txt":     "skip me",
		"nested/c.png":  "png",
		"nested/d.jpeg": "jpeg",
		"nested/e.xlsx": "skip me",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	uploads, err := collectUploads([]string{dir}, models.ClassPurchase, zerolog.Nop())
	if err != nil {
		t.Fatalf("collectUploads: %v", err)
	}

	want := []string{"a.JPG", "b.pdf", "c.png", "d.jpeg"}
	if len(uploads) != len(want) {
		t.Fatalf("got %d uploads, want %d", len(uploads), len(want))
	}
	for i, u := range uploads {
		if u.Filename != want[i] || u.Class != models.ClassPurchase {
			t.Errorf("upload %d = %s (%s), want %s", i, u.Filename, u.Class, want[i])
		}
	}
}

func TestCollectUploadsSingleFileAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Explicit files are passed through; the pipeline decides if they are supported.
	uploads, err := collectUploads([]string{path}, models.ClassSales, zerolog.Nop())
	if err != nil || len(uploads) != 1 || uploads[0].Filename != "scan.txt" {
		t.Errorf("uploads = %+v, err = %v", uploads, err)
	}

	if _, err := collectUploads([]string{filepath.Join(dir, "missing.pdf")}, models.ClassSales, zerolog.Nop()); err == nil {
		t.Error("expected error for missing file")
	}
}
