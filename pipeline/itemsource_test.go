package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/utlibraries/mediacat/core"
)

func writeImage(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanBuildsManifest(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "059173017359115a.png")
	writeImage(t, dir, "059173017359115c.jpg")
	writeImage(t, dir, "059173017359115b.JPG")
	writeImage(t, dir, "0123456789a.jpeg")
	writeImage(t, dir, ".DS_Store")

	src := NewDirectoryItemSource(dir, nil)
	manifest, err := src.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(manifest) != 2 {
		t.Fatalf("expected 2 items, got %d", len(manifest))
	}
	// Barcode order
	if manifest[0].Barcode != "0123456789" || manifest[1].Barcode != "059173017359115" {
		t.Errorf("order = %s, %s", manifest[0].Barcode, manifest[1].Barcode)
	}

	images := manifest[1].Images
	if len(images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(images))
	}
	wantRoles := []core.ImageRole{core.ImageFront, core.ImageBack, core.ImageAdditional}
	for i, role := range wantRoles {
		if images[i].Role != role {
			t.Errorf("image %d role = %q, want %q", i, images[i].Role, role)
		}
	}
}

func TestScanRenamesFilenamesWithSpaces(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "0123456789 a.png")

	src := NewDirectoryItemSource(dir, nil)
	manifest, err := src.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(manifest) != 1 || manifest[0].Barcode != "0123456789" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if _, err := os.Stat(filepath.Join(dir, "0123456789a.png")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestScanRejectsInvalidFilenames(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "0123456789a.png")
	writeImage(t, dir, "notabarcode.png")

	src := NewDirectoryItemSource(dir, nil)
	_, err := src.Scan()
	if !errors.Is(err, core.ErrMalformedRecord) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
}

func TestScanRejectsDuplicateRole(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "0123456789a.png")
	writeImage(t, dir, "0123456789a.jpg")

	src := NewDirectoryItemSource(dir, nil)
	_, err := src.Scan()
	if !errors.Is(err, core.ErrMalformedRecord) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
}

func TestScanRequiresFrontImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "0123456789b.png")

	src := NewDirectoryItemSource(dir, nil)
	_, err := src.Scan()
	if !errors.Is(err, core.ErrMalformedRecord) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
}
