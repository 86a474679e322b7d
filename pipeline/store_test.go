package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

func testManifest() []ManifestEntry {
	return []ManifestEntry{
		{Barcode: "0593017359115", Images: []core.ImageRef{{Role: core.ImageFront, Path: "a.png"}}},
		{Barcode: "0123456789012", Images: []core.ImageRef{{Role: core.ImageFront, Path: "b.png"}}},
	}
}

func newTestStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestFileStoreCreateAndResume(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newTestStore(t, dir)
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatalf("CreateOrLoadRun failed: %v", err)
	}
	err := store.Update(ctx, "0593017359115", func(it *core.Item) error {
		it.Stage1 = &core.Stage1Record{RawText: "Title: X"}
		return it.AdvanceTo(core.StatusStage1Done)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A second store over the same directory resumes with progress intact
	resumed := newTestStore(t, dir)
	if err := resumed.CreateOrLoadRun(ctx, "run-1", nil); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	item, err := resumed.Get(ctx, "0593017359115")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != core.StatusStage1Done || item.Stage1 == nil {
		t.Errorf("resumed item = %+v", item)
	}

	// A different run ID must not adopt the directory
	other := newTestStore(t, dir)
	if err := other.CreateOrLoadRun(ctx, "run-2", nil); !core.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestFileStoreListPendingOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}

	pending, err := store.ListPending(ctx, core.StageExtract)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d", len(pending))
	}
	// Manifest order, not lexicographic
	if pending[0].Barcode != "0593017359115" || pending[1].Barcode != "0123456789012" {
		t.Errorf("order = %s, %s", pending[0].Barcode, pending[1].Barcode)
	}

	err = store.Update(ctx, "0593017359115", func(it *core.Item) error {
		return it.AdvanceTo(core.StatusStage1Done)
	})
	if err != nil {
		t.Fatal(err)
	}
	pending, err = store.ListPending(ctx, core.StageExtract)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Barcode != "0123456789012" {
		t.Errorf("pending after advance = %+v", pending)
	}
	pending, err = store.ListPending(ctx, core.StageClean)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Barcode != "0593017359115" {
		t.Errorf("clean-pending = %+v", pending)
	}
}

func TestFileStoreUpdateRollsBackFailedMutation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}

	boom := fmt.Errorf("mutation rejected")
	err := store.Update(ctx, "0593017359115", func(it *core.Item) error {
		it.Stage1 = &core.Stage1Record{RawText: "partial"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	item, err := store.Get(ctx, "0593017359115")
	if err != nil {
		t.Fatal(err)
	}
	if item.Stage1 != nil || item.Status != core.StatusCreated {
		t.Errorf("partial mutation leaked: %+v", item)
	}
}

func TestFileStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}

	item, _ := store.Get(ctx, "0593017359115")
	item.Status = core.StatusFailed

	again, _ := store.Get(ctx, "0593017359115")
	if again.Status != core.StatusCreated {
		t.Errorf("mutation through Get leaked into the store: %q", again.Status)
	}
}

func TestFileStoreUnknownBarcode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "9999999999"); !errors.Is(err, core.ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestFileStoreCandidates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(t, dir)
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}

	err := store.RecordCandidates(ctx, []core.Candidate{
		{OCLCNumber: "1234567", Title: "Greatest Hits"},
		{OCLCNumber: "", Title: "ignored"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Candidates survive a reload
	resumed := newTestStore(t, dir)
	if err := resumed.CreateOrLoadRun(ctx, "run-1", nil); err != nil {
		t.Fatal(err)
	}
	cands, err := resumed.Candidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands["1234567"].Title != "Greatest Hits" {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestFileStoreBatchJobs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(t, dir)
	if err := store.CreateOrLoadRun(ctx, "run-1", testManifest()); err != nil {
		t.Fatal(err)
	}

	job := &llm.BatchJob{
		ProviderID:  "batch_abc",
		Stage:       core.StageExtract.String(),
		CustomIDs:   map[string]string{"stage1_0_aaa": "0593017359115"},
		SubmittedAt: time.Now().UTC(),
	}
	if err := store.RegisterBatchJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	// Open jobs survive a process restart
	resumed := newTestStore(t, dir)
	if err := resumed.CreateOrLoadRun(ctx, "run-1", nil); err != nil {
		t.Fatal(err)
	}
	open, err := resumed.ListOpenBatchJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ProviderID != "batch_abc" {
		t.Fatalf("open jobs = %+v", open)
	}
	if open[0].CustomIDs["stage1_0_aaa"] != "0593017359115" {
		t.Errorf("custom IDs = %v", open[0].CustomIDs)
	}

	if err := resumed.CloseBatchJob(ctx, "batch_abc"); err != nil {
		t.Fatal(err)
	}
	open, err = resumed.ListOpenBatchJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("jobs remain after close: %+v", open)
	}
}

func TestFileStoreRequiresLoadedRun(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	if _, err := store.Get(context.Background(), "0593017359115"); !errors.Is(err, core.ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
}
