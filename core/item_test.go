package core

import (
	"errors"
	"testing"
)

func TestStatusAdvancesForwardOnly(t *testing.T) {
	it := &Item{Barcode: "1234567890", Status: StatusCreated}

	if err := it.AdvanceTo(StatusStage1Done); err != nil {
		t.Fatalf("forward advance failed: %v", err)
	}
	if err := it.AdvanceTo(StatusStage2Done); err != nil {
		t.Fatalf("skipping a stage forward should still be legal on resume: %v", err)
	}

	// Backwards and sideways moves are invariant violations
	if err := it.AdvanceTo(StatusStage1Done); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition moving backwards, got %v", err)
	}
	if err := it.AdvanceTo(StatusStage2Done); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on no-op move, got %v", err)
	}
}

func TestMarkFailedPreservesStageRecords(t *testing.T) {
	it := &Item{
		Barcode: "1234567890",
		Status:  StatusStage1Done,
		Stage1:  &Stage1Record{RawText: "Title: Greatest Hits"},
	}

	it.MarkFailed(StageSearch, "daily quota exhausted")

	if it.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", it.Status)
	}
	if it.FailedStage != "stage2" {
		t.Errorf("expected failed_stage stage2, got %s", it.FailedStage)
	}
	if it.Stage1 == nil || it.Stage1.RawText == "" {
		t.Error("failure must not erase prior stage records")
	}
}

func TestStageEntryAndDoneStatuses(t *testing.T) {
	tests := []struct {
		stage Stage
		entry Status
		done  Status
	}{
		{StageExtract, StatusCreated, StatusStage1Done},
		{StageClean, StatusStage1Done, StatusStage15Done},
		{StageSearch, StatusStage15Done, StatusStage2Done},
		{StageSelect, StatusStage2Done, StatusStage3Done},
		{StageVerify, StatusStage3Done, StatusStage4Done},
		{StageDispose, StatusStage4Done, StatusStage5Done},
	}
	for _, tt := range tests {
		if got := tt.stage.EntryStatus(); got != tt.entry {
			t.Errorf("%s entry = %s, want %s", tt.stage, got, tt.entry)
		}
		if got := tt.stage.DoneStatus(); got != tt.done {
			t.Errorf("%s done = %s, want %s", tt.stage, got, tt.done)
		}
	}
}

func TestFinalConfidenceFallback(t *testing.T) {
	it := &Item{Barcode: "1"}
	if got := it.FinalConfidence(); got != 0 {
		t.Errorf("no stages: want 0, got %d", got)
	}

	it.Stage3 = &Stage3Record{Confidence: 95}
	if got := it.FinalConfidence(); got != 95 {
		t.Errorf("stage3 only: want 95, got %d", got)
	}

	it.Stage4 = &Stage4Record{FinalConfidence: 79}
	if got := it.FinalConfidence(); got != 79 {
		t.Errorf("stage4 present: want 79, got %d", got)
	}
}

func TestDispositionLabels(t *testing.T) {
	tests := map[DispositionGroup]string{
		GroupAlmaBatchUpload:   "Alma Batch Upload (High Confidence)",
		GroupHeldByInstitution: "Held by UT Libraries (IXA)",
		GroupCatalogerReview:   "Cataloger Review (Low Confidence)",
		GroupDuplicate:         "Duplicate",
	}
	for g, want := range tests {
		if got := g.Label(); got != want {
			t.Errorf("%s label = %q, want %q", g, got, want)
		}
	}
}
