package pipeline

import (
	"testing"

	"github.com/utlibraries/mediacat/core"
)

func TestExtractYear(t *testing.T) {
	tests := []struct {
		date string
		want int
		ok   bool
	}{
		{"1998", 1998, true},
		{"(p)1998 (c)1999 1998", 1998, true},
		{"c1971", 1971, true},
		{"printed 1850", 0, false},
		{"3021", 0, false},
		{"", 0, false},
		{"1968, reissued 1971", 1968, true}, // tie keeps the first seen
	}
	for _, tt := range tests {
		got, ok := ExtractYear(tt.date)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractYear(%q) = %d, %v; want %d, %v", tt.date, got, ok, tt.want, tt.ok)
		}
	}
}

func verifyMetadata() *core.Metadata {
	return &core.Metadata{
		Title:           "Greatest Hits",
		PublicationDate: "1971",
		Tracks: []core.Track{
			{Number: 1, Title: "First Song"},
			{Number: 2, Title: "Second Song"},
			{Number: 3, Title: "Third Song"},
		},
	}
}

func TestVerifyPassThroughBelowThreshold(t *testing.T) {
	v := NewVerifier(80, 79, nil)
	cand := &core.Candidate{OCLCNumber: "12345678", Date: "1968"}

	rec, err := v.Verify(verifyMetadata(), cand, 70)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if rec.FinalConfidence != 70 {
		t.Errorf("final confidence = %d, want 70", rec.FinalConfidence)
	}
	if rec.YearMatch != core.YearMatchUnknown {
		t.Errorf("year match = %q", rec.YearMatch)
	}
	if rec.Adjustment != nil {
		t.Errorf("unexpected adjustment: %+v", rec.Adjustment)
	}
}

func TestVerifyDemotesOnYearMismatch(t *testing.T) {
	v := NewVerifier(80, 79, nil)
	md := verifyMetadata()
	md.Tracks = md.Tracks[:2] // too few tracks to compare
	cand := &core.Candidate{OCLCNumber: "12345678", Date: "1968"}

	rec, err := v.Verify(md, cand, 90)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if rec.TracksCompared {
		t.Error("two tracks should not be compared")
	}
	if rec.YearMatch != core.YearMatchMismatch {
		t.Errorf("year match = %q", rec.YearMatch)
	}
	if rec.FinalConfidence != 79 {
		t.Errorf("final confidence = %d, want 79", rec.FinalConfidence)
	}
	if rec.Adjustment == nil {
		t.Fatal("expected adjustment")
	}
	want := "publication year mismatch (metadata: 1971, OCLC: 1968)"
	if rec.Adjustment.Reason != want {
		t.Errorf("reason = %q, want %q", rec.Adjustment.Reason, want)
	}
	if rec.Adjustment.Previous != 90 || rec.Adjustment.New != 79 {
		t.Errorf("adjustment = %+v", rec.Adjustment)
	}
}

func TestVerifyDemotesOnTrackMismatch(t *testing.T) {
	v := NewVerifier(80, 79, nil)
	cand := &core.Candidate{
		OCLCNumber:  "12345678",
		Date:        "1971",
		TrackTitles: []string{"Alpha", "Beta", "Gamma"},
	}

	rec, err := v.Verify(verifyMetadata(), cand, 95)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !rec.TracksCompared {
		t.Error("expected track comparison")
	}
	if rec.YearMatch != core.YearMatchEqual {
		t.Errorf("year match = %q", rec.YearMatch)
	}
	if rec.FinalConfidence != 79 {
		t.Errorf("final confidence = %d, want 79", rec.FinalConfidence)
	}
	if rec.Adjustment == nil || rec.Adjustment.Reason == "" {
		t.Fatal("expected track-mismatch adjustment")
	}
}

func TestVerifyKeepsConfidenceOnMatch(t *testing.T) {
	v := NewVerifier(80, 79, nil)
	cand := &core.Candidate{
		OCLCNumber:  "12345678",
		Date:        "(c)1971",
		TrackTitles: []string{"First Song", "Second Song", "Third Song"},
	}

	rec, err := v.Verify(verifyMetadata(), cand, 95)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if rec.FinalConfidence != 95 {
		t.Errorf("final confidence = %d, want 95", rec.FinalConfidence)
	}
	if rec.Adjustment != nil {
		t.Errorf("unexpected adjustment: %+v", rec.Adjustment)
	}
	if rec.YearMatch != core.YearMatchEqual {
		t.Errorf("year match = %q", rec.YearMatch)
	}
}

func TestVerifyMissingYearNotPenalized(t *testing.T) {
	v := NewVerifier(80, 79, nil)
	md := verifyMetadata()
	md.PublicationDate = ""
	cand := &core.Candidate{
		OCLCNumber:  "12345678",
		Date:        "1968",
		TrackTitles: []string{"First Song", "Second Song", "Third Song"},
	}

	rec, err := v.Verify(md, cand, 90)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if rec.YearMatch != core.YearMatchUnknown {
		t.Errorf("year match = %q", rec.YearMatch)
	}
	if rec.FinalConfidence != 90 {
		t.Errorf("final confidence = %d, want 90", rec.FinalConfidence)
	}
}

// A review threshold above the item's confidence would promote it;
// that configuration must be rejected at verification time.
func TestVerifyRefusesToRaiseConfidence(t *testing.T) {
	v := &Verifier{highThreshold: 80, reviewThreshold: 95}
	cand := &core.Candidate{OCLCNumber: "12345678", Date: "1968"}
	md := verifyMetadata()
	md.Tracks = nil

	_, err := v.Verify(md, cand, 85)
	if !core.IsInvariantViolation(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}
