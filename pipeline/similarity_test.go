package pipeline

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRatcliffObershelp(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abc", "abc", 1},
		{"abc", "abd", 2.0 * 2 / 6},
		{"mathematics", "informatics", 2.0 * 6 / 22},
	}
	for _, tt := range tests {
		if got := ratcliffObershelp(tt.a, tt.b); !almostEqual(got, tt.want) {
			t.Errorf("ratcliffObershelp(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	articles := []string{"the", "a", "an"}
	tests := []struct {
		in   string
		want string
	}{
		{"The Héroes (Live)", "heroes, the"},
		{"  Money   ", "money"},
		{"A Night at the Opera", "night at the opera, a"},
		{"Don't Stop!", "dont stop"},
	}
	for _, tt := range tests {
		if got := normalizeTitle(tt.in, articles); got != tt.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollapseMultiPart(t *testing.T) {
	titles := []string{"Symphony No. 5", "Part 1", "Part 2", "Movement III", "Finale"}
	out, collapsed := collapseMultiPart(titles)
	if !collapsed {
		t.Fatal("expected collapse")
	}
	if len(out) != 2 {
		t.Fatalf("collapsed to %v", out)
	}
	if out[0] != "Symphony No. 5 (with 3 parts)" {
		t.Errorf("first entry = %q", out[0])
	}
	if out[1] != "Finale" {
		t.Errorf("second entry = %q", out[1])
	}
}

func TestCollapseMultiPartNoGroups(t *testing.T) {
	titles := []string{"One", "Two", "Three"}
	out, collapsed := collapseMultiPart(titles)
	if collapsed || len(out) != 3 {
		t.Errorf("unexpected collapse: %v (%v)", out, collapsed)
	}
}

func TestTrackScoreTiers(t *testing.T) {
	// Containment floors the score at 0.85
	if got := trackScore("dark side", "dark side of the moon"); got < 0.85 {
		t.Errorf("containment score = %f, want >= 0.85", got)
	}
	// Heavy word overlap floors the score at 0.8
	if got := trackScore("blue train coltrane", "coltrane blue train"); got < 0.8 {
		t.Errorf("overlap score = %f, want >= 0.8", got)
	}
	// The overlap tier ignores the sequence ratio even when it is
	// higher: 2 of 3 words shared, ratio ~0.91, score stays at the
	// 0.8 floor
	if got := trackScore("love song x", "love song y"); !almostEqual(got, 0.8) {
		t.Errorf("overlap tier score = %f, want 0.8", got)
	}
	// Above the floor the overlap itself is the score
	if got := trackScore("one two three four five", "five four three two one six"); !almostEqual(got, 1) {
		t.Errorf("full overlap score = %f, want 1", got)
	}
	// Unrelated titles fall back to the raw ratio
	if got := trackScore("qwerty zxcvb", "aeiou nmnmn"); got >= 0.5 {
		t.Errorf("unrelated score = %f, want < 0.5", got)
	}
	if got := trackScore("", "anything"); got != 0 {
		t.Errorf("empty score = %f", got)
	}
}

func TestTrackSimilarityIdentical(t *testing.T) {
	tracks := []string{"Speak to Me", "Breathe", "On the Run", "Time"}
	sim, groups := TrackSimilarity(tracks, tracks, []string{"the"})
	if !almostEqual(sim, 100) {
		t.Errorf("similarity = %f, want 100", sim)
	}
	if groups {
		t.Error("no multi-part groups expected")
	}
}

func TestTrackSimilarityMultiPartBonusCapped(t *testing.T) {
	extracted := []string{"Concerto in D", "Part 1", "Part 2"}
	sim, groups := TrackSimilarity(extracted, nil, nil)
	if !groups {
		t.Fatal("expected multi-part group detection")
	}
	// No candidate tracks: base 0, plus the bonus
	if !almostEqual(sim, 10) {
		t.Errorf("similarity = %f, want 10", sim)
	}

	// The bonus never lifts a score past 80
	candidate := []string{"Concerto in D (with 2 parts)"}
	sim, _ = TrackSimilarity(extracted, candidate, nil)
	if sim > 100 {
		t.Errorf("similarity = %f out of range", sim)
	}
	if sim > 80 && sim < 90 {
		t.Errorf("bonus pushed similarity into dead zone: %f", sim)
	}
}

func TestTrackSimilarityEmptyExtracted(t *testing.T) {
	sim, _ := TrackSimilarity(nil, []string{"Something"}, nil)
	if sim != 0 {
		t.Errorf("similarity = %f, want 0", sim)
	}
}

func TestTitleSimilarity(t *testing.T) {
	articles := []string{"the"}
	if got := TitleSimilarity("Greatest Hits", "greatest hits", articles); !almostEqual(got, 1) {
		t.Errorf("case-insensitive similarity = %f, want 1", got)
	}
	if got := TitleSimilarity("The Wall", "Wall, The", articles); got < 0.9 {
		t.Errorf("article rotation similarity = %f, want >= 0.9", got)
	}
	if got := TitleSimilarity("Abbey Road", "Kind of Blue", articles); got > 0.5 {
		t.Errorf("unrelated similarity = %f, want <= 0.5", got)
	}
}
