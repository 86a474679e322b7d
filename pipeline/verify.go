package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"github.com/utlibraries/mediacat/core"
)

var yearPattern = regexp.MustCompile(`\d{4}`)

// ExtractYear pulls a publication year out of a free-form date field.
// Copyright and phonogram symbols are ignored because only the digit
// runs are inspected. Years outside [1900, current year] are not
// plausible publication years for this material and are skipped; when
// several plausible years appear, the most frequent wins.
func ExtractYear(date string) (int, bool) {
	currentYear := time.Now().Year()
	counts := make(map[int]int)
	var order []int

	for _, m := range yearPattern.FindAllString(date, -1) {
		y := 0
		for _, c := range m {
			y = y*10 + int(c-'0')
		}
		if y < 1900 || y > currentYear {
			continue
		}
		if counts[y] == 0 {
			order = append(order, y)
		}
		counts[y]++
	}

	best, bestCount := 0, 0
	for _, y := range order {
		if counts[y] > bestCount {
			best, bestCount = y, counts[y]
		}
	}
	return best, best != 0
}

// Verifier checks a high-confidence selection against the extracted
// metadata: track-listing similarity and publication year.
type Verifier struct {
	highThreshold   int
	reviewThreshold int
	articles        []string
}

func NewVerifier(highThreshold, reviewThreshold int, articles []string) *Verifier {
	if highThreshold <= 0 {
		highThreshold = 80
	}
	if reviewThreshold <= 0 {
		reviewThreshold = highThreshold - 1
	}
	return &Verifier{
		highThreshold:   highThreshold,
		reviewThreshold: reviewThreshold,
		articles:        articles,
	}
}

// Verify produces the stage-4 record. Selections below the high
// confidence threshold pass through unchanged; verification exists to
// catch overconfident picks, not to rescue weak ones. The returned
// confidence never exceeds the initial one.
func (v *Verifier) Verify(md *core.Metadata, candidate *core.Candidate, initialConfidence int) (*core.Stage4Record, error) {
	rec := &core.Stage4Record{
		YearMatch:       core.YearMatchUnknown,
		FinalConfidence: initialConfidence,
	}
	if initialConfidence < v.highThreshold || candidate == nil || md == nil {
		return rec, nil
	}

	extracted := make([]string, 0, len(md.Tracks))
	for _, tr := range md.Tracks {
		extracted = append(extracted, tr.Title)
	}
	similarity, _ := TrackSimilarity(extracted, candidate.TrackTitles, v.articles)
	rec.TrackSimilarity = similarity
	rec.TracksCompared = len(extracted) >= 3 && len(candidate.TrackTitles) >= 3

	metaYear, metaOK := ExtractYear(md.PublicationDate)
	candYear, candOK := ExtractYear(candidate.Date)
	switch {
	case metaOK && candOK && metaYear == candYear:
		rec.YearMatch = core.YearMatchEqual
	case metaOK && candOK:
		rec.YearMatch = core.YearMatchMismatch
	default:
		// Either side missing; not penalized
		rec.YearMatch = core.YearMatchUnknown
	}

	var reason string
	if rec.TracksCompared && similarity < 80 {
		reason = fmt.Sprintf("track listings differ (similarity %.0f%%)", similarity)
	}
	if rec.YearMatch == core.YearMatchMismatch {
		yearReason := fmt.Sprintf("publication year mismatch (metadata: %d, OCLC: %d)", metaYear, candYear)
		if reason != "" {
			reason += "; " + yearReason
		} else {
			reason = yearReason
		}
	}

	if reason != "" {
		adjusted := v.reviewThreshold
		if adjusted > initialConfidence {
			// Verification may demote, never promote
			return nil, fmt.Errorf("adjustment would raise confidence %d -> %d: %w",
				initialConfidence, adjusted, core.ErrInvariantViolation)
		}
		adj := ConfidenceAdjustmentFor(initialConfidence, adjusted, reason)
		rec.Adjustment = &adj
		rec.FinalConfidence = adjusted
	}
	return rec, nil
}

// ConfidenceAdjustmentFor builds the demotion record
func ConfidenceAdjustmentFor(previous, next int, reason string) core.ConfidenceAdjustment {
	return core.ConfidenceAdjustment{
		Adjusted: true,
		Reason:   reason,
		Previous: previous,
		New:      next,
	}
}
