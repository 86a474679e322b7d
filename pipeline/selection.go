package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/utlibraries/mediacat/core"
)

// The stage-3 prompt fixes a four-field numbered response:
//
//	1. OCLC number: <digits or "No matching records found">
//	2. Confidence: <0-100>
//	3. Explanation: <free text>
//	4. Other potential good matches: <digits, ...>
//
// ParseSelection walks those labels in order. It is strict about the
// labels being present but tolerant about spacing and punctuation
// around them. A response missing the labels yields confidence 0 and
// a flagged record rather than a guess.

var (
	oclcFieldPattern       = regexp.MustCompile(`(?im)^\s*1[.)]?\s*OCLC\s+number\s*[:\-]\s*(.+)$`)
	confidenceFieldPattern = regexp.MustCompile(`(?im)^\s*2[.)]?\s*Confidence\s*[:\-]\s*(.+)$`)
	explanationPattern     = regexp.MustCompile(`(?is)3[.)]?\s*Explanation\s*[:\-]\s*(.*?)\s*(?:4[.)]?\s*Other\s+potential\s+good\s+matches|$)`)
	alternativesPattern    = regexp.MustCompile(`(?is)4[.)]?\s*Other\s+potential\s+good\s+matches\s*[:\-]?\s*(.*)$`)
	digitsPattern          = regexp.MustCompile(`\d+`)
	altNumberPattern       = regexp.MustCompile(`\b\d{8,10}\b`)
	noMatchPattern         = regexp.MustCompile(`(?i)no\s+matching\s+records?\s+found`)
	intPattern             = regexp.MustCompile(`-?\d+`)
)

// ParseSelection parses the selection response against the stage-2
// candidate list. Alternatives are enriched with holdings data from
// the candidates they name.
func ParseSelection(response string, candidates []core.Candidate) *core.Stage3Record {
	rec := &core.Stage3Record{SelectedOCLC: "0"}

	oclcMatch := oclcFieldPattern.FindStringSubmatch(response)
	confMatch := confidenceFieldPattern.FindStringSubmatch(response)
	if oclcMatch == nil || confMatch == nil {
		rec.Flagged = true
		rec.Explanation = strings.TrimSpace(response)
		return rec
	}

	oclcField := oclcMatch[1]
	if noMatchPattern.MatchString(oclcField) || noMatchPattern.MatchString(response) {
		rec.SelectedOCLC = "0"
	} else if digits := digitsPattern.FindString(oclcField); digits != "" {
		rec.SelectedOCLC = digits
	}

	rec.Confidence = parseConfidence(confMatch[1])
	if rec.SelectedOCLC == "0" {
		rec.Confidence = 0
	}

	if m := explanationPattern.FindStringSubmatch(response); m != nil {
		rec.Explanation = strings.TrimSpace(m[1])
	}

	if m := alternativesPattern.FindStringSubmatch(response); m != nil {
		rec.Alternatives = parseAlternatives(m[1], rec.SelectedOCLC, candidates)
	}
	return rec
}

// parseConfidence extracts an integer and clamps it to [0, 100].
// Anything unparseable becomes 0.
func parseConfidence(field string) int {
	m := intPattern.FindString(field)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// parseAlternatives collects 8-10 digit numbers from the alternatives
// section, excluding the selected number, enriched from the candidate
// list when the number matches a stage-2 candidate.
func parseAlternatives(section, selected string, candidates []core.Candidate) []core.Alternative {
	byOCLC := make(map[string]core.Candidate, len(candidates))
	for _, c := range candidates {
		byOCLC[c.OCLCNumber] = c
	}

	seen := map[string]bool{selected: true}
	var out []core.Alternative
	for _, num := range altNumberPattern.FindAllString(section, -1) {
		if seen[num] {
			continue
		}
		seen[num] = true
		alt := core.Alternative{OCLCNumber: num}
		if cand, ok := byOCLC[num]; ok {
			alt.HeldByInstitution = cand.Holdings.HeldByInstitution
			alt.TotalHoldingCount = cand.Holdings.TotalHoldingCount
		}
		out = append(out, alt)
	}
	return out
}
