package pipeline

import (
	"strconv"
	"strings"

	"github.com/utlibraries/mediacat/core"
)

// Stage 1.5 cleans up what the vision model transcribed before the
// numbers and dates drive catalog queries: catalog numbers lose
// stray spacing, and the publication date collapses to a plausible
// year.

// CleanMetadata normalizes numbers and dates in place and reports what
// was edited.
func CleanMetadata(md *core.Metadata) *core.Stage15Record {
	rec := &core.Stage15Record{}
	if md == nil {
		return rec
	}

	for pi := range md.Publishers {
		for ni, num := range md.Publishers[pi].Numbers {
			cleaned := normalizeNumber(num)
			if cleaned != num {
				md.Publishers[pi].Numbers[ni] = cleaned
				rec.NumbersEdited = true
			}
		}
	}
	rec.PublisherNumber = firstPublisherNumber(md)

	if year, ok := ExtractYear(md.PublicationDate); ok {
		rec.NormalizedYear = year
		canonical := strconv.Itoa(year)
		if strings.TrimSpace(md.PublicationDate) != canonical {
			md.PublicationDate = canonical
			rec.DateEdited = true
		}
	}
	return rec
}

// normalizeNumber uppercases a catalog number and strips the spacing
// the model tends to hallucinate around hyphens and digit groups.
func normalizeNumber(num string) string {
	num = strings.ToUpper(strings.TrimSpace(num))
	num = whitespacePattern.ReplaceAllString(num, " ")
	num = strings.ReplaceAll(num, " -", "-")
	num = strings.ReplaceAll(num, "- ", "-")
	// Pure digit groups are one identifier; the model sometimes reads
	// a UPC as spaced groups.
	if isSpacedDigits(num) {
		num = strings.ReplaceAll(num, " ", "")
	}
	return num
}

func isSpacedDigits(s string) bool {
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seen = true
		case r == ' ':
		default:
			return false
		}
	}
	return seen
}

// firstPublisherNumber picks the first label/catalog number that is
// not a bare product identifier; UPC/EAN searches already use those
// through the identifier strategy.
func firstPublisherNumber(md *core.Metadata) string {
	for _, num := range AllNumbers(md) {
		if !identifierPattern.MatchString(num) {
			return num
		}
	}
	return ""
}
