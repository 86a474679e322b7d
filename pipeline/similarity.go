package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Ratcliff/Obershelp similarity: twice the total length of matching
// blocks over the combined length. Matching blocks are found by
// recursively splitting around the longest common substring.
func ratcliffObershelp(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	matched := matchingChars(a, b)
	return 2 * float64(matched) / float64(len(a)+len(b))
}

func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// lengths[j] tracks the common-suffix length ending at b[j-1] for
	// the previous row of a
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > size {
					size = lengths[j]
					ai = i - size + 1
					bi = j - size
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}

var (
	parentheticalPattern = regexp.MustCompile(`\s*\([^)]*\)`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
	multiPartPattern     = regexp.MustCompile(`(?i)^(part|movement)\s+([0-9]+|[ivxlc]+)$`)
)

// stripDiacritics decomposes to NFD and drops combining marks
func stripDiacritics(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeTitle prepares a track or album title for comparison:
// lowercase, diacritics stripped, a leading article rotated to a
// trailing ", the", parentheticals removed, whitespace collapsed,
// non-alphanumerics dropped.
func normalizeTitle(s string, articles []string) string {
	s = strings.ToLower(stripDiacritics(s))
	s = parentheticalPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	for _, article := range articles {
		prefix := article + " "
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			s = strings.TrimSpace(s[len(prefix):]) + ", " + article
			break
		}
	}

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == ',' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

// collapseMultiPart folds consecutive "Part n" / "Movement iv" entries
// into the preceding title with a part-count annotation. Returns the
// collapsed list and whether any group was found.
func collapseMultiPart(titles []string) ([]string, bool) {
	var out []string
	collapsed := false
	parts := 0

	flush := func() {
		if parts > 0 && len(out) > 0 {
			out[len(out)-1] = fmt.Sprintf("%s (with %d parts)", out[len(out)-1], parts)
			collapsed = true
		}
		parts = 0
	}

	for _, title := range titles {
		if multiPartPattern.MatchString(strings.TrimSpace(title)) && len(out) > 0 {
			parts++
			continue
		}
		flush()
		out = append(out, title)
	}
	flush()
	return out, collapsed
}

// trackScore compares two normalized titles. Containment scores the
// sequence ratio floored at 0.85; heavy word overlap scores the
// overlap itself floored at 0.8. Only containment may exceed its
// floor on the raw sequence ratio.
func trackScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ratio := ratcliffObershelp(a, b)

	if strings.Contains(a, b) || strings.Contains(b, a) {
		if ratio > 0.85 {
			return ratio
		}
		return 0.85
	}

	overlap := wordOverlap(a, b)
	if overlap >= 0.6 {
		if overlap > 0.8 {
			return overlap
		}
		return 0.8
	}
	return ratio
}

// wordOverlap is the shared-word count over the shorter word set
func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	shared := 0
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		if setB[w] {
			continue
		}
		setB[w] = true
		if setA[w] {
			shared++
		}
	}
	shorter := len(setA)
	if len(setB) < shorter {
		shorter = len(setB)
	}
	return float64(shared) / float64(shorter)
}

// TrackSimilarity scores how well the candidate's track listing covers
// the extracted one, as a percentage. Multi-part groups in the
// extracted listing are collapsed first; when present, a sub-80 result
// receives a +10 bonus capped at 80 so multi-part works are not
// over-penalized without being upgraded.
func TrackSimilarity(extracted, candidate []string, articles []string) (float64, bool) {
	collapsedExtracted, hasGroups := collapseMultiPart(extracted)

	normExtracted := make([]string, 0, len(collapsedExtracted))
	for _, t := range collapsedExtracted {
		normExtracted = append(normExtracted, normalizeTitle(t, articles))
	}
	normCandidate := make([]string, 0, len(candidate))
	for _, t := range candidate {
		normCandidate = append(normCandidate, normalizeTitle(t, articles))
	}

	if len(normExtracted) == 0 {
		return 0, hasGroups
	}

	var sum float64
	for _, ext := range normExtracted {
		best := 0.0
		for _, cand := range normCandidate {
			if score := trackScore(ext, cand); score > best {
				best = score
			}
		}
		sum += best
	}
	similarity := sum / float64(len(normExtracted)) * 100

	if hasGroups && similarity < 80 {
		similarity += 10
		if similarity > 80 {
			similarity = 80
		}
	}
	return similarity, hasGroups
}

// TitleSimilarity compares two album titles for duplicate detection
func TitleSimilarity(a, b string, articles []string) float64 {
	return ratcliffObershelp(normalizeTitle(a, articles), normalizeTitle(b, articles))
}
