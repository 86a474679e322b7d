package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/utlibraries/mediacat/core"
)

// QueryBuilder turns stage-1 metadata into an ordered list of search
// queries following the profile's strategy priority. Duplicates are
// removed preserving order, and free-text queries with fewer than
// three meaningful tokens are discarded. Identifier-bearing queries
// are exempt from the token minimum because a catalog number alone is
// already precise.

var identifierPattern = regexp.MustCompile(`^\d{10,14}$`)

type QueryBuilder struct {
	profile *core.MediaProfile
}

func NewQueryBuilder(profile *core.MediaProfile) *QueryBuilder {
	return &QueryBuilder{profile: profile}
}

// Build emits the queries for one item in priority order
func (qb *QueryBuilder) Build(md *core.Metadata, clean *core.Stage15Record) []string {
	if md == nil {
		return nil
	}

	firstTrack := ""
	if len(md.Tracks) > 0 {
		firstTrack = md.Tracks[0].Title
	}
	firstLanguage := ""
	if len(md.Languages) > 0 {
		firstLanguage = md.Languages[0]
	}
	publisherNumber := ""
	if clean != nil {
		publisherNumber = clean.PublisherNumber
	}
	publisherName := ""
	if len(md.Publishers) > 0 {
		publisherName = md.Publishers[0].Name
	}

	var queries []string
	add := func(q string, precise bool) {
		q = qb.cleanQuery(q)
		if q == "" {
			return
		}
		if !precise && meaningfulTokens(q, qb.profile.LeadingArticles) < 3 {
			return
		}
		queries = append(queries, q)
	}

	for _, strategy := range qb.profile.QueryPriority {
		switch strategy {
		case core.QueryIdentifier:
			for _, num := range AllNumbers(md) {
				if identifierPattern.MatchString(num) {
					add(num, true)
					break
				}
			}
		case core.QueryArtistFirstTrack:
			if md.PrimaryContributor != "" && firstTrack != "" {
				add(md.PrimaryContributor+" "+firstTrack, false)
			}
		case core.QueryTitleContributor:
			if md.Title != "" && md.PrimaryContributor != "" {
				add(md.Title+" "+md.PrimaryContributor, false)
			}
		case core.QueryTitleFirstTrack:
			if md.Title != "" && firstTrack != "" {
				add(md.Title+" "+firstTrack, false)
			}
		case core.QueryPublisherNumber:
			if publisherNumber != "" {
				add(strings.TrimSpace(publisherName+" "+publisherNumber+" "+qb.profile.FormatToken), true)
			}
		case core.QueryTitleContributorLanguage:
			if md.Title != "" && md.PrimaryContributor != "" {
				add(strings.TrimSpace(md.Title+" "+md.PrimaryContributor+" "+firstLanguage), false)
			}
		}
	}

	return dedupe(queries)
}

// cleanQuery collapses whitespace and strips non-Latin script only
// when a romanized form is present in the same string, meaning enough
// Latin tokens survive the strip to search on.
func (qb *QueryBuilder) cleanQuery(q string) string {
	q = strings.TrimSpace(whitespacePattern.ReplaceAllString(q, " "))
	if !containsNonLatin(q) {
		return q
	}
	stripped := stripNonLatin(q)
	if meaningfulTokens(stripped, qb.profile.LeadingArticles) >= 3 {
		return stripped
	}
	return q
}

func containsNonLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

func stripNonLatin(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

// meaningfulTokens counts tokens excluding leading articles and
// single-character fragments
func meaningfulTokens(q string, articles []string) int {
	articleSet := make(map[string]bool, len(articles))
	for _, a := range articles {
		articleSet[a] = true
	}
	count := 0
	for _, tok := range strings.Fields(strings.ToLower(q)) {
		tok = strings.Trim(tok, ".,;:!?'\"()")
		if len([]rune(tok)) < 2 || articleSet[tok] {
			continue
		}
		count++
	}
	return count
}

func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	var out []string
	for _, q := range queries {
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
