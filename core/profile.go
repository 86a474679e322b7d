package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Query strategy names usable in a profile's query_priority list.
// The query builder resolves these against extracted metadata.
const (
	QueryIdentifier               = "identifier"                 // UPC/EAN/ISBN alone
	QueryArtistFirstTrack         = "artist_first_track"         // artist + first track title
	QueryTitleContributor         = "title_contributor"          // main title + primary contributor
	QueryTitleFirstTrack          = "title_first_track"          // main title + first track title
	QueryPublisherNumber          = "publisher_number"           // publisher + number + format token
	QueryTitleContributorLanguage = "title_contributor_language" // LP: title + contributor + pressing language
)

// MediaProfile parameterizes the single pipeline for a media type.
// Everything outside this record is shared between CDs and LPs.
type MediaProfile struct {
	Name string `yaml:"name" json:"name"`

	// Union-catalog search tokens
	ItemType    string `yaml:"item_type" json:"item_type"`
	ItemSubType string `yaml:"item_sub_type" json:"item_sub_type"`
	FormatToken string `yaml:"format_token" json:"format_token"`

	// Ordered query construction strategies
	QueryPriority []string `yaml:"query_priority" json:"query_priority"`

	// Hints passed into the stage-1 vision prompt
	ExtractionHints []string `yaml:"extraction_hints" json:"extraction_hints,omitempty"`

	// Track normalization hints, e.g. articles to rotate ("the", "a", "le")
	LeadingArticles []string `yaml:"leading_articles" json:"leading_articles,omitempty"`
}

// DefaultCDProfile is the compiled-in profile for compact discs
func DefaultCDProfile() *MediaProfile {
	return &MediaProfile{
		Name:        "cd",
		ItemType:    "music",
		ItemSubType: "music-cd",
		FormatToken: "CD",
		QueryPriority: []string{
			QueryIdentifier,
			QueryArtistFirstTrack,
			QueryTitleContributor,
			QueryTitleFirstTrack,
			QueryPublisherNumber,
		},
		ExtractionHints: []string{
			"Read the spine and back cover for the label catalog number.",
			"UPC barcodes appear on the back cover.",
		},
		LeadingArticles: []string{"the", "a", "an"},
	}
}

// DefaultLPProfile is the compiled-in profile for vinyl records.
// LP searches lean on title + contributor + pressing language because
// older pressings rarely carry machine-readable identifiers.
func DefaultLPProfile() *MediaProfile {
	return &MediaProfile{
		Name:        "lp",
		ItemType:    "music",
		ItemSubType: "music-lp",
		FormatToken: "LP",
		QueryPriority: []string{
			QueryTitleContributorLanguage,
			QueryTitleContributor,
			QueryIdentifier,
			QueryTitleFirstTrack,
			QueryPublisherNumber,
		},
		ExtractionHints: []string{
			"Matrix and label numbers appear on the record label and jacket spine.",
			"Note the pressing language when the jacket is not in English.",
		},
		LeadingArticles: []string{"the", "a", "an", "le", "la", "les", "el", "los", "die", "der", "das"},
	}
}

// LoadProfile resolves the media profile for a configuration.
// An explicit profile file overrides the compiled-in defaults.
func LoadProfile(cfg *Config) (*MediaProfile, error) {
	if cfg.ProfilePath != "" {
		return LoadProfileFile(cfg.ProfilePath)
	}
	switch cfg.MediaType {
	case "cd":
		return DefaultCDProfile(), nil
	case "lp":
		return DefaultLPProfile(), nil
	}
	return nil, fmt.Errorf("no profile for media type %q", cfg.MediaType)
}

// LoadProfileFile reads a YAML media profile from disk
func LoadProfileFile(path string) (*MediaProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var p MediaProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks the profile for required fields and known strategies
func (p *MediaProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.ItemType == "" || p.ItemSubType == "" {
		return fmt.Errorf("item_type and item_sub_type are required")
	}
	if len(p.QueryPriority) == 0 {
		return fmt.Errorf("query_priority must list at least one strategy")
	}
	known := map[string]bool{
		QueryIdentifier:               true,
		QueryArtistFirstTrack:         true,
		QueryTitleContributor:         true,
		QueryTitleFirstTrack:          true,
		QueryPublisherNumber:          true,
		QueryTitleContributorLanguage: true,
	}
	for _, s := range p.QueryPriority {
		if !known[s] {
			return fmt.Errorf("unknown query strategy %q", s)
		}
	}
	return nil
}
