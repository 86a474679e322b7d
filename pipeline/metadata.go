package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/utlibraries/mediacat/core"
)

// Stage-1 prompts fix a labeled line format for the extraction
// response. ParseMetadata walks the labels in any order and builds the
// closed schema; lines it does not recognize are preserved verbatim in
// the raw_metadata side channel so provenance survives without leaking
// unknown fields into pipeline logic.
//
// FormatMetadata is the canonical serialization: parsing its output
// reproduces the same structure, so one parse+format pass reaches a
// fixed point.

var trackLinePattern = regexp.MustCompile(`^(\d+)[.)]\s*(.+)$`)

// labelled splits "Label: value" tolerating spacing around the colon
func labelled(line string) (label, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(line[:idx])), strings.TrimSpace(line[idx+1:]), true
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseMetadata parses the stage-1 labeled text into the closed schema
func ParseMetadata(raw string) (*core.Metadata, error) {
	md := &core.Metadata{}
	var rawLines []string
	var currentPublisher *core.Publisher
	inTracks := false

	flushPublisher := func() {
		if currentPublisher != nil {
			md.Publishers = append(md.Publishers, *currentPublisher)
			currentPublisher = nil
		}
	}
	ensurePublisher := func() *core.Publisher {
		if currentPublisher == nil {
			currentPublisher = &core.Publisher{}
		}
		return currentPublisher
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if inTracks {
			if m := trackLinePattern.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[1])
				md.Tracks = append(md.Tracks, core.Track{Number: n, Title: strings.TrimSpace(m[2])})
				continue
			}
			inTracks = false
		}

		label, value, ok := labelled(line)
		if !ok {
			rawLines = append(rawLines, line)
			continue
		}

		switch label {
		case "title":
			md.Title = value
		case "subtitle":
			md.Subtitle = value
		case "primary contributor":
			md.PrimaryContributor = value
		case "additional contributors":
			md.AdditionalContributors = splitList(value)
		case "publisher":
			flushPublisher()
			ensurePublisher().Name = value
		case "publication place", "place":
			ensurePublisher().Place = value
		case "numbers":
			// A second Numbers line opens a new publisher entry so
			// re-parsing canonical output reproduces the same grouping
			if currentPublisher != nil && currentPublisher.Numbers != nil {
				flushPublisher()
			}
			ensurePublisher().Numbers = splitList(value)
		case "publication date":
			md.PublicationDate = value
		case "languages":
			md.Languages = splitList(value)
		case "format":
			md.Format = value
		case "physical description":
			md.PhysicalDescription = value
		case "tracks":
			inTracks = true
		case "notes":
			md.Notes = value
		default:
			rawLines = append(rawLines, line)
		}
	}
	flushPublisher()

	if len(rawLines) > 0 {
		md.RawMetadata = strings.Join(rawLines, "\n")
	}
	if md.Title == "" && len(md.Tracks) == 0 && md.PrimaryContributor == "" {
		return nil, fmt.Errorf("no recognizable metadata fields: %w", core.ErrUnparseableReply)
	}
	return md, nil
}

// FormatMetadata serializes metadata to its canonical labeled form
func FormatMetadata(md *core.Metadata) string {
	var b strings.Builder
	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	writeField("Title", md.Title)
	writeField("Subtitle", md.Subtitle)
	writeField("Primary Contributor", md.PrimaryContributor)
	writeField("Additional Contributors", strings.Join(md.AdditionalContributors, "; "))
	for _, pub := range md.Publishers {
		writeField("Publisher", pub.Name)
		writeField("Publication Place", pub.Place)
		writeField("Numbers", strings.Join(pub.Numbers, "; "))
	}
	writeField("Publication Date", md.PublicationDate)
	writeField("Languages", strings.Join(md.Languages, "; "))
	writeField("Format", md.Format)
	writeField("Physical Description", md.PhysicalDescription)
	if len(md.Tracks) > 0 {
		b.WriteString("Tracks:\n")
		for _, tr := range md.Tracks {
			fmt.Fprintf(&b, "%d. %s\n", tr.Number, tr.Title)
		}
	}
	writeField("Notes", md.Notes)
	if md.RawMetadata != "" {
		b.WriteString(md.RawMetadata)
		b.WriteString("\n")
	}
	return b.String()
}

// AllNumbers returns every publisher/identifier number in order
func AllNumbers(md *core.Metadata) []string {
	var out []string
	for _, pub := range md.Publishers {
		out = append(out, pub.Numbers...)
	}
	return out
}
