package pipeline

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/utlibraries/mediacat/core"
)

// Prompt construction for the two LLM stages. The extraction prompt
// fixes the labeled line format ParseMetadata understands; the
// selection prompt fixes the four numbered fields ParseSelection
// understands.

const extractionSystemPrompt = `You are a music cataloging assistant. You read scanned images of ` +
	`physical audio media packaging and transcribe the bibliographic details exactly as printed.`

const selectionSystemPrompt = `You are a music cataloging assistant. You compare extracted item ` +
	`metadata against candidate catalog records and pick the single best match.`

// encodeImageDataURI loads an image file as a base64 data URI
func encodeImageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %v: %w", path, err, core.ErrPersistence)
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// buildExtractionRequest builds the stage-1 vision request for one item
func buildExtractionRequest(item *core.Item, profile *core.MediaProfile, model string, maxTokens int) (*core.LLMRequest, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "These images show the packaging of a %s. Transcribe every bibliographic detail you can read.\n\n", strings.ToUpper(profile.Name))
	b.WriteString("Respond with labeled lines, one field per line, using exactly these labels:\n")
	b.WriteString("Title, Subtitle, Primary Contributor, Additional Contributors, Publisher, ")
	b.WriteString("Publication Place, Numbers, Publication Date, Languages, Format, Physical Description, Tracks, Notes.\n")
	b.WriteString("Separate list values with semicolons. Under Tracks, list one numbered track per line.\n")
	b.WriteString("Omit labels you cannot read. Do not guess.\n")
	for _, hint := range profile.ExtractionHints {
		b.WriteString(hint)
		b.WriteString("\n")
	}

	parts := []core.LLMPart{{Text: b.String()}}
	for _, img := range item.Images {
		uri, err := encodeImageDataURI(img.Path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, core.LLMPart{ImageURI: uri})
	}

	return &core.LLMRequest{
		ID:        item.Barcode,
		Model:     model,
		System:    extractionSystemPrompt,
		MaxTokens: maxTokens,
		Messages:  []core.LLMMessage{{Role: "user", Parts: parts}},
	}, nil
}

// buildSelectionRequest builds the stage-3 selection request for one item
func buildSelectionRequest(item *core.Item, model string, maxTokens int) *core.LLMRequest {
	var b strings.Builder
	b.WriteString("Extracted item metadata:\n\n")
	b.WriteString(FormatMetadata(item.Stage1.Metadata))
	b.WriteString("\nCandidate catalog records:\n\n")
	for i, cand := range item.Stage2.Candidates {
		fmt.Fprintf(&b, "Candidate %d:\n%s\n", i+1, formatCandidate(cand))
	}
	b.WriteString("\nPick the candidate that describes this exact release. ")
	b.WriteString("Respond with exactly these four numbered fields:\n")
	b.WriteString("1. OCLC number: <digits, or \"No matching records found\">\n")
	b.WriteString("2. Confidence: <integer 0-100>\n")
	b.WriteString("3. Explanation: <why this record matches>\n")
	b.WriteString("4. Other potential good matches: <OCLC numbers, or \"none\">\n")

	return &core.LLMRequest{
		ID:        item.Barcode,
		Model:     model,
		System:    selectionSystemPrompt,
		MaxTokens: maxTokens,
		Messages:  []core.LLMMessage{{Role: "user", Parts: []core.LLMPart{{Text: b.String()}}}},
	}
}

// formatCandidate renders one candidate block for the selection prompt
func formatCandidate(c core.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OCLC number: %s\n", c.OCLCNumber)
	if c.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", c.Title)
	}
	if len(c.Contributors) > 0 {
		fmt.Fprintf(&b, "Contributors: %s\n", strings.Join(c.Contributors, "; "))
	}
	if c.Publisher != "" {
		fmt.Fprintf(&b, "Publisher: %s\n", c.Publisher)
	}
	if c.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", c.Date)
	}
	if c.Format != "" {
		fmt.Fprintf(&b, "Format: %s\n", c.Format)
	}
	if len(c.TrackTitles) > 0 {
		fmt.Fprintf(&b, "Tracks: %s\n", strings.Join(c.TrackTitles, "; "))
	}
	fmt.Fprintf(&b, "Held by institution: %t, total holdings: %d\n",
		c.Holdings.HeldByInstitution, c.Holdings.TotalHoldingCount)
	return b.String()
}
