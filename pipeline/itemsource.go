package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/utlibraries/mediacat/core"
)

// imageNamePattern matches "<barcode><role>.<ext>" where the barcode
// is 10 to 15 digits, the role suffix is a (front), b (back) or
// c (additional), and the extension is png/jpg/jpeg in any case.
var imageNamePattern = regexp.MustCompile(`^(\d{10,15})([abc])\.(?i:png|jpg|jpeg)$`)

var roleBySuffix = map[string]core.ImageRole{
	"a": core.ImageFront,
	"b": core.ImageBack,
	"c": core.ImageAdditional,
}

// InvalidImageError reports a file that cannot be ingested
type InvalidImageError struct {
	Filename string
	Reason   string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image filename %q: %s", e.Filename, e.Reason)
}

// DirectoryItemSource builds the run manifest from a directory of
// scanned images. Filenames with spaces are renamed in place before
// parsing. Any other invalid filename fails the scan: ingestion is
// closed until the input directory is corrected.
type DirectoryItemSource struct {
	dir    string
	logger core.Logger
}

// NewDirectoryItemSource creates a source over one image directory
func NewDirectoryItemSource(dir string, logger core.Logger) *DirectoryItemSource {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &DirectoryItemSource{dir: dir, logger: logger}
}

// Scan returns the manifest in barcode order, each entry carrying its
// images ordered front, back, additional.
func (s *DirectoryItemSource) Scan() ([]ManifestEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory %s: %v: %w", s.dir, err, core.ErrPersistence)
	}

	byBarcode := make(map[string]map[core.ImageRole]core.ImageRef)
	var invalid []error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if strings.Contains(name, " ") {
			renamed := strings.ReplaceAll(name, " ", "")
			if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(s.dir, renamed)); err != nil {
				return nil, fmt.Errorf("failed to rename %q: %v: %w", name, err, core.ErrPersistence)
			}
			s.logger.Warn("Renamed image with spaces in filename", map[string]interface{}{
				"operation": "itemsource_rename",
				"from":      name,
				"to":        renamed,
			})
			name = renamed
		}

		m := imageNamePattern.FindStringSubmatch(name)
		if m == nil {
			invalid = append(invalid, &InvalidImageError{
				Filename: name,
				Reason:   "expected <10-15 digit barcode><a|b|c>.<png|jpg|jpeg>",
			})
			continue
		}
		barcode, role := m[1], roleBySuffix[m[2]]

		images := byBarcode[barcode]
		if images == nil {
			images = make(map[core.ImageRole]core.ImageRef)
			byBarcode[barcode] = images
		}
		if prior, dup := images[role]; dup {
			invalid = append(invalid, &InvalidImageError{
				Filename: name,
				Reason:   fmt.Sprintf("duplicate %s image for barcode %s (already have %s)", role, barcode, filepath.Base(prior.Path)),
			})
			continue
		}
		images[role] = core.ImageRef{Role: role, Path: filepath.Join(s.dir, name)}
	}

	if len(invalid) > 0 {
		for _, e := range invalid {
			s.logger.Error("Rejected image file", map[string]interface{}{
				"operation": "itemsource_invalid",
				"error":     e.Error(),
			})
		}
		return nil, fmt.Errorf("%d invalid image filenames in %s, first: %v: %w",
			len(invalid), s.dir, invalid[0], core.ErrMalformedRecord)
	}

	barcodes := make([]string, 0, len(byBarcode))
	for barcode := range byBarcode {
		barcodes = append(barcodes, barcode)
	}
	sort.Strings(barcodes)

	manifest := make([]ManifestEntry, 0, len(barcodes))
	for _, barcode := range barcodes {
		images := byBarcode[barcode]
		if _, ok := images[core.ImageFront]; !ok {
			return nil, fmt.Errorf("barcode %s has no front (a) image: %w", barcode, core.ErrMalformedRecord)
		}
		var refs []core.ImageRef
		for _, role := range []core.ImageRole{core.ImageFront, core.ImageBack, core.ImageAdditional} {
			if ref, ok := images[role]; ok {
				refs = append(refs, ref)
			}
		}
		manifest = append(manifest, ManifestEntry{Barcode: barcode, Images: refs})
	}

	s.logger.Info("Scanned image directory", map[string]interface{}{
		"operation": "itemsource_scan",
		"directory": s.dir,
		"items":     len(manifest),
	})
	return manifest, nil
}
