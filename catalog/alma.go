package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/resilience"
)

// Wire types for the Alma bibs API, which speaks XML

type almaBibs struct {
	XMLName          xml.Name  `xml:"bibs"`
	TotalRecordCount int       `xml:"total_record_count,attr"`
	Bibs             []almaBib `xml:"bib"`
}

type almaBib struct {
	MMSID  string `xml:"mms_id"`
	Title  string `xml:"title"`
	Author string `xml:"author"`
	Date   string `xml:"date_of_publication"`
}

// AlmaMatch is a record found in the institutional catalog
type AlmaMatch struct {
	MMSID  string
	Title  string
	Author string
	Date   string
}

// AlmaClient answers whether an OCLC number already exists in the
// institution's own catalog. The identifier is queried in more than
// one spelling because records arrive with and without the registry
// prefix.
type AlmaClient struct {
	http   *httpClient
	cfg    core.AlmaConfig
	logger core.Logger
}

// NewAlmaClient wires the Alma client with its own rate limiter
func NewAlmaClient(cfg core.AlmaConfig, limiter *resilience.ServiceLimiter,
	retry *resilience.RetryConfig, logger core.Logger) *AlmaClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AlmaClient{
		http:   newHTTPClient("alma", 60*time.Second, limiter, retry, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// identifierSpellings returns the query forms tried for one OCLC number
func identifierSpellings(oclcNumber string) []string {
	return []string{
		"(OCoLC)" + oclcNumber,
		oclcNumber,
	}
}

// Verify looks the OCLC number up in the local catalog. A nil match
// with a nil error means the record is not held.
func (c *AlmaClient) Verify(ctx context.Context, oclcNumber string) (*AlmaMatch, error) {
	for _, spelling := range identifierSpellings(oclcNumber) {
		match, err := c.lookup(ctx, spelling)
		if err != nil {
			return nil, err
		}
		if match != nil {
			c.logger.Info("Record held in local catalog", map[string]interface{}{
				"operation":   "alma_verify_held",
				"oclc_number": oclcNumber,
				"mms_id":      match.MMSID,
			})
			return match, nil
		}
	}
	return nil, nil
}

func (c *AlmaClient) lookup(ctx context.Context, systemID string) (*AlmaMatch, error) {
	params := url.Values{}
	params.Set("other_system_id", systemID)
	params.Set("view", "brief")
	rawURL := c.cfg.BaseURL + "/bibs?" + params.Encode()

	body, err := c.http.get(ctx, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Authorization", "apikey "+c.cfg.APIKey)
		req.Header.Set("Accept", "application/xml")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed almaBibs
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse alma response: %v: %w", err, core.ErrParse)
	}

	if parsed.TotalRecordCount == 0 || len(parsed.Bibs) == 0 {
		return nil, nil
	}
	bib := parsed.Bibs[0]
	return &AlmaMatch{
		MMSID:  bib.MMSID,
		Title:  bib.Title,
		Author: bib.Author,
		Date:   bib.Date,
	}, nil
}
