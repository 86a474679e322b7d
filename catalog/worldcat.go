package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/resilience"
)

// Wire types for the discovery search endpoint

type briefBibResponse struct {
	NumberOfRecords int           `json:"numberOfRecords"`
	BriefRecords    []briefRecord `json:"briefRecords"`
}

type briefRecord struct {
	OCLCNumber     string   `json:"oclcNumber"`
	Title          string   `json:"title"`
	Creator        string   `json:"creator"`
	Contributors   []string `json:"contributors"`
	Publisher      string   `json:"publisher"`
	Date           string   `json:"date"`
	GeneralFormat  string   `json:"generalFormat"`
	SpecificFormat string   `json:"specificFormat"`
	TrackTitles    []string `json:"trackTitles"`
}

// SearchClient queries the union catalog with an ordered list of
// queries and returns holdings-enriched candidates. Authentication is
// an OAuth2 client-credentials token with the wcapi scope, cached by
// the token source and re-minted after a 401.
type SearchClient struct {
	http     *httpClient
	holdings *HoldingsClient
	cfg      core.WorldCatConfig
	logger   core.Logger

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewSearchClient wires the search client. The limiter is shared with
// the holdings client so both endpoints draw from one request budget.
func NewSearchClient(cfg core.WorldCatConfig, limiter *resilience.ServiceLimiter,
	retry *resilience.RetryConfig, logger core.Logger) *SearchClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	c := &SearchClient{
		http:   newHTTPClient("worldcat", 60*time.Second, limiter, retry, logger),
		cfg:    cfg,
		logger: logger,
	}
	c.holdings = &HoldingsClient{search: c}
	return c
}

// Holdings returns the holdings client bound to this search client
func (c *SearchClient) Holdings() *HoldingsClient {
	return c.holdings
}

// token returns a cached bearer token, minting one on first use.
// The token source owns its own HTTP context because it outlives any
// single request.
func (c *SearchClient) token() (string, error) {
	c.mu.Lock()
	if c.tokens == nil {
		cc := &clientcredentials.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			TokenURL:     c.cfg.TokenURL,
			Scopes:       []string{"wcapi"},
		}
		c.tokens = cc.TokenSource(context.Background())
	}
	src := c.tokens
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("worldcat token: %v: %w", err, core.ErrAuthentication)
	}
	return tok.AccessToken, nil
}

// resetToken discards the cached token source so the next call mints
// a fresh token
func (c *SearchClient) resetToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// authorizedGet runs a GET with the bearer token, re-minting the token
// and retrying once when the service rejects it.
func (c *SearchClient) authorizedGet(ctx context.Context, rawURL string) ([]byte, error) {
	build := func() (*http.Request, error) {
		tok, tokErr := c.token()
		if tokErr != nil {
			return nil, tokErr
		}
		req, reqErr := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	body, err := c.http.get(ctx, build)
	if err != nil && errors.Is(err, core.ErrAuthentication) {
		c.logger.Warn("WorldCat token rejected, re-authenticating", map[string]interface{}{
			"operation": "worldcat_token_refresh",
		})
		c.resetToken()
		body, err = c.http.get(ctx, build)
	}
	return body, err
}

// Search attempts the queries in priority order. Queries whose hit
// count exceeds the broad-query threshold are skipped; the first query
// returning usable records wins and its candidates are returned with
// holdings attached. The query log records every attempt.
func (c *SearchClient) Search(ctx context.Context, queries []string, itemType, subType string) ([]core.Candidate, []core.QueryAttempt, error) {
	var log []core.QueryAttempt

	for _, q := range queries {
		attempt := core.QueryAttempt{Query: q}

		resp, err := c.searchOne(ctx, q, itemType, subType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, log, ctx.Err()
			}
			if core.IsQuotaExceeded(err) {
				return nil, log, err
			}
			attempt.Reason = err.Error()
			log = append(log, attempt)
			c.logger.Warn("Search query failed", map[string]interface{}{
				"operation": "worldcat_query_failed",
				"query":     q,
				"error":     err.Error(),
			})
			continue
		}

		attempt.HitCount = resp.NumberOfRecords
		if c.cfg.BroadQueryThreshold > 0 && resp.NumberOfRecords > c.cfg.BroadQueryThreshold {
			attempt.Skipped = true
			attempt.Reason = fmt.Sprintf("hit count %d exceeds broad query threshold %d",
				resp.NumberOfRecords, c.cfg.BroadQueryThreshold)
			log = append(log, attempt)
			continue
		}
		log = append(log, attempt)

		if len(resp.BriefRecords) == 0 {
			continue
		}

		candidates := make([]core.Candidate, 0, len(resp.BriefRecords))
		for _, rec := range resp.BriefRecords {
			cand := toCandidate(rec)
			holdings, hErr := c.holdings.Lookup(ctx, cand.OCLCNumber)
			if hErr != nil {
				if ctx.Err() != nil {
					return nil, log, ctx.Err()
				}
				c.logger.Warn("Holdings lookup failed", map[string]interface{}{
					"operation":   "worldcat_holdings_failed",
					"oclc_number": cand.OCLCNumber,
					"error":       hErr.Error(),
				})
			} else {
				cand.Holdings = *holdings
			}
			candidates = append(candidates, cand)
		}

		c.logger.Info("Search query matched", map[string]interface{}{
			"operation":  "worldcat_query_matched",
			"query":      q,
			"hit_count":  resp.NumberOfRecords,
			"candidates": len(candidates),
		})
		return candidates, log, nil
	}

	return nil, log, nil
}

// searchOne executes a single brief-bib search
func (c *SearchClient) searchOne(ctx context.Context, query, itemType, subType string) (*briefBibResponse, error) {
	limit := c.cfg.SearchLimit
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("q", query)
	if itemType != "" {
		params.Set("itemType", itemType)
	}
	if subType != "" {
		params.Set("itemSubType", subType)
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "1")

	body, err := c.authorizedGet(ctx, c.cfg.BaseURL+"/search/brief-bibs?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed briefBibResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %v: %w", err, core.ErrParse)
	}
	return &parsed, nil
}

func toCandidate(rec briefRecord) core.Candidate {
	contributors := rec.Contributors
	if rec.Creator != "" {
		contributors = append([]string{rec.Creator}, contributors...)
	}
	format := rec.SpecificFormat
	if format == "" {
		format = rec.GeneralFormat
	}
	return core.Candidate{
		OCLCNumber:   rec.OCLCNumber,
		Title:        rec.Title,
		Contributors: contributors,
		Publisher:    rec.Publisher,
		Date:         rec.Date,
		Format:       format,
		TrackTitles:  rec.TrackTitles,
	}
}
