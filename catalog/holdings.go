package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/utlibraries/mediacat/core"
)

// Wire types for the bibs-holdings endpoint

type bibHoldingsResponse struct {
	NumberOfRecords int `json:"numberOfRecords"`
	BriefRecords    []struct {
		OCLCNumber         string             `json:"oclcNumber"`
		InstitutionHolding institutionHolding `json:"institutionHolding"`
	} `json:"briefRecords"`
}

type institutionHolding struct {
	TotalHoldingCount int `json:"totalHoldingCount"`
	BriefHoldings     []struct {
		OCLCSymbol string `json:"oclcSymbol"`
	} `json:"briefHoldings"`
}

// HoldingsClient enriches candidates with who holds them. It shares
// the search client's token, limiter and retry policy since both talk
// to the same service under one request budget.
type HoldingsClient struct {
	search *SearchClient
}

// Lookup fetches the holdings summary for one OCLC number
func (h *HoldingsClient) Lookup(ctx context.Context, oclcNumber string) (*core.Holdings, error) {
	params := url.Values{}
	params.Set("oclcNumber", oclcNumber)

	body, err := h.search.authorizedGet(ctx, h.search.cfg.BaseURL+"/search/bibs-holdings?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed bibHoldingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse holdings response: %v: %w", err, core.ErrParse)
	}

	out := &core.Holdings{}
	for _, rec := range parsed.BriefRecords {
		out.TotalHoldingCount += rec.InstitutionHolding.TotalHoldingCount
		for _, held := range rec.InstitutionHolding.BriefHoldings {
			out.InstitutionSymbols = append(out.InstitutionSymbols, held.OCLCSymbol)
			if held.OCLCSymbol == h.search.cfg.InstitutionSymbol {
				out.HeldByInstitution = true
			}
		}
	}
	return out, nil
}
