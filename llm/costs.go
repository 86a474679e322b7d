package llm

import (
	"sync"
	"time"

	"github.com/utlibraries/mediacat/core"
)

// ModelPrice is the per-million-token price for one model
type ModelPrice struct {
	PromptUSD     float64 `json:"prompt_usd"`
	CompletionUSD float64 `json:"completion_usd"`
}

// PriceTable maps model names to prices
type PriceTable map[string]ModelPrice

// DefaultPriceTable covers the models the pipeline runs by default.
// Unknown models record tokens with zero dollar cost.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gpt-4o":      {PromptUSD: 2.50, CompletionUSD: 10.00},
		"gpt-4o-mini": {PromptUSD: 0.15, CompletionUSD: 0.60},
		"gpt-4.1":     {PromptUSD: 2.00, CompletionUSD: 8.00},
	}
}

// CostEvent is one recorded LLM call
type CostEvent struct {
	Stage     string           `json:"stage"`
	RequestID string           `json:"request_id"`
	Model     string           `json:"model"`
	Usage     core.TokenUsage  `json:"usage"`
	Batch     bool             `json:"batch"`
	CostUSD   float64          `json:"cost_usd"`
	At        time.Time        `json:"at"`
}

// CostSummary aggregates the ledger for the run report
type CostSummary struct {
	Calls            int                `json:"calls"`
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	TotalUSD         float64            `json:"total_usd"`
	ByModel          map[string]float64 `json:"by_model"`
	ByStage          map[string]float64 `json:"by_stage"`
}

// CostLedger records token and dollar consumption per call.
// Events are append-only; workers call Record concurrently and the
// ledger serializes commits internally.
type CostLedger struct {
	mu       sync.Mutex
	prices   PriceTable
	discount float64 // multiplier applied to batch-mode calls
	events   []CostEvent
}

// NewCostLedger creates a ledger with the given price table and batch
// discount multiplier (0.5 means batch calls cost half).
func NewCostLedger(prices PriceTable, batchDiscount float64) *CostLedger {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	if batchDiscount <= 0 || batchDiscount > 1 {
		batchDiscount = 1
	}
	return &CostLedger{prices: prices, discount: batchDiscount}
}

// Record appends one call's consumption and returns its dollar cost
func (l *CostLedger) Record(stage, requestID, model string, usage core.TokenUsage, batch bool) float64 {
	price := l.prices[model]
	cost := float64(usage.PromptTokens)/1e6*price.PromptUSD +
		float64(usage.CompletionTokens)/1e6*price.CompletionUSD
	if batch {
		cost *= l.discount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, CostEvent{
		Stage:     stage,
		RequestID: requestID,
		Model:     model,
		Usage:     usage,
		Batch:     batch,
		CostUSD:   cost,
		At:        time.Now().UTC(),
	})
	return cost
}

// CostFor returns the recorded cost for one request within one stage
func (l *CostLedger) CostFor(stage, requestID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, e := range l.events {
		if e.Stage == stage && e.RequestID == requestID {
			total += e.CostUSD
		}
	}
	return total
}

// Events returns a copy of all recorded events
func (l *CostLedger) Events() []CostEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CostEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Summary aggregates the ledger
func (l *CostLedger) Summary() CostSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := CostSummary{
		ByModel: make(map[string]float64),
		ByStage: make(map[string]float64),
	}
	for _, e := range l.events {
		s.Calls++
		s.PromptTokens += e.Usage.PromptTokens
		s.CompletionTokens += e.Usage.CompletionTokens
		s.TotalUSD += e.CostUSD
		s.ByModel[e.Model] += e.CostUSD
		s.ByStage[e.Stage] += e.CostUSD
	}
	return s
}
