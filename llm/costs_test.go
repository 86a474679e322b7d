package llm

import (
	"math"
	"testing"

	"github.com/utlibraries/mediacat/core"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLedgerRecordSync(t *testing.T) {
	ledger := NewCostLedger(nil, 0.5)
	usage := core.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000, TotalTokens: 1_100_000}

	cost := ledger.Record("stage1", "item_001", "gpt-4o", usage, false)
	// 1M prompt at $2.50 + 100k completion at $10.00
	want := 2.50 + 1.00
	if !approxEqual(cost, want) {
		t.Errorf("cost = %f, want %f", cost, want)
	}
}

func TestLedgerRecordBatchDiscount(t *testing.T) {
	ledger := NewCostLedger(nil, 0.5)
	usage := core.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 0}

	sync := ledger.Record("stage1", "a", "gpt-4o", usage, false)
	batch := ledger.Record("stage1", "b", "gpt-4o", usage, true)
	if !approxEqual(batch, sync/2) {
		t.Errorf("batch cost %f should be half of sync cost %f", batch, sync)
	}
}

func TestLedgerUnknownModel(t *testing.T) {
	ledger := NewCostLedger(nil, 0.5)
	usage := core.TokenUsage{PromptTokens: 500, CompletionTokens: 500, TotalTokens: 1000}

	cost := ledger.Record("stage3", "item_001", "experimental-model", usage, false)
	if cost != 0 {
		t.Errorf("unknown model should record zero cost, got %f", cost)
	}

	// Tokens still count toward the summary
	s := ledger.Summary()
	if s.PromptTokens != 500 || s.CompletionTokens != 500 {
		t.Errorf("tokens not aggregated: %+v", s)
	}
}

func TestLedgerSummary(t *testing.T) {
	ledger := NewCostLedger(nil, 0.5)
	usage := core.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}

	ledger.Record("stage1", "a", "gpt-4o", usage, false)      // 12.50
	ledger.Record("stage1", "b", "gpt-4o-mini", usage, false) // 0.75
	ledger.Record("stage3", "c", "gpt-4o", usage, true)       // 6.25

	s := ledger.Summary()
	if s.Calls != 3 {
		t.Errorf("calls = %d, want 3", s.Calls)
	}
	if s.PromptTokens != 3_000_000 {
		t.Errorf("prompt tokens = %d", s.PromptTokens)
	}
	if !approxEqual(s.TotalUSD, 12.50+0.75+6.25) {
		t.Errorf("total = %f", s.TotalUSD)
	}
	if !approxEqual(s.ByStage["stage1"], 13.25) {
		t.Errorf("stage1 = %f", s.ByStage["stage1"])
	}
	if !approxEqual(s.ByModel["gpt-4o"], 18.75) {
		t.Errorf("gpt-4o = %f", s.ByModel["gpt-4o"])
	}
}

func TestLedgerInvalidDiscountDisables(t *testing.T) {
	ledger := NewCostLedger(nil, 0)
	usage := core.TokenUsage{PromptTokens: 1_000_000}

	cost := ledger.Record("stage1", "a", "gpt-4o", usage, true)
	if !approxEqual(cost, 2.50) {
		t.Errorf("invalid discount should fall back to full price, got %f", cost)
	}
}
