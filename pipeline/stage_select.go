package pipeline

import (
	"context"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// runSelect is stage 3: ask the selection model to pick the best
// candidate. Items without candidates resolve locally to confidence
// zero; the rest go through the executor, batch-eligible.
func (c *Controller) runSelect(ctx context.Context, pending []*core.Item) (int, int, error) {
	results := make(llm.Results, len(pending))
	var toSubmit []*core.LLMRequest
	byBarcode := make(map[string]*core.Item, len(pending))

	succeeded, failed := 0, 0
	for _, item := range pending {
		byBarcode[item.Barcode] = item

		if len(item.Stage2.Candidates) == 0 {
			rec := &core.Stage3Record{SelectedOCLC: "0", Confidence: 0,
				Explanation: "no candidates returned by catalog search"}
			err := c.store.Update(ctx, item.Barcode, func(it *core.Item) error {
				it.Stage3 = rec
				return it.AdvanceTo(core.StageSelect.DoneStatus())
			})
			if err != nil {
				return succeeded, failed, err
			}
			succeeded++
			continue
		}

		if r, ok := c.takeResumed(item.Barcode); ok {
			results[item.Barcode] = r
			continue
		}
		toSubmit = append(toSubmit, buildSelectionRequest(item, c.cfg.LLM.SelectionModel, c.cfg.LLM.MaxTokens))
	}

	if len(toSubmit) > 0 {
		submitted, err := c.executor.Submit(ctx, core.StageSelect, toSubmit, llm.ModeAuto)
		for id, r := range submitted {
			results[id] = r
		}
		if err != nil {
			return succeeded, failed, err
		}
	}

	for barcode, r := range results {
		item := byBarcode[barcode]
		if item == nil {
			continue
		}
		if r.Err != nil {
			failed++
			if err := c.failItem(ctx, barcode, core.StageSelect, r.Err); err != nil {
				return succeeded, failed, err
			}
			continue
		}

		c.respLog.Write(core.StageSelect, barcode, r.Response.Content)

		rec := ParseSelection(r.Response.Content, item.Stage2.Candidates)
		rec.Model = r.Response.Model
		rec.Usage = r.Response.Usage
		if c.ledger != nil {
			rec.CostUSD = c.ledger.CostFor(core.StageSelect.String(), barcode)
		}

		// A selected number absent from the candidate list carries an
		// explicit marker instead of being silently trusted
		if rec.SelectedOCLC != "0" && findCandidate(item.Stage2.Candidates, rec.SelectedOCLC) == nil {
			rec.NotInCandidates = true
			rec.Flagged = true
		}

		err := c.store.Update(ctx, barcode, func(it *core.Item) error {
			it.Stage3 = rec
			return it.AdvanceTo(core.StageSelect.DoneStatus())
		})
		if err != nil {
			return succeeded, failed, err
		}
		succeeded++
	}
	return succeeded, failed, nil
}

func findCandidate(candidates []core.Candidate, oclc string) *core.Candidate {
	for i := range candidates {
		if candidates[i].OCLCNumber == oclc {
			return &candidates[i]
		}
	}
	return nil
}
