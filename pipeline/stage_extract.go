package pipeline

import (
	"context"
	"fmt"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// takeResumed hands out a reclaimed batch result at most once
func (c *Controller) takeResumed(barcode string) (llm.Result, bool) {
	r, ok := c.resumed[barcode]
	if ok {
		delete(c.resumed, barcode)
	}
	return r, ok
}

// runExtract is stage 1: vision extraction of bibliographic metadata
// from the item's images. A re-run after failure overwrites any prior
// stage-1 fields rather than merging.
func (c *Controller) runExtract(ctx context.Context, pending []*core.Item) (int, int, error) {
	results := make(llm.Results, len(pending))
	var toSubmit []*core.LLMRequest
	failed := 0

	for _, item := range pending {
		if r, ok := c.takeResumed(item.Barcode); ok {
			results[item.Barcode] = r
			continue
		}
		req, err := buildExtractionRequest(item, c.profile, c.cfg.LLM.VisionModel, c.cfg.LLM.MaxTokens)
		if err != nil {
			if fatal(err) {
				return 0, failed, err
			}
			failed++
			if fErr := c.failItem(ctx, item.Barcode, core.StageExtract, err); fErr != nil {
				return 0, failed, fErr
			}
			continue
		}
		toSubmit = append(toSubmit, req)
	}

	if len(toSubmit) > 0 {
		submitted, err := c.executor.Submit(ctx, core.StageExtract, toSubmit, llm.ModeAuto)
		for id, r := range submitted {
			results[id] = r
		}
		if err != nil {
			return 0, failed, err
		}
	}

	succeeded := 0
	for _, item := range pending {
		r, ok := results[item.Barcode]
		if !ok {
			continue
		}
		if r.Err != nil {
			failed++
			if err := c.failItem(ctx, item.Barcode, core.StageExtract, r.Err); err != nil {
				return succeeded, failed, err
			}
			continue
		}

		c.respLog.Write(core.StageExtract, item.Barcode, r.Response.Content)

		md, parseErr := ParseMetadata(r.Response.Content)
		if parseErr != nil {
			failed++
			if err := c.failItem(ctx, item.Barcode, core.StageExtract,
				fmt.Errorf("extraction reply unusable: %w", parseErr)); err != nil {
				return succeeded, failed, err
			}
			continue
		}

		rec := &core.Stage1Record{
			RawText:    r.Response.Content,
			Metadata:   md,
			Model:      r.Response.Model,
			Usage:      r.Response.Usage,
			DurationMS: r.DurationMS,
		}
		if c.ledger != nil {
			rec.CostUSD = c.ledger.CostFor(core.StageExtract.String(), item.Barcode)
		}

		err := c.store.Update(ctx, item.Barcode, func(it *core.Item) error {
			it.Stage1 = rec
			return it.AdvanceTo(core.StageExtract.DoneStatus())
		})
		if err != nil {
			return succeeded, failed, err
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// runClean is stage 1.5: number and date normalization. Pure local
// work, so it runs in manifest order on one goroutine.
func (c *Controller) runClean(ctx context.Context, pending []*core.Item) (int, int, error) {
	succeeded := 0
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return succeeded, 0, err
		}
		md := item.Stage1.Metadata
		rec := CleanMetadata(md)

		err := c.store.Update(ctx, item.Barcode, func(it *core.Item) error {
			it.Stage1.Metadata = md
			it.Stage15 = rec
			return it.AdvanceTo(core.StageClean.DoneStatus())
		})
		if err != nil {
			return succeeded, 0, err
		}
		succeeded++
	}
	return succeeded, 0, nil
}
