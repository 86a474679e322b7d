package pipeline

import (
	"context"

	"github.com/utlibraries/mediacat/core"
)

// runVerify is stage 4: check high-confidence selections against the
// extracted track listing and publication year. Verification only
// demotes; an adjustment that would raise confidence is a data
// invariant violation and aborts the run.
func (c *Controller) runVerify(ctx context.Context, pending []*core.Item) (int, int, error) {
	succeeded := 0
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return succeeded, 0, err
		}

		var candidate *core.Candidate
		if item.Stage3.SelectedOCLC != "0" {
			candidate = findCandidate(item.Stage2.Candidates, item.Stage3.SelectedOCLC)
		}

		rec, err := c.verifier.Verify(item.Stage1.Metadata, candidate, item.Stage3.Confidence)
		if err != nil {
			return succeeded, 0, err
		}

		if rec.Adjustment != nil {
			c.logger.Info("Confidence demoted", map[string]interface{}{
				"operation": "verify_demotion",
				"barcode":   item.Barcode,
				"previous":  rec.Adjustment.Previous,
				"new":       rec.Adjustment.New,
				"reason":    rec.Adjustment.Reason,
			})
		}

		err = c.store.Update(ctx, item.Barcode, func(it *core.Item) error {
			it.Stage4 = rec
			return it.AdvanceTo(core.StageVerify.DoneStatus())
		})
		if err != nil {
			return succeeded, 0, err
		}
		succeeded++
	}
	return succeeded, 0, nil
}
