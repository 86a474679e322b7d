package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/utlibraries/mediacat/catalog"
	"github.com/utlibraries/mediacat/core"
)

// runDispose is stage 5: resolve duplicates within the run, verify
// survivors against the institutional catalog, and assign each item
// exactly one disposition group.
func (c *Controller) runDispose(ctx context.Context, pending []*core.Item) (int, int, error) {
	duplicateOf := c.resolveDuplicates(pending)

	type verdict struct {
		match *catalog.AlmaMatch
		err   error
	}
	verdicts := make(map[string]verdict, len(pending))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())

	for _, item := range pending {
		item := item
		if _, isDup := duplicateOf[item.Barcode]; isDup {
			continue
		}
		if item.Stage3.SelectedOCLC == "0" {
			continue
		}
		g.Go(func() error {
			match, err := c.alma.Verify(gctx, item.Stage3.SelectedOCLC)
			mu.Lock()
			verdicts[item.Barcode] = verdict{match: match, err: err}
			mu.Unlock()
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	succeeded, failed := 0, 0
	for _, item := range pending {
		rec := &core.Stage5Record{}

		if keeper, isDup := duplicateOf[item.Barcode]; isDup {
			rec.Group = core.GroupDuplicate
			rec.Duplicate = true
			rec.DuplicateOf = keeper
		} else {
			v := verdicts[item.Barcode]
			if v.err != nil {
				failed++
				if err := c.failItem(ctx, item.Barcode, core.StageDispose, v.err); err != nil {
					return succeeded, failed, err
				}
				continue
			}
			switch {
			case v.match != nil:
				rec.Group = core.GroupHeldByInstitution
				rec.HeldByInstitution = true
				rec.MMSID = v.match.MMSID
				rec.AuthTitle = v.match.Title
				rec.AuthAuthor = v.match.Author
				rec.AuthDate = v.match.Date
			// A selected number absent from the candidate list never
			// reaches the auto-upload file, whatever its confidence
			case item.FinalConfidence() >= c.cfg.HighConfidenceThreshold &&
				item.Stage3.SelectedOCLC != "0" && !item.Stage3.NotInCandidates:
				rec.Group = core.GroupAlmaBatchUpload
			default:
				rec.Group = core.GroupCatalogerReview
			}
		}

		err := c.store.Update(ctx, item.Barcode, func(it *core.Item) error {
			it.Stage5 = rec
			return it.AdvanceTo(core.StageDispose.DoneStatus())
		})
		if err != nil {
			return succeeded, failed, err
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// resolveDuplicates groups items that share a selected OCLC number or
// a near-identical title, keeping the highest-confidence member of
// each group. Ties keep the first-seen barcode. Returns losers mapped
// to the barcode of their kept peer.
func (c *Controller) resolveDuplicates(pending []*core.Item) map[string]string {
	threshold := c.cfg.DuplicateTitleThreshold
	if threshold <= 0 {
		threshold = 0.9
	}

	type winner struct {
		item  *core.Item
		title string
	}
	var winners []*winner
	duplicateOf := make(map[string]string)

	itemTitle := func(it *core.Item) string {
		if it.Stage1 != nil && it.Stage1.Metadata != nil {
			return it.Stage1.Metadata.Title
		}
		return ""
	}
	sameRecord := func(a *core.Item, w *winner, title string) bool {
		if a.Stage3.SelectedOCLC != "0" && a.Stage3.SelectedOCLC == w.item.Stage3.SelectedOCLC {
			return true
		}
		if title == "" || w.title == "" {
			return false
		}
		return TitleSimilarity(title, w.title, c.profile.LeadingArticles) >= threshold
	}

	for _, item := range pending {
		title := itemTitle(item)
		matched := false
		for _, w := range winners {
			if !sameRecord(item, w, title) {
				continue
			}
			matched = true
			// Higher confidence wins the group; the earlier item wins ties
			if item.FinalConfidence() > w.item.FinalConfidence() {
				duplicateOf[w.item.Barcode] = item.Barcode
				// Re-point earlier losers at the new keeper
				for loser, keeper := range duplicateOf {
					if keeper == w.item.Barcode {
						duplicateOf[loser] = item.Barcode
					}
				}
				w.item, w.title = item, title
			} else {
				duplicateOf[item.Barcode] = w.item.Barcode
			}
			break
		}
		if !matched {
			winners = append(winners, &winner{item: item, title: title})
		}
	}

	c.logDuplicates(duplicateOf)
	return duplicateOf
}

func (c *Controller) logDuplicates(duplicateOf map[string]string) {
	for loser, keeper := range duplicateOf {
		c.logger.Info("Duplicate detected", map[string]interface{}{
			"operation": "dispose_duplicate",
			"barcode":   loser,
			"kept":      keeper,
		})
	}
}
