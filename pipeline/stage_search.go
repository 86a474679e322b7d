package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/utlibraries/mediacat/core"
)

// runSearch is stage 2: construct queries from the cleaned metadata
// and run them against the union catalog. Items with no usable queries
// or no candidates still advance; stage 3 resolves them to confidence
// zero. Quota exhaustion aborts the stage.
func (c *Controller) runSearch(ctx context.Context, pending []*core.Item) (int, int, error) {
	var mu sync.Mutex
	succeeded, failed := 0, 0
	var abort error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())

	for _, item := range pending {
		item := item
		g.Go(func() error {
			queries := c.builder.Build(item.Stage1.Metadata, item.Stage15)

			var candidates []core.Candidate
			var queryLog []core.QueryAttempt
			if len(queries) > 0 {
				var err error
				candidates, queryLog, err = c.search.Search(gctx, queries, c.profile.ItemType, c.profile.ItemSubType)
				if err != nil {
					if core.IsQuotaExceeded(err) || fatal(err) {
						mu.Lock()
						if abort == nil {
							abort = err
						}
						mu.Unlock()
						return err
					}
					mu.Lock()
					failed++
					mu.Unlock()
					return c.failItem(gctx, item.Barcode, core.StageSearch, err)
				}
			} else {
				c.logger.Warn("No usable queries for item", map[string]interface{}{
					"operation": "search_no_queries",
					"barcode":   item.Barcode,
				})
			}

			if len(candidates) > 0 {
				if err := c.store.RecordCandidates(gctx, candidates); err != nil {
					return err
				}
			}

			rec := &core.Stage2Record{
				QueriesAttempted: queries,
				QueryLog:         queryLog,
				Candidates:       candidates,
			}
			err := c.store.Update(gctx, item.Barcode, func(it *core.Item) error {
				it.Stage2 = rec
				return it.AdvanceTo(core.StageSearch.DoneStatus())
			})
			if err != nil {
				return err
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return succeeded, failed, err
	}
	return succeeded, failed, abort
}

func (c *Controller) workers() int {
	if c.cfg.Workers > 0 {
		return c.cfg.Workers
	}
	return 5
}
