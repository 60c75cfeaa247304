package syncer

import (
	"context"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/stages"
)

// syncStages refreshes the cached responses of every configured custom
// stage. Stages are independent of each other; one failing stage is logged
// and skipped.
func (e *Engine) syncStages(ctx context.Context, dryRun bool, report *Report) error {
	for _, def := range e.stages {
		responses, err := stages.FetchResponses(ctx, e.v2, e.venueID, def)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch stage %s: %v", def.Name, err)
			continue
		}
		report.StageResponses += len(responses)
		if dryRun {
			continue
		}
		if err := e.store.Put(cache.KindTask, def.CacheKey(), responses); err != nil {
			return err
		}
	}
	return nil
}
