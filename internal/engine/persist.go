package engine

import (
	"context"

	"github.com/quarrymath/quarry/internal/relation"
	"github.com/quarrymath/quarry/internal/telemetry"
)

// commitAttempts is the total number of tries for one relation batch. The
// store's append is transactional, so a failed attempt leaves nothing behind
// to clean up before the retry.
const commitAttempts = 3

// persistWithRetry commits a relation batch, retrying transient failures.
// On exhaustion it logs at error level with full detail and reports false:
// the relation goes unrecorded this run rather than aborting the job, and a
// later round or sub-job may rediscover and persist it.
func persistWithRetry(ctx context.Context, deps Deps, batch []relation.Relation) bool {
	if len(batch) == 0 {
		return true
	}
	var lastErr error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		lastErr = deps.Relations.AppendRelations(ctx, batch)
		if lastErr == nil {
			return true
		}
		if attempt < commitAttempts {
			telemetry.CommitRetries.WithLabelValues(deps.JobName).Inc()
			deps.logf("warn: commit attempt %d/%d failed, retrying: %v", attempt, commitAttempts, lastErr)
		}
	}
	deps.logf("error: dropping %d relations after %d failed commit attempts: %v",
		len(batch), commitAttempts, lastErr)
	return false
}
