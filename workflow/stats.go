package workflow

import (
	"context"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
)

const statsCacheKey = "ReviewStats"

// Stats returns workflow-wide counters. Results are cached in redis briefly;
// the dashboard polls this aggressively.
func (e *Engine) Stats(ctx context.Context) (*ReviewStats, error) {
	var cached ReviewStats
	exists, err := config.GetRedisObject(statsCacheKey, &cached)
	if err == nil && exists {
		return &cached, nil
	}

	// Best-effort lock so only one instance recomputes on a cold cache.
	// If the lock is unavailable we compute anyway; stats are read-only.
	if locker := config.GetRedisLock(); locker != nil {
		if lock, lockErr := locker.Obtain(ctx, "lock:review-stats", 10*time.Second, nil); lockErr == nil {
			defer lock.Release(ctx)
		}
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(statsCacheKey, stats, 30*time.Second)
	return stats, nil
}

func (e *Engine) invalidateStatsCache() {
	_ = config.RemoveRedisKey(statsCacheKey)
}
