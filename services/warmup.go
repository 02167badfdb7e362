package services

import (
	"context"
	"sync"
	"time"

	"showtime-api/utils"
)

// Purger removes physically stale snapshots.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// WarmupReport summarizes a warm-up run.
type WarmupReport struct {
	Cached    []string
	Refreshed []string
	Failed    map[string]error
}

// Warmup fills the cache for a fixed set of cities at startup.
type Warmup struct {
	refresher   *Refresher
	purger      Purger
	concurrency int
	logger      *utils.Logger
}

// NewWarmup creates a Warmup. purger may be nil.
func NewWarmup(refresher *Refresher, purger Purger, concurrency int, logger *utils.Logger) *Warmup {
	return &Warmup{refresher: refresher, purger: purger, concurrency: concurrency, logger: logger}
}

// Run refreshes every city through a bounded worker pool. A city that fails
// is logged and skipped; the others still run.
func (w *Warmup) Run(ctx context.Context, cities []string) *WarmupReport {
	report := &WarmupReport{Failed: make(map[string]error)}
	w.logger.Info("[warmup] Starting initial movie extraction for cities: %v", cities)

	if w.purger != nil {
		if n, err := w.purger.Purge(ctx, w.refresher.StaleBefore()); err != nil {
			w.logger.Warn("[warmup] Purge of stale snapshots failed: %v", err)
		} else if n > 0 {
			w.logger.Info("[warmup] Purged %d stale movie rows", n)
		}
	}

	var mu sync.Mutex
	pool := utils.NewWorkerPool(w.concurrency, 0)

	for _, city := range cities {
		city := city
		pool.Submit(func() {
			if ctx.Err() != nil {
				mu.Lock()
				report.Failed[city] = ctx.Err()
				mu.Unlock()
				return
			}

			res, err := w.refresher.Movies(ctx, city)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				w.logger.Error("[warmup] Failed to warm %s: %v", city, err)
				report.Failed[city] = err
			case res.FromCache:
				w.logger.Info("[warmup] Found %d cached movies for %s, skipping extraction", len(res.Movies), city)
				report.Cached = append(report.Cached, city)
			default:
				w.logger.Info("[warmup] Warmed %s with %d movies", city, len(res.Movies))
				report.Refreshed = append(report.Refreshed, city)
			}
		})
	}
	pool.Wait()

	w.logger.Info("[warmup] Initial movie extraction completed: %d cached, %d refreshed, %d failed",
		len(report.Cached), len(report.Refreshed), len(report.Failed))
	return report
}
