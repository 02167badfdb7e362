package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"showtime-api/models"
	"showtime-api/storage"
	"showtime-api/utils"
)

// Extractor scrapes a city's current movies.
type Extractor interface {
	Extract(ctx context.Context, city string) ([]models.Movie, error)
}

// Result is the outcome of one Refresher.Movies call.
type Result struct {
	City       string
	Movies     []models.Movie
	CapturedAt time.Time
	FromCache  bool
}

// Refresher serves a city's snapshot from the store while it is fresh and
// re-extracts it otherwise. A failed extraction fails the call; a failed
// store write does not.
type Refresher struct {
	store     storage.SnapshotStore
	extractor Extractor
	window    time.Duration
	now       func() time.Time
	dedupe    bool
	group     singleflight.Group
	logger    *utils.Logger
}

// RefresherOption customizes a Refresher.
type RefresherOption func(*Refresher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithDedupe collapses concurrent refreshes of the same city into one
// extraction whose result every waiter receives.
func WithDedupe(enabled bool) RefresherOption {
	return func(r *Refresher) { r.dedupe = enabled }
}

// NewRefresher creates a Refresher over the given store and extractor.
func NewRefresher(store storage.SnapshotStore, extractor Extractor, window time.Duration, logger *utils.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:     store,
		extractor: extractor,
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StaleBefore returns the capture time at or before which a snapshot is stale.
func (r *Refresher) StaleBefore() time.Time {
	return r.now().Add(-r.window)
}

// Movies returns the city's movies, extracting and persisting a new snapshot
// when the stored one is absent or stale.
func (r *Refresher) Movies(ctx context.Context, city string) (*Result, error) {
	now := r.now()

	snap, err := r.store.Read(ctx, city, now.Add(-r.window))
	if err != nil {
		r.logger.Warn("[refresh] Cache read for %s failed, treating as miss: %v", city, err)
	} else if snap != nil && snap.FreshAt(now, r.window) {
		r.logger.Info("[refresh] Returning %d cached movies for %s", len(snap.Movies), city)
		return &Result{City: city, Movies: snap.Movies, CapturedAt: snap.CapturedAt, FromCache: true}, nil
	}

	if !r.dedupe {
		return r.refresh(ctx, city)
	}

	// The shared extraction must not die with whichever caller started it;
	// the extractor's own timeout bounds it.
	v, err, shared := r.group.Do(city, func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx), city)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("[refresh] Joined in-flight refresh for %s", city)
	}
	return v.(*Result), nil
}

func (r *Refresher) refresh(ctx context.Context, city string) (*Result, error) {
	r.logger.Info("[refresh] No fresh snapshot for %s, extracting...", city)

	movies, err := r.extractor.Extract(ctx, city)
	if err != nil {
		return nil, err
	}
	if movies == nil {
		movies = []models.Movie{}
	}

	capturedAt := r.now()
	if err := r.store.Replace(ctx, city, movies, capturedAt); err != nil {
		r.logger.Error("[refresh] Failed to save %d movies for %s: %v", len(movies), city, err)
	} else {
		r.logger.Info("[refresh] Saved %d movies for %s", len(movies), city)
	}

	return &Result{City: city, Movies: movies, CapturedAt: capturedAt}, nil
}
