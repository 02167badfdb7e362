package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"showtime-api/models"
	"showtime-api/storage"
	"showtime-api/utils"
)

const window = 24 * time.Hour

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeExtractor returns canned movies per city and counts calls.
type fakeExtractor struct {
	mu      sync.Mutex
	movies  map[string][]models.Movie
	errs    map[string]error
	release chan struct{}
	calls   int64
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{movies: make(map[string][]models.Movie), errs: make(map[string]error)}
}

func (f *fakeExtractor) Extract(ctx context.Context, city string) ([]models.Movie, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[city]; err != nil {
		return nil, err
	}
	return f.movies[city], nil
}

func (f *fakeExtractor) set(city string, movies []models.Movie, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movies[city] = movies
	f.errs[city] = err
}

func (f *fakeExtractor) count() int64 { return atomic.LoadInt64(&f.calls) }

// memStore is an in-memory SnapshotStore with injectable failures.
type memStore struct {
	mu         sync.Mutex
	snaps      map[string]models.Snapshot
	readErr    error
	replaceErr error
	replaces   int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]models.Snapshot)}
}

func (m *memStore) Read(_ context.Context, city string, notBefore time.Time) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreRead, m.readErr)
	}
	s, ok := m.snaps[city]
	if !ok || !s.CapturedAt.After(notBefore) {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) Replace(_ context.Context, city string, movies []models.Movie, capturedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if m.replaceErr != nil {
		return fmt.Errorf("%w: %w", models.ErrStorePersist, m.replaceErr)
	}
	m.snaps[city] = models.Snapshot{City: city, Movies: append([]models.Movie{}, movies...), CapturedAt: capturedAt}
	return nil
}

func newSQLiteStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.SQLite, filepath.Join(t.TempDir(), "cache.db"), nil, utils.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMoviesSecondCallServedFromCache(t *testing.T) {
	store := newSQLiteStore(t)
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	clk := &clock{now: t0}
	r := NewRefresher(store, ext, window, utils.Discard(), WithClock(clk.Now))

	first, err := r.Movies(context.Background(), "cuttack")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.FromCache {
		t.Error("first call should extract")
	}

	clk.Set(t0.Add(time.Hour))
	second, err := r.Movies(context.Background(), "cuttack")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should be served from cache")
	}
	if ext.count() != 1 {
		t.Errorf("extractions: got %d, want 1", ext.count())
	}
	if !reflect.DeepEqual(first.Movies, second.Movies) {
		t.Errorf("cached movies differ:\n first  %v\n second %v", first.Movies, second.Movies)
	}
}

func TestMoviesFreshnessBoundary(t *testing.T) {
	const eps = time.Minute

	tests := []struct {
		name        string
		age         time.Duration
		wantExtract bool
	}{
		{"just inside window", window - eps, false},
		{"just past window", window + eps, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSQLiteStore(t)
			if err := store.Replace(context.Background(), "cuttack", sampleMovies()[:1], t0); err != nil {
				t.Fatal(err)
			}

			ext := newFakeExtractor()
			ext.set("cuttack", sampleMovies(), nil)
			clk := &clock{now: t0.Add(tt.age)}
			r := NewRefresher(store, ext, window, utils.Discard(), WithClock(clk.Now))

			res, err := r.Movies(context.Background(), "cuttack")
			if err != nil {
				t.Fatalf("Movies: %v", err)
			}
			if got := ext.count() == 1; got != tt.wantExtract {
				t.Errorf("extracted = %v; want %v", got, tt.wantExtract)
			}
			if res.FromCache == tt.wantExtract {
				t.Errorf("FromCache = %v; want %v", res.FromCache, !tt.wantExtract)
			}
		})
	}
}

func TestMoviesExtractionFailureDoesNotFallBackToStale(t *testing.T) {
	store := newSQLiteStore(t)
	stale := sampleMovies()[:2]
	if err := store.Replace(context.Background(), "cuttack", stale, t0); err != nil {
		t.Fatal(err)
	}

	ext := newFakeExtractor()
	ext.set("cuttack", nil, &models.ExtractionError{City: "cuttack", Err: errors.New("navigation failed")})
	clk := &clock{now: t0.Add(window + time.Hour)}
	r := NewRefresher(store, ext, window, utils.Discard(), WithClock(clk.Now))

	res, err := r.Movies(context.Background(), "cuttack")
	if !errors.Is(err, models.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v (result %+v)", err, res)
	}
	if res != nil {
		t.Errorf("failed request returned a result: %+v", res)
	}

	snap, err := store.Read(context.Background(), "cuttack", time.Time{})
	if err != nil || snap == nil {
		t.Fatalf("prior snapshot unreadable: %v", err)
	}
	if !reflect.DeepEqual(snap.Movies, stale) || !snap.CapturedAt.Equal(t0) {
		t.Errorf("prior snapshot modified: %+v", snap)
	}
}

func TestMoviesExtractionTimeoutLeavesCacheAbsent(t *testing.T) {
	store := newSQLiteStore(t)
	ext := newFakeExtractor()
	ext.set("puri", nil, &models.ExtractionError{City: "puri", Err: context.DeadlineExceeded})
	r := NewRefresher(store, ext, window, utils.Discard())

	if _, err := r.Movies(context.Background(), "puri"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	snap, err := store.Read(context.Background(), "puri", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("cache written after timed out extraction: %+v", snap)
	}
}

func TestMoviesPersistFailureStillServesFreshMovies(t *testing.T) {
	store := newMemStore()
	store.replaceErr = errors.New("disk full")
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	r := NewRefresher(store, ext, window, utils.Discard())

	res, err := r.Movies(context.Background(), "cuttack")
	if err != nil {
		t.Fatalf("persist failure must not fail the request: %v", err)
	}
	if !reflect.DeepEqual(res.Movies, sampleMovies()) {
		t.Errorf("movies = %v; want freshly extracted", res.Movies)
	}

	if _, err := r.Movies(context.Background(), "cuttack"); err != nil {
		t.Fatal(err)
	}
	if ext.count() != 2 {
		t.Errorf("extractions: got %d, want 2 (nothing was cached)", ext.count())
	}
}

func TestMoviesReadErrorTreatedAsMiss(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("connection reset")
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	r := NewRefresher(store, ext, window, utils.Discard())

	res, err := r.Movies(context.Background(), "cuttack")
	if err != nil {
		t.Fatalf("read error must not fail the request: %v", err)
	}
	if res.FromCache || ext.count() != 1 {
		t.Errorf("expected extraction after read error (FromCache=%v, calls=%d)", res.FromCache, ext.count())
	}
	if store.replaces != 1 {
		t.Errorf("replaces: got %d, want 1", store.replaces)
	}
}

func TestMoviesEmptyExtractionIsCached(t *testing.T) {
	store := newSQLiteStore(t)
	ext := newFakeExtractor()
	ext.set("puri", nil, nil)
	r := NewRefresher(store, ext, window, utils.Discard())

	first, err := r.Movies(context.Background(), "puri")
	if err != nil {
		t.Fatal(err)
	}
	if first.Movies == nil || len(first.Movies) != 0 {
		t.Errorf("movies = %#v; want empty slice", first.Movies)
	}

	second, err := r.Movies(context.Background(), "puri")
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || ext.count() != 1 {
		t.Errorf("empty snapshot not served from cache (FromCache=%v, calls=%d)", second.FromCache, ext.count())
	}
}

func TestMoviesDedupesConcurrentRefreshes(t *testing.T) {
	store := newMemStore()
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	ext.release = make(chan struct{})
	r := NewRefresher(store, ext, window, utils.Discard(), WithDedupe(true))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Movies(context.Background(), "cuttack")
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(ext.release)
	wg.Wait()

	if ext.count() != 1 {
		t.Errorf("extractions: got %d, want 1", ext.count())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %v", i, errs[i])
			continue
		}
		if !reflect.DeepEqual(results[i].Movies, sampleMovies()) {
			t.Errorf("caller %d got incomplete snapshot: %v", i, results[i].Movies)
		}
	}
}

func TestMoviesWithoutDedupeEveryCallerGetsCompleteSnapshot(t *testing.T) {
	store := newSQLiteStore(t)
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	r := NewRefresher(store, ext, window, utils.Discard(), WithDedupe(false))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Movies(context.Background(), "cuttack")
			if err != nil {
				t.Errorf("Movies: %v", err)
				return
			}
			if !reflect.DeepEqual(res.Movies, sampleMovies()) {
				t.Errorf("incomplete snapshot: %v", res.Movies)
			}
		}()
	}
	wg.Wait()
}
