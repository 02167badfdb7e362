package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"showtime-api/models"
	"showtime-api/utils"
)

type recordingPurger struct {
	cutoffs []time.Time
}

func (p *recordingPurger) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 0, nil
}

func TestWarmupSkipsFailedCity(t *testing.T) {
	store := newMemStore()
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	ext.set("bhubaneswar", nil, &models.ExtractionError{City: "bhubaneswar", Err: errors.New("timeout")})
	ext.set("puri", sampleMovies()[:1], nil)

	clk := &clock{now: t0}
	r := NewRefresher(store, ext, window, utils.Discard(), WithClock(clk.Now))
	purger := &recordingPurger{}
	w := NewWarmup(r, purger, 2, utils.Discard())

	report := w.Run(context.Background(), []string{"cuttack", "bhubaneswar", "puri"})

	sort.Strings(report.Refreshed)
	if len(report.Refreshed) != 2 || report.Refreshed[0] != "cuttack" || report.Refreshed[1] != "puri" {
		t.Errorf("Refreshed = %v; want [cuttack puri]", report.Refreshed)
	}
	if err, ok := report.Failed["bhubaneswar"]; !ok || !errors.Is(err, models.ErrExtraction) {
		t.Errorf("Failed = %v; want bhubaneswar extraction error", report.Failed)
	}
	if _, ok := store.snaps["cuttack"]; !ok {
		t.Error("cuttack not persisted")
	}
	if _, ok := store.snaps["bhubaneswar"]; ok {
		t.Error("failed city must not be persisted")
	}

	if len(purger.cutoffs) != 1 || !purger.cutoffs[0].Equal(t0.Add(-window)) {
		t.Errorf("purge cutoffs = %v; want [%v]", purger.cutoffs, t0.Add(-window))
	}
}

func TestWarmupSecondRunHitsCache(t *testing.T) {
	store := newMemStore()
	ext := newFakeExtractor()
	ext.set("cuttack", sampleMovies(), nil)
	r := NewRefresher(store, ext, window, utils.Discard())
	w := NewWarmup(r, nil, 1, utils.Discard())

	w.Run(context.Background(), []string{"cuttack"})
	report := w.Run(context.Background(), []string{"cuttack"})

	if len(report.Cached) != 1 || report.Cached[0] != "cuttack" {
		t.Errorf("Cached = %v; want [cuttack]", report.Cached)
	}
	if ext.count() != 1 {
		t.Errorf("extractions: got %d, want 1", ext.count())
	}
}

func TestWarmupCancelledContext(t *testing.T) {
	ext := newFakeExtractor()
	r := NewRefresher(newMemStore(), ext, window, utils.Discard())
	w := NewWarmup(r, nil, 1, utils.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := w.Run(ctx, []string{"cuttack", "puri"})
	if len(report.Failed) != 2 {
		t.Errorf("Failed = %v; want both cities", report.Failed)
	}
	if ext.count() != 0 {
		t.Errorf("extractions: got %d, want 0", ext.count())
	}
}
