package models

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSnapshotFreshAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just captured", 0, true},
		{"inside window", window - time.Second, true},
		{"exactly window", window, false},
		{"past window", window + time.Second, false},
	}

	for _, tt := range tests {
		s := &Snapshot{City: "cuttack", CapturedAt: now.Add(-tt.age)}
		if got := s.FreshAt(now, window); got != tt.want {
			t.Errorf("%s: FreshAt = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestExtractionErrorMatching(t *testing.T) {
	err := error(&ExtractionError{City: "cuttack", Err: context.DeadlineExceeded})

	if !errors.Is(err, ErrExtraction) {
		t.Error("expected errors.Is(err, ErrExtraction)")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected the cause to stay reachable")
	}
	if errors.Is(err, ErrStoreRead) {
		t.Error("extraction error must not match ErrStoreRead")
	}
}
