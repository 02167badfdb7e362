package models

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction marks a failed scrape. The request cannot be answered.
	ErrExtraction = errors.New("extraction failed")
	// ErrStoreRead marks a failed cache read. Callers treat it as a cache miss.
	ErrStoreRead = errors.New("store read failed")
	// ErrStorePersist marks a failed cache replace. The prior snapshot is untouched.
	ErrStorePersist = errors.New("store persist failed")
)

// ExtractionError carries the city whose listings page could not be scraped.
type ExtractionError struct {
	City string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract movies for %s: %v", e.City, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }
