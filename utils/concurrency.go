package utils

import (
	"sync"
	"time"
)

// WorkerPool runs jobs on at most maxWorkers goroutines, spacing job starts
// by at least minInterval.
type WorkerPool struct {
	minInterval time.Duration
	semaphore   chan struct{}
	wg          sync.WaitGroup

	mu        sync.Mutex
	lastStart time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and start spacing.
func NewWorkerPool(maxWorkers int, minInterval time.Duration) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		minInterval: minInterval,
		semaphore:   make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job, blocking while all workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.waitTurn()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) waitTurn() {
	if wp.minInterval <= 0 {
		return
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.lastStart.IsZero() {
		if elapsed := time.Since(wp.lastStart); elapsed < wp.minInterval {
			time.Sleep(wp.minInterval - elapsed)
		}
	}
	wp.lastStart = time.Now()
}

// URLSet is a thread-safe set of hrefs.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
