package service

import (
	"context"
	"errors"
	"log"
	"time"
)

// Runner is the single entry point the scheduler drives.
// Implemented by IngestionService.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// IngestionScheduler triggers periodic ingestion passes. Failed passes are
// retried with doubling backoff inside the tick; a pass that exhausts its
// retries waits for the next tick rather than spinning.
type IngestionScheduler struct {
	runner   Runner
	versions VersionStore

	interval   time.Duration
	maxRetries int
	backoff    time.Duration
}

// SchedulerOption is a functional option for IngestionScheduler
type SchedulerOption func(*IngestionScheduler)

// ScheduleWithInterval sets the period between passes
func ScheduleWithInterval(interval time.Duration) SchedulerOption {
	return func(s *IngestionScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// ScheduleWithRetries sets the retry count and initial backoff for a
// failed pass
func ScheduleWithRetries(retries int, backoff time.Duration) SchedulerOption {
	return func(s *IngestionScheduler) {
		if retries > 0 {
			s.maxRetries = retries
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// ScheduleWithVersionStore sets the store used for the staleness check
func ScheduleWithVersionStore(versions VersionStore) SchedulerOption {
	return func(s *IngestionScheduler) {
		s.versions = versions
	}
}

// NewIngestionScheduler creates a scheduler around a runner
func NewIngestionScheduler(runner Runner, opts ...SchedulerOption) *IngestionScheduler {
	s := &IngestionScheduler{
		runner:     runner,
		interval:   24 * time.Hour,
		maxRetries: 3,
		backoff:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start blocks, running passes until the context is cancelled. An immediate
// pass runs at startup only when the index looks stale.
func (s *IngestionScheduler) Start(ctx context.Context) {
	if s.isStale(ctx) {
		s.runWithRetry(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Ingestion scheduler stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.runWithRetry(ctx)
		}
	}
}

// isStale reports whether the last successful ingestion is older than one
// interval. No record at all counts as stale.
func (s *IngestionScheduler) isStale(ctx context.Context) bool {
	if s.versions == nil {
		return true
	}
	last, err := s.versions.LatestProcessedAt(ctx)
	if err != nil {
		log.Printf("Warning: staleness check failed: %v", err)
		return true
	}
	if last == nil {
		return true
	}
	return time.Since(*last) >= s.interval
}

func (s *IngestionScheduler) runWithRetry(ctx context.Context) {
	backoff := s.backoff

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.runner.RunOnce(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrIngestionInFlight) {
			// A manually triggered run is already covering this tick.
			log.Printf("Scheduled pass skipped: run already in progress")
			return
		}

		log.Printf("Scheduled ingestion attempt %d/%d failed: %v", attempt, s.maxRetries, err)
		if attempt == s.maxRetries {
			log.Printf("Scheduled ingestion exhausted retries, waiting for next tick")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
