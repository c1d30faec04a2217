package service

import (
	"context"
	"log"
	"sync"
	"time"

	"stockhold-api/internal/repository"
)

// SweeperConfig holds configuration for the expiry sweeper.
type SweeperConfig struct {
	// Interval is how often the sweep runs.
	// Default: 5 minutes
	Interval time.Duration

	// Timeout bounds a single sweep run.
	// Default: 1 minute
	Timeout time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 5 * time.Minute,
		Timeout:  time.Minute,
	}
}

// SweepScheduler periodically deletes expired reservations, returning their
// held quantity to availability. Expiry is lazy everywhere else (availability
// queries ignore lapsed holds), so the sweeper only keeps the reservations
// table small; running it late never over-sells.
type SweepScheduler struct {
	repo      repository.StockRepository
	config    SweeperConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewSweepScheduler creates a new sweep scheduler.
func NewSweepScheduler(repo repository.StockRepository, config SweeperConfig) *SweepScheduler {
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}

	return &SweepScheduler{
		repo:   repo,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Printf("[SweepScheduler] Started - Interval: %v", s.config.Interval)

	go s.run()
}

// run is the main sweep loop.
func (s *SweepScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runSweep()
		case <-s.stopCh:
			log.Printf("[SweepScheduler] Stopped")
			return
		}
	}
}

// runSweep performs one sweep. The reference instant is captured before the
// delete runs, so reservations created mid-sweep are never touched.
func (s *SweepScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	swept, err := s.repo.SweepExpired(ctx, time.Now())
	if err != nil {
		log.Printf("[SweepScheduler] Error during sweep: %v", err)
		return
	}

	if swept > 0 {
		log.Printf("[SweepScheduler] Reclaimed %d expired reservations", swept)
	}
}

// Stop stops the sweep scheduler.
func (s *SweepScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate sweep at the given instant and returns the
// number of reclaimed reservations.
func (s *SweepScheduler) RunNow(now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	return s.repo.SweepExpired(ctx, now)
}
