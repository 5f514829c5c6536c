package booking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs the expired booking sweep on a fixed interval.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewScheduler creates a cleanup scheduler.
func NewScheduler(service *Service, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger.With().Str("component", "cleanup").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler loop. It blocks until the context is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("cleanup scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cleanup scheduler stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.service.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("cleanup pass failed")
		return
	}
	if stats.Updated > 0 {
		s.logger.Info().
			Int("updated", stats.Updated).
			Int("codes_deleted", stats.PrimaryDeleted+stats.ExtraDeleted).
			Msg("cleanup pass reclaimed codes")
	}
}
