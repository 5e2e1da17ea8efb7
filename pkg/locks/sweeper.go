package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSweeperAlreadyRunning is returned when starting a running sweeper
	ErrSweeperAlreadyRunning = errors.New("sweeper already running")
)

// DefaultSweepInterval is the default time between maintenance sweeps
const DefaultSweepInterval = time.Minute

// SessionReaper ends sessions that have been idle past their timeout
type SessionReaper interface {
	EndIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// PresenceSweeper marks users offline whose heartbeats have gone stale
type PresenceSweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time) int
}

// SweeperConfig tunes the maintenance loop
type SweeperConfig struct {
	Interval             time.Duration
	SessionIdleTimeout   time.Duration
	PresenceStaleTimeout time.Duration
}

// Sweeper periodically releases expired locks, ends idle sessions, and
// sweeps stale presence entries
type Sweeper struct {
	registry *Registry
	sessions SessionReaper
	presence PresenceSweeper
	config   SweeperConfig
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewSweeper creates a maintenance sweeper
func NewSweeper(registry *Registry, sessions SessionReaper, presence PresenceSweeper, config SweeperConfig, logger ectologger.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.SessionIdleTimeout <= 0 {
		config.SessionIdleTimeout = 30 * time.Minute
	}
	if config.PresenceStaleTimeout <= 0 {
		config.PresenceStaleTimeout = 2 * time.Minute
	}

	return &Sweeper{
		registry: registry,
		sessions: sessions,
		presence: presence,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting sweeper: interval=%s session_idle=%s",
		s.config.Interval, s.config.SessionIdleTimeout)

	go s.sweepLoop(ctx)
	return nil
}

// Stop stops the sweeper gracefully
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Sweeper stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Sweeper shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSweep(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Sweeper loop stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "locks.Sweeper.runSweep")
	defer span.End()

	now := time.Now().UTC()

	expired, err := s.registry.CleanupExpiredLocks(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to clean up expired locks")
	}

	var idle int
	if s.sessions != nil {
		idle, err = s.sessions.EndIdleSessions(ctx, now.Add(-s.config.SessionIdleTimeout))
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to end idle sessions")
		}
	}

	var stale int
	if s.presence != nil {
		stale = s.presence.SweepStale(ctx, now.Add(-s.config.PresenceStaleTimeout))
	}

	if expired > 0 || idle > 0 || stale > 0 {
		s.logger.WithContext(ctx).Infof("Sweep completed: expired_locks=%d idle_sessions=%d stale_presence=%d", expired, idle, stale)
	}
}
