// Package scheduler runs the deadline sweeps that drive time-based
// transitions: overdue turns and expired vote windows. Sweep event ids are
// deterministic per deadline, so concurrent sweepers on different instances
// converge on a single applied transition.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const defaultSweepInterval = 15 * time.Second

// GameSweeper expires sessions whose turn deadline or disconnect grace has passed.
type GameSweeper interface {
	ExpireOverdueTurns(ctx context.Context, now time.Time) (int, error)
}

// BattleSweeper completes battles whose voting window has closed.
type BattleSweeper interface {
	CompleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Config describes the sweeper dependencies.
type Config struct {
	Games    GameSweeper
	Battles  BattleSweeper
	Interval time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Sweeper owns the periodic job that applies deadline transitions.
type Sweeper struct {
	games    GameSweeper
	battles  BattleSweeper
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	cron     gocron.Scheduler
}

// NewSweeper validates dependencies and constructs a stopped Sweeper.
func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.Games == nil {
		return nil, fmt.Errorf("scheduler: game sweeper required")
	}
	if cfg.Battles == nil {
		return nil, fmt.Errorf("scheduler: battle sweeper required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		games:    cfg.Games,
		battles:  cfg.Battles,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Start schedules the sweep job and begins execution.
func (s *Sweeper) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Sweep(ctx)
		}),
	)
	if err != nil {
		return err
	}
	s.cron = cron
	cron.Start()
	s.logger.Info("deadline sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Shutdown stops the periodic job. Safe to call on a never-started sweeper.
func (s *Sweeper) Shutdown() error {
	if s.cron == nil {
		return nil
	}
	return s.cron.Shutdown()
}

// Sweep runs one pass over both subsystems. Errors are logged, not returned
// up: the next tick retries and deterministic event ids make retries safe.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock().UTC()

	expiredGames, err := s.games.ExpireOverdueTurns(ctx, now)
	if err != nil {
		s.logger.Error("turn expiry sweep failed", zap.Error(err))
	} else if expiredGames > 0 {
		s.logger.Info("expired overdue turns", zap.Int("count", expiredGames))
	}

	completedBattles, err := s.battles.CompleteExpired(ctx, now)
	if err != nil {
		s.logger.Error("vote window sweep failed", zap.Error(err))
	} else if completedBattles > 0 {
		s.logger.Info("completed expired battles", zap.Int("count", completedBattles))
	}
}
