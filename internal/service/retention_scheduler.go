package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"
)

// tickBudget bounds one scheduler tick; a wedged store cannot pin the
// engine past the next day's tick.
const tickBudget = 6 * time.Hour

// RetentionScheduler fires the retention engine on a cron schedule,
// evaluated in UTC.
type RetentionScheduler struct {
	svc    *RetentionService
	cron   *cron.Cron
	logger *slog.Logger
}

// DefaultRetentionSchedule fires daily at 03:00 UTC.
const DefaultRetentionSchedule = "0 3 * * *"

// NewRetentionScheduler parses a standard five-field cron spec, falling
// back to DefaultRetentionSchedule when empty, and arms the tick.
func NewRetentionScheduler(svc *RetentionService, spec string, logger *slog.Logger) (*RetentionScheduler, error) {
	if spec == "" {
		spec = DefaultRetentionSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", spec, err)
	}

	s := &RetentionScheduler{
		svc:    svc,
		cron:   cron.NewWithLocation(time.UTC),
		logger: logger,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

func (s *RetentionScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickBudget)
	defer cancel()

	if err := s.svc.RunDue(ctx); err != nil {
		s.logger.Error("retention tick failed", "error", err)
	}
}

// Start launches the cron loop in its own goroutine.
func (s *RetentionScheduler) Start() {
	s.cron.Start()
	s.logger.Info("retention scheduler started")
}

// Stop halts the cron loop. A tick already in flight finishes.
func (s *RetentionScheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("retention scheduler stopped")
}
