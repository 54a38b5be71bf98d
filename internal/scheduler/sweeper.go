package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulsestack/pulse-detect/internal/models"
)

// Analyzer is the slice of the detection service the sweeper drives.
type Analyzer interface {
	AnalyzeAll(ctx context.Context) ([]models.BatchAnalyzeResult, error)
}

// Sweeper periodically re-analyzes every known target. It stands in for the
// probe-side trigger so detection keeps running even when no fresh sample
// callback arrives; evaluations with no new sample are no-ops.
type Sweeper struct {
	cron    *cron.Cron
	service Analyzer
	logger  *slog.Logger
	timeout time.Duration
}

// NewSweeper schedules a sweep according to the cron spec (e.g. "@every 30s").
func NewSweeper(spec string, service Analyzer, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:    cron.New(),
		service: service,
		logger:  logger,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns once the running sweep finishes.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	results, err := s.service.AnalyzeAll(ctx)
	if err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
		return
	}

	failed := 0
	for _, r := range results {
		if !r.Analyzed {
			failed++
			s.logger.Warn("target analysis failed",
				slog.String("target_id", r.TargetID), slog.String("reason", r.Reason))
		}
	}
	s.logger.Debug("sweep complete", slog.Int("targets", len(results)), slog.Int("failed", failed))
}
