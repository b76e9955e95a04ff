package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRetentionSchedule runs the sweep every 15 minutes
const DefaultRetentionSchedule = "*/15 * * * *"

// IndexPruner removes index entries whose saga record has expired
type IndexPruner interface {
	PruneIndex(ctx context.Context) (int, error)
}

// RetentionSweeper periodically prunes the saga indices
type RetentionSweeper struct {
	cron    *cron.Cron
	pruner  IndexPruner
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRetentionSweeper parses a five-field cron schedule and registers the sweep
func NewRetentionSweeper(pruner IndexPruner, schedule string, logger zerolog.Logger) (*RetentionSweeper, error) {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parsed, err := parser.Parse(schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid retention schedule %q", schedule)
	}

	s := &RetentionSweeper{
		cron:    cron.New(cron.WithParser(parser)),
		pruner:  pruner,
		timeout: time.Minute,
		logger:  logger.With().Str("component", "retention_sweeper").Logger(),
	}
	s.cron.Schedule(parsed, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.Sweep(ctx)
	}))

	return s, nil
}

// Start runs the schedule in the background
func (s *RetentionSweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to expire
func (s *RetentionSweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep prunes once
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	pruned, err := s.pruner.PruneIndex(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("pruned", pruned).Msg("retention sweep failed")
		return pruned, err
	}
	if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("pruned expired sagas from index")
	}
	return pruned, nil
}
