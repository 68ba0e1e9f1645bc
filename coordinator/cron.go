package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/federate/pkg/cron"
)

const defaultCronCheckInterval = time.Minute

type ScheduleConfig struct {
	Expression    string        `env:"FL_SCHEDULE"          envDefault:""    toml:"expression"`
	Timezone      string        `env:"FL_SCHEDULE_TIMEZONE" envDefault:"UTC" toml:"timezone"`
	CheckInterval time.Duration `env:"FL_SCHEDULE_INTERVAL" envDefault:"1m"  toml:"check_interval"`
}

// TrainingScheduler starts a training run every time the cron schedule fires.
// Activations that find a run in progress are skipped.
type TrainingScheduler struct {
	svc           Service
	schedule      *cron.Schedule
	logger        *slog.Logger
	checkInterval time.Duration
	now           func() time.Time
	nextRun       time.Time
}

func NewTrainingScheduler(cfg ScheduleConfig, svc Service, logger *slog.Logger) (*TrainingScheduler, error) {
	schedule, err := cron.Parse(cfg.Expression, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCronCheckInterval
	}

	return &TrainingScheduler{
		svc:           svc,
		schedule:      schedule,
		logger:        logger,
		checkInterval: interval,
		now:           time.Now,
	}, nil
}

func (ts *TrainingScheduler) NextRun() time.Time {
	return ts.nextRun
}

// Start blocks until ctx is cancelled.
func (ts *TrainingScheduler) Start(ctx context.Context) error {
	ts.nextRun = ts.schedule.Next(ts.now())

	ticker := time.NewTicker(ts.checkInterval)
	defer ticker.Stop()

	ts.logger.Info("training scheduler started",
		slog.String("schedule", ts.schedule.String()),
		slog.Time("next_run", ts.nextRun),
	)

	for {
		select {
		case <-ctx.Done():
			ts.logger.Info("training scheduler stopping")

			return ctx.Err()
		case <-ticker.C:
			ts.tick(ctx)
		}
	}
}

func (ts *TrainingScheduler) tick(ctx context.Context) {
	now := ts.now()
	if ts.nextRun.IsZero() || now.Before(ts.nextRun) {
		return
	}
	ts.nextRun = ts.schedule.Next(now)

	st, err := ts.svc.StartTraining(ctx)
	switch {
	case errors.Is(err, ErrTrainingInProgress):
		ts.logger.Warn("skipping scheduled training, a run is in progress",
			slog.String("run_id", st.ID),
			slog.Time("next_run", ts.nextRun),
		)
	case err != nil:
		ts.logger.Error("failed to start scheduled training", slog.Any("error", err))
	default:
		ts.logger.Info("scheduled training started",
			slog.String("run_id", st.ID),
			slog.Time("next_run", ts.nextRun),
		)
	}
}
