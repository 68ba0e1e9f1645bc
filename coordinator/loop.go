package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/storage"
	"github.com/absmach/federate/pkg/tracking"
)

type Result struct {
	Final      fl.ParameterSet  `json:"final"`
	History    []fl.RoundRecord `json:"history"`
	StopReason fl.StopReason    `json:"stop_reason"`
}

type LoopOption func(*Loop)

func WithRoundRepository(repo storage.RoundRepository) LoopOption {
	return func(l *Loop) {
		l.rounds = repo
	}
}

func WithModelRepository(repo storage.ModelRepository) LoopOption {
	return func(l *Loop) {
		l.models = repo
	}
}

func WithSink(sink tracking.Sink) LoopOption {
	return func(l *Loop) {
		l.sink = sink
	}
}

func WithModelRegistry(reg tracking.ModelRegistry) LoopOption {
	return func(l *Loop) {
		l.registry = reg
	}
}

// Loop runs rounds one after another until the policy stops training, a
// round exhausts its retries or the context is cancelled.
type Loop struct {
	rc       *RoundCoordinator
	rounds   storage.RoundRepository
	models   storage.ModelRepository
	sink     tracking.Sink
	registry tracking.ModelRegistry
	logger   *slog.Logger
}

func NewLoop(rc *RoundCoordinator, logger *slog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		rc:     rc,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run trains from initial. The returned result always holds the last
// aggregated model; when ctx is cancelled it is returned with ctx's error.
func (l *Loop) Run(ctx context.Context, initial fl.ParameterSet) (Result, error) {
	if err := initial.Validate(); err != nil {
		return Result{}, err
	}

	cfg := l.rc.Config()
	res := Result{Final: initial.Clone()}
	l.saveModel(ctx, res.Final)

	for round := uint64(1); round <= cfg.NumRounds; round++ {
		completed := false
		for attempt := uint64(0); attempt <= cfg.MaxRoundRetries; attempt++ {
			out, err := l.rc.RunRound(ctx, RoundInput{
				Round:   round,
				Attempt: attempt,
				Global:  res.Final,
				History: res.History,
			})
			if out.Record.ID != "" {
				res.History = append(res.History, out.Record)
				l.record(ctx, out.Record)
			}
			if err != nil {
				if ctx.Err() != nil {
					res.StopReason = fl.StopCancelled
					l.publish(context.WithoutCancel(ctx), res)
				}

				return res, err
			}

			if out.Record.Outcome != fl.Completed {
				l.logger.Warn("round attempt aborted",
					slog.Uint64("round", round),
					slog.Uint64("attempt", attempt),
					slog.String("outcome", out.Record.Outcome.String()),
					slog.String("error", out.Record.Error),
				)
				if out.Record.Outcome == fl.AbortedQuorum && attempt < cfg.MaxRoundRetries {
					if err := wait(ctx, cfg.RetryInterval); err != nil {
						res.StopReason = fl.StopCancelled
						l.publish(context.WithoutCancel(ctx), res)

						return res, err
					}
				}

				continue
			}

			completed = true
			res.Final = out.Params
			l.saveModel(ctx, res.Final)
			if out.Record.StopReason != fl.StopNone {
				res.StopReason = out.Record.StopReason
				l.publish(ctx, res)

				return res, nil
			}

			break
		}

		if !completed {
			l.logger.Error("round retries exhausted", slog.Uint64("round", round), slog.Uint64("retries", cfg.MaxRoundRetries))
			res.StopReason = fl.StopRetriesExhausted
			l.publish(ctx, res)

			return res, nil
		}
	}

	res.StopReason = fl.StopMaxRounds
	l.publish(ctx, res)

	return res, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) record(ctx context.Context, rec fl.RoundRecord) {
	ctx = context.WithoutCancel(ctx)
	if l.rounds != nil {
		if err := l.rounds.Create(ctx, rec); err != nil {
			l.logger.Warn("failed to save round record", slog.String("round_id", rec.ID), slog.Any("error", err))
		}
	}
	if l.sink != nil {
		if err := l.sink.RecordRound(ctx, tracking.NewReport(rec)); err != nil {
			l.logger.Warn("failed to report round", slog.String("round_id", rec.ID), slog.Any("error", err))
		}
	}
}

func (l *Loop) saveModel(ctx context.Context, ps fl.ParameterSet) {
	if l.models == nil {
		return
	}
	err := l.models.Save(context.WithoutCancel(ctx), ps)
	if err != nil && !errors.Is(err, pkgerrors.ErrEntityExists) {
		l.logger.Warn("failed to save model", slog.Uint64("version", ps.Version), slog.Any("error", err))
	}
}

func (l *Loop) publish(ctx context.Context, res Result) {
	l.logger.Info("training finished",
		slog.String("stop_reason", string(res.StopReason)),
		slog.Uint64("version", res.Final.Version),
		slog.Int("attempts", len(res.History)),
	)
	if l.registry == nil {
		return
	}
	if err := l.registry.Publish(ctx, res.Final, res.History); err != nil {
		l.logger.Error("failed to publish final model", slog.Any("error", err))
	}
}
