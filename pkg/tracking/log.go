package tracking

import (
	"context"
	"log/slog"
)

type logSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) Sink {
	return &logSink{logger: logger}
}

func (s *logSink) RecordRound(ctx context.Context, r RoundReport) error {
	args := []any{
		slog.Uint64("round", r.Round),
		slog.Uint64("attempt", r.Attempt),
		slog.String("outcome", r.Outcome),
		slog.Float64("aggregate_loss", r.AggregateLoss),
		slog.Int("participants", r.Participants),
		slog.Uint64("version", r.Version),
	}
	if r.EvalLoss != nil {
		args = append(args, slog.Float64("eval_loss", *r.EvalLoss))
	}
	statuses := make([]any, 0, len(r.Statuses))
	for id, st := range r.Statuses {
		statuses = append(statuses, slog.String(id, st))
	}
	args = append(args, slog.Group("statuses", statuses...))

	s.logger.InfoContext(ctx, "round finished", args...)

	return nil
}
