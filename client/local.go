package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/federate/pkg/fl"
)

var (
	_ Agent     = (*LocalAgent)(nil)
	_ Evaluator = (*LocalAgent)(nil)
)

// LocalAgent trains in-process, used for simulations and single-host setups.
type LocalAgent struct {
	id      string
	trainer Trainer
	logger  *slog.Logger
}

func NewLocalAgent(id string, trainer Trainer, logger *slog.Logger) *LocalAgent {
	return &LocalAgent{
		id:      id,
		trainer: trainer,
		logger:  logger,
	}
}

func (a *LocalAgent) ID() string {
	return a.id
}

func (a *LocalAgent) Train(ctx context.Context, req TrainRequest) (*Handle, error) {
	h := NewHandle(a.id)
	params := req.Params.Clone()

	go func() {
		if !req.Deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, req.Deadline)
			defer cancel()
		}

		start := time.Now()
		res, err := a.trainer.Train(ctx, params, req.LocalEpochs)
		switch {
		case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil && err != nil:
			h.Fail(fmt.Errorf("%w: %w", fl.ErrTimeout, err))
		case err != nil:
			a.logger.Warn("local training failed", slog.String("client_id", a.id), slog.Any("error", err))
			h.Fail(fmt.Errorf("%w: %w", fl.ErrTrainingError, err))
		default:
			res.Params.Version = req.Params.Version
			h.Resolve(fl.Update{
				ClientID:    a.id,
				Round:       req.Round,
				Params:      res.Params,
				DatasetSize: a.trainer.DatasetSize(),
				Loss:        res.Loss,
				Metrics:     res.Metrics,
				Duration:    time.Since(start),
				ReceivedAt:  time.Now(),
			})
		}
	}()

	return h, nil
}

func (a *LocalAgent) Evaluate(ctx context.Context, params fl.ParameterSet) (EvalResult, error) {
	res, err := a.trainer.Evaluate(ctx, params.Clone())
	if err != nil {
		return EvalResult{}, err
	}
	res.ClientID = a.id

	return res, nil
}
