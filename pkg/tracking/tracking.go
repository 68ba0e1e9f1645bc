// Package tracking holds the collaborators that observe a training run: sinks
// that receive per-round summaries and registries that keep the final model.
package tracking

import (
	"context"
	"errors"

	"github.com/absmach/federate/pkg/fl"
)

// RoundReport is the per-attempt summary handed to sinks.
type RoundReport struct {
	Round         uint64            `json:"round"`
	Attempt       uint64            `json:"attempt"`
	AggregateLoss float64           `json:"aggregate_loss"`
	EvalLoss      *float64          `json:"eval_loss,omitempty"`
	Participants  int               `json:"participants"`
	Statuses      map[string]string `json:"statuses"`
	Outcome       string            `json:"outcome"`
	Version       uint64            `json:"version"`
}

func NewReport(rec fl.RoundRecord) RoundReport {
	version := rec.BaseVersion
	if rec.Outcome == fl.Completed {
		version = rec.ResultVersion
	}

	return RoundReport{
		Round:         rec.Round,
		Attempt:       rec.Attempt,
		AggregateLoss: rec.AggregateLoss,
		EvalLoss:      rec.EvalLoss,
		Participants:  len(rec.Submitted),
		Statuses:      rec.Statuses,
		Outcome:       rec.Outcome.String(),
		Version:       version,
	}
}

type Sink interface {
	RecordRound(ctx context.Context, report RoundReport) error
}

// ModelRegistry receives the final model and the full round history when a
// run ends.
type ModelRegistry interface {
	Publish(ctx context.Context, final fl.ParameterSet, history []fl.RoundRecord) error
}

type multiSink []Sink

// Multi fans a report out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) RecordRound(ctx context.Context, report RoundReport) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordRound(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
