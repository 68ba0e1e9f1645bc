package tracking

import (
	"context"

	"github.com/absmach/federate/pkg/fl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusSink struct {
	rounds       *prometheus.CounterVec
	loss         prometheus.Gauge
	evalLoss     prometheus.Gauge
	participants prometheus.Gauge
	version      prometheus.Gauge
	clients      *prometheus.GaugeVec
}

// NewPrometheusSink registers the federation gauges on reg.
func NewPrometheusSink(reg prometheus.Registerer) Sink {
	factory := promauto.With(reg)

	return &prometheusSink{
		rounds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federate_round_total",
				Help: "Total number of round attempts by outcome",
			},
			[]string{"outcome"},
		),
		loss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "federate_aggregate_loss",
			Help: "Weighted training loss of the last completed round",
		}),
		evalLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "federate_eval_loss",
			Help: "Weighted evaluation loss of the last completed round",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "federate_round_participants",
			Help: "Number of clients that submitted in the last round attempt",
		}),
		version: factory.NewGauge(prometheus.GaugeOpts{
			Name: "federate_global_model_version",
			Help: "Version of the current global model",
		}),
		clients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "federate_round_clients",
				Help: "Clients of the last round attempt by final status",
			},
			[]string{"status"},
		),
	}
}

func (s *prometheusSink) RecordRound(_ context.Context, r RoundReport) error {
	s.rounds.WithLabelValues(r.Outcome).Inc()
	s.participants.Set(float64(r.Participants))
	s.version.Set(float64(r.Version))

	if r.Outcome == fl.Completed.String() {
		s.loss.Set(r.AggregateLoss)
		if r.EvalLoss != nil {
			s.evalLoss.Set(*r.EvalLoss)
		}
	}

	counts := make(map[string]int)
	for _, st := range r.Statuses {
		counts[st]++
	}
	s.clients.Reset()
	for st, n := range counts {
		s.clients.WithLabelValues(st).Set(float64(n))
	}

	return nil
}
