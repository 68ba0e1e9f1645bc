package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt"
	"github.com/absmach/federate/pkg/sdk"
)

var namegen = namegenerator.NewGenerator()

// Service is a federated learning participant: it registers with the
// coordinator, waits for training requests, trains locally and reports the
// resulting update.
type Service struct {
	cfg     Config
	trainer client.Trainer
	sdk     sdk.SDK
	pubsub  mqtt.PubSub
	logger  *slog.Logger
	probe   *usageProbe

	mu       sync.Mutex
	id       string
	lastTask taskKey
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type taskKey struct {
	round, attempt uint64
}

// NewService needs an SDK for the HTTP transport and a pubsub for MQTT.
func NewService(cfg Config, trainer client.Trainer, s sdk.SDK, pubsub mqtt.PubSub, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Transport == TransportHTTP && s == nil:
		return nil, errors.New("http transport needs a coordinator sdk")
	case cfg.Transport == TransportMQTT && pubsub == nil:
		return nil, errors.New("mqtt transport needs a pubsub")
	}
	if cfg.Name == "" {
		cfg.Name = namegen.Generate()
	}

	return &Service{
		cfg:     cfg,
		trainer: trainer,
		sdk:     s,
		pubsub:  pubsub,
		logger:  logger,
		probe:   newUsageProbe(),
		id:      cfg.ClientID,
	}, nil
}

// ID is empty until the coordinator assigned one on registration.
func (s *Service) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

// Run registers the participant and serves training requests until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Transport == TransportMQTT {
		return s.runMQTT(ctx)
	}

	return s.runHTTP(ctx)
}

func (s *Service) runHTTP(ctx context.Context) error {
	d, err := s.sdk.RegisterClient(client.Descriptor{
		ID:          s.cfg.ClientID,
		Name:        s.cfg.Name,
		DatasetSize: s.trainer.DatasetSize(),
		Metadata:    hostMetadata(ctx, s.cfg.Metadata),
	})
	if err != nil {
		return fmt.Errorf("failed to register with coordinator: %w", err)
	}
	s.mu.Lock()
	s.id = d.ID
	s.mu.Unlock()
	s.logger.Info("registered with coordinator", slog.String("client_id", d.ID), slog.String("name", d.Name))

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping participant", slog.String("client_id", d.ID))

			return nil
		case <-heartbeat.C:
			if _, err := s.sdk.Heartbeat(d.ID); err != nil {
				s.logger.Warn("failed to send heartbeat", slog.Any("error", err))
			}
		case <-poll.C:
			s.poll(ctx, d.ID)
		}
	}
}

// poll fetches the pending task, if any, and handles it in the caller's
// goroutine. Polling also counts as a heartbeat on the coordinator side.
func (s *Service) poll(ctx context.Context, id string) {
	req, err := s.sdk.GetTask(id)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return
	case err != nil:
		s.logger.Warn("failed to fetch task", slog.Any("error", err))

		return
	}
	if !s.claim(req) {
		return
	}

	u, err := s.train(ctx, id, req)
	if err != nil {
		if _, ferr := s.sdk.ReportFailure(id, req.Round, err.Error()); ferr != nil {
			s.logger.Warn("failed to report training failure", slog.Any("error", ferr))
		}

		return
	}

	submit := s.sdk.SubmitUpdate
	if s.cfg.UseCBOR {
		submit = s.sdk.SubmitUpdateCBOR
	}
	ack, err := submit(u)
	if err != nil {
		s.logger.Warn("failed to submit update", slog.Uint64("round", req.Round), slog.Any("error", err))

		return
	}
	s.logAck(ack)
}

// claim reports whether req has not been handled yet.
func (s *Service) claim(req client.TrainRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey{round: req.Round, attempt: req.Attempt}
	if key == s.lastTask {
		return false
	}
	s.lastTask = key

	return true
}

func (s *Service) train(ctx context.Context, id string, req client.TrainRequest) (fl.Update, error) {
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	s.logger.Info("training started",
		slog.Uint64("round", req.Round),
		slog.Uint64("attempt", req.Attempt),
		slog.Uint64("local_epochs", req.LocalEpochs),
	)
	start := time.Now()
	before, probed := s.probe.sample(ctx)
	res, err := s.trainer.Train(ctx, req.Params.Clone(), req.LocalEpochs)
	if err != nil {
		s.logger.Warn("training failed", slog.Uint64("round", req.Round), slog.Any("error", err))

		return fl.Update{}, err
	}
	res.Params.Version = req.Params.Version

	u := fl.Update{
		ClientID:    id,
		Round:       req.Round,
		Params:      res.Params,
		DatasetSize: s.trainer.DatasetSize(),
		Loss:        res.Loss,
		Metrics:     res.Metrics,
		Duration:    time.Since(start),
	}
	attrs := []any{
		slog.Uint64("round", req.Round),
		slog.Float64("loss", res.Loss),
		slog.Duration("duration", u.Duration),
	}
	if after, ok := s.probe.sample(ctx); ok && probed {
		attrs = append(attrs,
			slog.Float64("cpu_seconds", after.cpuSeconds-before.cpuSeconds),
			slog.Uint64("rss_bytes", after.rssBytes),
		)
	}
	s.logger.Info("training finished", attrs...)

	return u, nil
}

func (s *Service) logAck(ack sdk.Ack) {
	if ack.Accepted {
		s.logger.Info("update accepted", slog.Uint64("round", ack.Round))

		return
	}
	s.logger.Warn("update discarded", slog.Uint64("round", ack.Round), slog.String("reason", ack.Reason))
}
