package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt"
	"github.com/absmach/federate/pkg/storage"
	"github.com/absmach/federate/registry"
	"github.com/google/uuid"
)

var _ Service = (*service)(nil)

type service struct {
	initial   fl.ParameterSet
	registry  registry.Registry
	rounds    storage.RoundRepository
	models    storage.ModelRepository
	mailbox   *client.Mailbox
	agents    *AgentPool
	rc        *RoundCoordinator
	loop      *Loop
	pubsub    mqtt.PubSub
	domainID  string
	channelID string
	logger    *slog.Logger

	mu     sync.Mutex
	status TrainingStatus
	cancel context.CancelFunc
	done   chan struct{}
	topics []string
}

// NewService wires a coordinator around the registry and repositories.
// Clients not added to agents in process are reached remotely: their requests
// wait in a mailbox for polling and, when pubsub is set, are pushed over MQTT.
func NewService(
	cfg Config,
	initial fl.ParameterSet,
	reg registry.Registry,
	rounds storage.RoundRepository,
	models storage.ModelRepository,
	pubsub mqtt.PubSub,
	domainID, channelID string,
	logger *slog.Logger,
	opts ...LoopOption,
) (Service, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}

	var pub client.Publisher
	if pubsub != nil {
		pub = pubsub
	}
	mailbox := client.NewMailbox()
	agents := NewAgentPool(func(id string) client.Agent {
		return client.NewRemoteAgent(id, mailbox, pub, domainID, channelID)
	})

	rc, err := NewRoundCoordinator(cfg, reg, agents, fl.NewFedAvgAggregator(), logger)
	if err != nil {
		return nil, err
	}
	opts = append([]LoopOption{WithRoundRepository(rounds), WithModelRepository(models)}, opts...)

	return &service{
		initial:   initial.Clone(),
		registry:  reg,
		rounds:    rounds,
		models:    models,
		mailbox:   mailbox,
		agents:    agents,
		rc:        rc,
		loop:      NewLoop(rc, logger, opts...),
		pubsub:    pubsub,
		domainID:  domainID,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (svc *service) Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error) {
	return svc.registry.Register(ctx, d)
}

func (svc *service) Deregister(ctx context.Context, clientID string) error {
	if err := svc.registry.Deregister(ctx, clientID); err != nil {
		return err
	}
	svc.agents.Remove(clientID)
	svc.mailbox.Clear(clientID)

	return nil
}

func (svc *service) Heartbeat(ctx context.Context, clientID string) (client.Descriptor, error) {
	return svc.registry.Touch(ctx, clientID)
}

func (svc *service) GetClient(ctx context.Context, clientID string) (client.Descriptor, error) {
	return svc.registry.Get(ctx, clientID)
}

func (svc *service) ListClients(ctx context.Context, offset, limit uint64) (client.Page, error) {
	return svc.registry.List(ctx, offset, limit)
}

func (svc *service) GetTask(ctx context.Context, clientID string) (client.TrainRequest, error) {
	if _, err := svc.registry.Touch(ctx, clientID); err != nil {
		return client.TrainRequest{}, err
	}
	req, ok := svc.mailbox.Get(clientID, time.Now())
	if !ok {
		return client.TrainRequest{}, fmt.Errorf("no pending task for client %s: %w", clientID, pkgerrors.ErrNotFound)
	}

	return req, nil
}

func (svc *service) GetGlobalModel(ctx context.Context) (fl.ParameterSet, error) {
	ps, err := svc.models.Latest(ctx)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return svc.initial.Clone(), nil
	case err != nil:
		return fl.ParameterSet{}, err
	}

	return ps, nil
}

func (svc *service) SubmitUpdate(ctx context.Context, u fl.Update) (Ack, error) {
	if u.ClientID == "" {
		return Ack{}, pkgerrors.ErrEmptyKey
	}
	if _, err := svc.registry.Touch(ctx, u.ClientID); err != nil {
		return Ack{}, err
	}
	u.ReceivedAt = time.Now()

	ack, err := svc.rc.Submit(ctx, u)
	if err != nil {
		return Ack{}, err
	}
	if ack.Accepted {
		svc.mailbox.Clear(u.ClientID)
	}

	return ack, nil
}

func (svc *service) SubmitUpdateCBOR(ctx context.Context, data []byte) (Ack, error) {
	u, err := fl.DecodeUpdate(fl.ContentTypeCBOR, data)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return svc.SubmitUpdate(ctx, u)
}

func (svc *service) ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (Ack, error) {
	if clientID == "" {
		return Ack{}, pkgerrors.ErrEmptyKey
	}
	if _, err := svc.registry.Touch(ctx, clientID); err != nil {
		return Ack{}, err
	}

	ack, err := svc.rc.ReportFailure(ctx, clientID, round, reason)
	if err != nil {
		return Ack{}, err
	}
	if ack.Accepted {
		svc.mailbox.Clear(clientID)
	}

	return ack, nil
}

func (svc *service) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	rounds, total, err := svc.rounds.List(ctx, offset, limit)
	if err != nil {
		return fl.RoundPage{}, err
	}

	return fl.RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: rounds,
	}, nil
}

func (svc *service) GetRound(ctx context.Context, roundID string) (fl.RoundRecord, error) {
	return svc.rounds.Get(ctx, roundID)
}

// StartTraining launches a run in the background, continuing from the latest
// stored model.
func (svc *service) StartTraining(ctx context.Context) (TrainingStatus, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.cancel != nil {
		return svc.statusLocked(), ErrTrainingInProgress
	}

	start, err := svc.GetGlobalModel(ctx)
	if err != nil {
		return TrainingStatus{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	svc.cancel = cancel
	svc.done = done
	svc.status = TrainingStatus{
		ID:        uuid.NewString(),
		Running:   true,
		Version:   start.Version,
		StartedAt: time.Now(),
	}
	go svc.run(runCtx, start, done)

	return svc.statusLocked(), nil
}

func (svc *service) run(ctx context.Context, start fl.ParameterSet, done chan struct{}) {
	defer close(done)

	res, err := svc.loop.Run(ctx, start)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.cancel()
	svc.cancel = nil
	svc.status.Running = false
	svc.status.FinishedAt = time.Now()
	svc.status.StopReason = res.StopReason
	if len(res.Final.Tensors) > 0 {
		svc.status.Version = res.Final.Version
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		svc.status.Error = err.Error()
		svc.logger.Error("training run failed", slog.String("run_id", svc.status.ID), slog.Any("error", err))
	}
}

func (svc *service) StopTraining(ctx context.Context) (TrainingStatus, error) {
	svc.mu.Lock()
	if svc.cancel == nil {
		st := svc.statusLocked()
		svc.mu.Unlock()

		return st, ErrNoTrainingRun
	}
	svc.cancel()
	done := svc.done
	svc.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return TrainingStatus{}, ctx.Err()
	}

	return svc.TrainingStatus(ctx)
}

func (svc *service) TrainingStatus(_ context.Context) (TrainingStatus, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.statusLocked(), nil
}

func (svc *service) statusLocked() TrainingStatus {
	st := svc.status
	st.Round = svc.rc.Snapshot()

	return st
}

func (svc *service) Shutdown(ctx context.Context) error {
	if _, err := svc.StopTraining(ctx); err != nil && !errors.Is(err, ErrNoTrainingRun) {
		return err
	}

	svc.mu.Lock()
	topics := svc.topics
	svc.topics = nil
	svc.mu.Unlock()

	var errs []error
	for _, topic := range topics {
		if err := svc.pubsub.Unsubscribe(ctx, topic); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
