package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/registry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonStaleRound       = "stale_round"
	ReasonNotCollecting    = "not_collecting"
	ReasonNotSelected      = "not_selected"
	ReasonShapeMismatch    = "shape_mismatch"
	ReasonInvalidUpdate    = "invalid_update"
	ReasonAlreadySubmitted = "already_submitted"
)

var ErrRoundInProgress = errors.New("a round is already in progress")

// Ack answers a submission. A rejected update is not an error: the reason
// tells the client why it was discarded.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Round    uint64 `json:"round"`
	Reason   string `json:"reason,omitempty"`
}

type Snapshot struct {
	Phase       Phase     `json:"phase"`
	Round       uint64    `json:"round"`
	Attempt     uint64    `json:"attempt"`
	BaseVersion uint64    `json:"base_version"`
	Selected    []string  `json:"selected,omitempty"`
	Submitted   []string  `json:"submitted,omitempty"`
	Deadline    time.Time `json:"deadline,omitzero"`
}

type RoundInput struct {
	Round   uint64
	Attempt uint64
	Global  fl.ParameterSet
	// History holds the records of every earlier attempt, used by the
	// convergence policy once the round completes.
	History []fl.RoundRecord
}

// RoundResult carries the finished record and the global model after the
// round: the aggregated successor on completion, the unchanged input otherwise.
type RoundResult struct {
	Record fl.RoundRecord
	Params fl.ParameterSet
}

type message struct {
	update   fl.Update
	clientID string
	round    uint64
	failure  error
	reply    chan Ack
}

type handleResult struct {
	clientID string
	update   fl.Update
	err      error
}

// RoundCoordinator runs one round attempt at a time. The goroutine executing
// RunRound is the single writer of round state; transports reach it through
// Submit and ReportFailure, which are serialized over the inbox.
type RoundCoordinator struct {
	cfg        Config
	registry   registry.Registry
	agents     *AgentPool
	aggregator fl.Aggregator
	logger     *slog.Logger
	now        func() time.Time

	inbox chan message

	mu          sync.RWMutex
	phase       Phase
	round       uint64
	attempt     uint64
	baseVersion uint64
	selected    []string
	submitted   []string
	deadline    time.Time
	closed      chan struct{}
	lastClosed  uint64
}

func NewRoundCoordinator(cfg Config, reg registry.Registry, agents *AgentPool, agg fl.Aggregator, logger *slog.Logger) (*RoundCoordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &RoundCoordinator{
		cfg:        cfg,
		registry:   reg,
		agents:     agents,
		aggregator: agg,
		logger:     logger,
		now:        time.Now,
		inbox:      make(chan message),
	}, nil
}

func (rc *RoundCoordinator) Config() Config {
	return rc.cfg
}

func (rc *RoundCoordinator) Snapshot() Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return Snapshot{
		Phase:       rc.phase,
		Round:       rc.round,
		Attempt:     rc.attempt,
		BaseVersion: rc.baseVersion,
		Selected:    slices.Clone(rc.selected),
		Submitted:   slices.Clone(rc.submitted),
		Deadline:    rc.deadline,
	}
}

func (rc *RoundCoordinator) transition(to Phase) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !canTransition(rc.phase, to) {
		return transitionError{from: rc.phase, to: to}
	}
	rc.phase = to

	return nil
}

func (rc *RoundCoordinator) begin(in RoundInput) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.phase != Idle {
		return ErrRoundInProgress
	}
	rc.phase = Selecting
	rc.round = in.Round
	rc.attempt = in.Attempt
	rc.baseVersion = in.Global.Version
	rc.selected = nil
	rc.submitted = nil
	rc.deadline = time.Time{}

	return nil
}

func (rc *RoundCoordinator) finish() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed != nil {
		close(rc.closed)
		rc.closed = nil
		rc.lastClosed = max(rc.lastClosed, rc.round)
	}
	rc.phase = Idle
}

// RunRound drives one attempt through the phase machine. Aborts are reported
// through the record's outcome; the error is non-nil only when ctx ends the
// attempt or the coordinator is misused.
func (rc *RoundCoordinator) RunRound(ctx context.Context, in RoundInput) (RoundResult, error) {
	if err := rc.begin(in); err != nil {
		return RoundResult{}, err
	}
	defer rc.finish()

	rec := fl.RoundRecord{
		ID:            uuid.NewString(),
		Round:         in.Round,
		Attempt:       in.Attempt,
		BaseVersion:   in.Global.Version,
		ResultVersion: in.Global.Version,
		Excluded:      make(map[string]string),
		Statuses:      make(map[string]string),
		StartedAt:     rc.now(),
	}
	res := RoundResult{Params: in.Global}
	logger := rc.logger.With(slog.Uint64("round", in.Round), slog.Uint64("attempt", in.Attempt))

	selected, err := rc.registry.Select(ctx, registry.RoundRef{Round: in.Round, Attempt: in.Attempt}, rc.cfg.ClientFraction, rc.cfg.MinClients)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Record = rc.abort(rec, fl.AbortedError, ctxErr)

			return res, ctxErr
		}
		logger.Warn("client selection failed", slog.Any("error", err))
		res.Record = rc.abort(rec, fl.AbortedQuorum, err)

		return res, nil
	}

	ids := make([]string, len(selected))
	for i, d := range selected {
		ids[i] = d.ID
	}
	slices.Sort(ids)
	rec.Selected = ids
	defer func() {
		if err := rc.registry.Release(context.WithoutCancel(ctx), ids); err != nil {
			logger.Warn("failed to release round participants", slog.Any("error", err))
		}
	}()

	deadline := rc.now().Add(rc.cfg.RoundDeadline)
	rc.mu.Lock()
	rc.selected = ids
	rc.deadline = deadline
	rc.mu.Unlock()

	if err := rc.transition(Broadcasting); err != nil {
		return res, err
	}

	roundCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	col := newCollection(rc, in.Global, in.Round, ids)
	results := make(chan handleResult, len(ids))
	col.broadcast(roundCtx, client.TrainRequest{
		Round:       in.Round,
		Attempt:     in.Attempt,
		Params:      in.Global,
		LocalEpochs: rc.cfg.LocalEpochs,
		Deadline:    deadline,
	}, results)

	if err := rc.openCollection(); err != nil {
		return res, err
	}
	col.collect(roundCtx, results)
	rc.closeCollection()

	if err := ctx.Err(); err != nil {
		col.record(&rec)
		res.Record = rc.abort(rec, fl.AbortedError, err)

		return res, err
	}
	col.expire()

	if len(col.updates) < rc.cfg.MinClients {
		col.record(&rec)
		err := fmt.Errorf("%d usable updates, %d required", len(col.updates), rc.cfg.MinClients)
		logger.Warn("round below quorum", slog.Any("error", err))
		res.Record = rc.abort(rec, fl.AbortedQuorum, err)

		return res, nil
	}

	if err := rc.transition(Aggregating); err != nil {
		return res, err
	}
	agg, err := rc.aggregator.Aggregate(in.Global, slices.Collect(maps.Values(col.updates)))
	for id, cause := range agg.Excluded {
		col.exclude(id, cause)
	}
	col.record(&rec)
	if err != nil {
		logger.Error("aggregation failed", slog.Any("error", err))
		res.Record = rc.abort(rec, fl.AbortedError, err)

		return res, nil
	}
	if len(agg.Included) < rc.cfg.MinClients {
		err := fmt.Errorf("%d usable updates after aggregation, %d required", len(agg.Included), rc.cfg.MinClients)
		logger.Warn("round below quorum", slog.Any("error", err))
		res.Record = rc.abort(rec, fl.AbortedQuorum, err)

		return res, nil
	}
	rec.TotalSamples = agg.TotalSamples
	rec.AggregateLoss = agg.Loss
	if len(agg.Metrics) > 0 {
		rec.AggregateMetrics = agg.Metrics
	}

	if err := rc.transition(Evaluating); err != nil {
		return res, err
	}
	rec.ResultVersion = agg.Params.Version
	if rc.cfg.EvaluationDeadline > 0 {
		rec.EvalLoss = rc.evaluate(ctx, agg.Params, agg.Included)
	}
	rec.Outcome = fl.Completed
	rec.FinishedAt = rc.now()
	rec.StopReason = rc.cfg.Policy().Evaluate(append(slices.Clone(in.History), rec))

	if err := rc.transition(Completed); err != nil {
		return res, err
	}
	logger.Info("round completed",
		slog.Uint64("version", rec.ResultVersion),
		slog.Float64("aggregate_loss", rec.AggregateLoss),
		slog.Int("participants", len(agg.Included)),
	)

	return RoundResult{Record: rec, Params: agg.Params}, nil
}

func (rc *RoundCoordinator) abort(rec fl.RoundRecord, outcome fl.Outcome, cause error) fl.RoundRecord {
	rec.Outcome = outcome
	rec.ResultVersion = rec.BaseVersion
	rec.Error = cause.Error()
	rec.FinishedAt = rc.now()
	if err := rc.transition(Aborted); err != nil {
		rc.logger.Error("failed to abort round", slog.Any("error", err))
	}

	return rec
}

func (rc *RoundCoordinator) openCollection() error {
	if err := rc.transition(Collecting); err != nil {
		return err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.closed = make(chan struct{})

	return nil
}

func (rc *RoundCoordinator) closeCollection() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed != nil {
		close(rc.closed)
		rc.closed = nil
		rc.lastClosed = max(rc.lastClosed, rc.round)
	}
}

func (rc *RoundCoordinator) noteSubmitted(ids []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.submitted = ids
}

// Submit hands an update to the round currently collecting. Updates for
// rounds that already closed are acknowledged as stale and dropped.
func (rc *RoundCoordinator) Submit(ctx context.Context, u fl.Update) (Ack, error) {
	if u.ClientID == "" {
		return Ack{Round: u.Round, Reason: ReasonInvalidUpdate}, nil
	}

	return rc.send(ctx, message{update: u, clientID: u.ClientID, round: u.Round})
}

// ReportFailure records a training failure reported by a remote client.
func (rc *RoundCoordinator) ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (Ack, error) {
	if clientID == "" {
		return Ack{Round: round, Reason: ReasonInvalidUpdate}, nil
	}
	failure := fmt.Errorf("%w: %s", fl.ErrTrainingError, reason)

	return rc.send(ctx, message{clientID: clientID, round: round, failure: failure})
}

func (rc *RoundCoordinator) send(ctx context.Context, m message) (Ack, error) {
	rc.mu.RLock()
	phase, round, closed, lastClosed := rc.phase, rc.round, rc.closed, rc.lastClosed
	rc.mu.RUnlock()

	stale := Ack{Round: m.round, Reason: ReasonStaleRound}
	switch {
	case phase != Collecting || closed == nil:
		if m.round <= lastClosed {
			rc.logger.Debug("discarded stale submission", slog.String("client_id", m.clientID), slog.Uint64("round", m.round))

			return stale, nil
		}

		return Ack{Round: m.round, Reason: ReasonNotCollecting}, nil
	case m.round < round:
		return stale, nil
	case m.round > round:
		return Ack{Round: m.round, Reason: ReasonNotCollecting}, nil
	}

	m.reply = make(chan Ack, 1)
	select {
	case rc.inbox <- m:
		return <-m.reply, nil
	case <-closed:
		return stale, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

func (rc *RoundCoordinator) markStatus(ctx context.Context, id string, status client.Status) {
	if err := rc.registry.MarkStatus(context.WithoutCancel(ctx), id, status); err != nil {
		rc.logger.Warn("failed to update client status",
			slog.String("client_id", id),
			slog.String("status", status.String()),
			slog.Any("error", err),
		)
	}
}

// evaluate asks the round's contributors to score the new model and returns
// the dataset-weighted loss, or nil when nobody answered in time.
func (rc *RoundCoordinator) evaluate(ctx context.Context, params fl.ParameterSet, ids []string) *float64 {
	ctx, cancel := context.WithTimeout(ctx, rc.cfg.EvaluationDeadline)
	defer cancel()

	var (
		mu      sync.Mutex
		results []client.EvalResult
		g       errgroup.Group
	)
	for _, id := range ids {
		ev, ok := rc.agents.Agent(id).(client.Evaluator)
		if !ok {
			continue
		}
		g.Go(func() error {
			res, err := ev.Evaluate(ctx, params.Clone())
			if err != nil {
				rc.logger.Warn("client evaluation failed", slog.String("client_id", id), slog.Any("error", err))

				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	var total, loss float64
	for _, r := range results {
		total += float64(r.DatasetSize)
		loss += float64(r.DatasetSize) * r.Loss
	}
	if total == 0 {
		return nil
	}
	loss /= total

	return &loss
}
