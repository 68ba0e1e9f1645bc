package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
	"golang.org/x/sync/errgroup"
)

var (
	errDispatch = errors.New("training request could not be dispatched")
	errNoAgent  = errors.New("no agent for client")
)

// collection is the per-attempt bookkeeping owned by the goroutine running
// the round.
type collection struct {
	rc       *RoundCoordinator
	global   fl.ParameterSet
	round    uint64
	selected map[string]bool
	pending  map[string]bool
	updates  map[string]fl.Update
	rejected map[string]error
	statuses map[string]client.Status
	excluded map[string]string
}

func newCollection(rc *RoundCoordinator, global fl.ParameterSet, round uint64, ids []string) *collection {
	c := &collection{
		rc:       rc,
		global:   global,
		round:    round,
		selected: make(map[string]bool, len(ids)),
		pending:  make(map[string]bool, len(ids)),
		updates:  make(map[string]fl.Update, len(ids)),
		rejected: make(map[string]error),
		statuses: make(map[string]client.Status, len(ids)),
		excluded: make(map[string]string),
	}
	for _, id := range ids {
		c.selected[id] = true
		c.statuses[id] = client.Selected
	}

	return c
}

// broadcast dispatches req to every selected client concurrently. Handles
// that resolve are forwarded to results; a failed dispatch excludes the
// client straight away.
func (c *collection) broadcast(ctx context.Context, req client.TrainRequest, results chan<- handleResult) {
	ids := slices.Sorted(maps.Keys(c.selected))
	handles := make([]*client.Handle, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			agent := c.rc.agents.Agent(id)
			if agent == nil {
				errs[i] = errNoAgent

				return nil
			}
			handles[i], errs[i] = agent.Train(ctx, req)

			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if errs[i] != nil {
			c.rc.logger.Warn("failed to dispatch training request", slog.String("client_id", id), slog.Any("error", errs[i]))
			c.exclude(id, fmt.Errorf("%w: %w", errDispatch, errs[i]))

			continue
		}
		c.pending[id] = true
		c.setStatus(id, client.Training)

		go func(h *client.Handle) {
			select {
			case <-h.Done():
				u, err := h.Result()
				results <- handleResult{clientID: h.ClientID(), update: u, err: err}
			case <-ctx.Done():
			}
		}(handles[i])
	}
}

// collect runs until every dispatched client answered or ctx ends.
func (c *collection) collect(ctx context.Context, results <-chan handleResult) {
	for len(c.pending) > 0 {
		select {
		case r := <-results:
			if r.err != nil {
				c.fail(r.clientID, r.err)

				continue
			}
			c.accept(r.update, true)
		case m := <-c.rc.inbox:
			if m.failure != nil {
				m.reply <- c.fail(m.clientID, m.failure)

				continue
			}
			m.reply <- c.accept(m.update, false)
		case <-ctx.Done():
			return
		}
	}
}

// accept takes an update from a resolved handle (final) or from Submit. A
// rejected submission leaves the client pending so it may still resubmit
// before the deadline; a resolved handle cannot answer again, so its client
// is excluded at once.
func (c *collection) accept(u fl.Update, final bool) Ack {
	ack := Ack{Round: u.Round}
	switch {
	case u.Round < c.round:
		ack.Reason = ReasonStaleRound
	case u.Round > c.round:
		ack.Reason = ReasonNotCollecting
	case !c.selected[u.ClientID]:
		ack.Reason = ReasonNotSelected
	}
	if ack.Reason != "" {
		return ack
	}

	if err := c.global.CheckShape(u.Params); err != nil {
		return c.reject(u.ClientID, err, ReasonShapeMismatch, ack, final)
	}
	if err := u.Params.Validate(); err != nil || u.DatasetSize == 0 {
		return c.reject(u.ClientID, fmt.Errorf("%w: rejected update", fl.ErrInvalidParameters), ReasonInvalidUpdate, ack, final)
	}

	if _, ok := c.updates[u.ClientID]; ok {
		c.rc.logger.Debug("replacing earlier update", slog.String("client_id", u.ClientID), slog.Uint64("round", u.Round))
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = c.rc.now()
	}
	c.updates[u.ClientID] = u
	delete(c.rejected, u.ClientID)
	delete(c.excluded, u.ClientID)
	delete(c.pending, u.ClientID)
	c.setStatus(u.ClientID, client.Submitted)
	c.rc.noteSubmitted(slices.Sorted(maps.Keys(c.updates)))
	ack.Accepted = true

	return ack
}

func (c *collection) reject(id string, cause error, reason string, ack Ack, final bool) Ack {
	ack.Reason = reason
	if final {
		c.exclude(id, cause)

		return ack
	}
	c.rejected[id] = cause

	return ack
}

// fail records a failure unless the client already submitted a usable update.
func (c *collection) fail(id string, cause error) Ack {
	ack := Ack{Round: c.round}
	if !c.selected[id] {
		ack.Reason = ReasonNotSelected

		return ack
	}
	if _, ok := c.updates[id]; ok {
		ack.Reason = ReasonAlreadySubmitted

		return ack
	}
	c.exclude(id, cause)
	ack.Accepted = true

	return ack
}

// expire excludes every client still owing a usable answer, citing its last
// rejected update if there was one.
func (c *collection) expire() {
	for id := range c.pending {
		cause, ok := c.rejected[id]
		if !ok {
			cause = fl.ErrTimeout
		}
		c.exclude(id, cause)
	}
}

func (c *collection) exclude(id string, cause error) {
	delete(c.pending, id)
	delete(c.updates, id)
	c.excluded[id] = exclusionReason(cause)
	status := client.TimedOut
	if errors.Is(cause, fl.ErrTrainingError) {
		status = client.Failed
	}
	c.setStatus(id, status)
}

func (c *collection) setStatus(id string, status client.Status) {
	c.statuses[id] = status
	c.rc.markStatus(context.Background(), id, status)
}

func (c *collection) record(rec *fl.RoundRecord) {
	rec.Submitted = slices.Sorted(maps.Keys(c.updates))
	for id, st := range c.statuses {
		rec.Statuses[id] = st.String()
	}
	maps.Copy(rec.Excluded, c.excluded)
}

func exclusionReason(err error) string {
	switch {
	case errors.Is(err, fl.ErrTimeout):
		return "timed_out"
	case errors.Is(err, fl.ErrShapeMismatch):
		return ReasonShapeMismatch
	case errors.Is(err, fl.ErrTrainingError):
		return "training_failed"
	case errors.Is(err, fl.ErrInvalidParameters):
		return ReasonInvalidUpdate
	case errors.Is(err, errDispatch):
		return "dispatch_failed"
	default:
		return err.Error()
	}
}
