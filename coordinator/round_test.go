package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRound(t *testing.T) {
	cases := []struct {
		desc       string
		trainers   map[string]*scriptedTrainer
		fraction   float64
		minClients int
		deadline   time.Duration
		outcome    fl.Outcome
		selected   int
		value      float64
		version    uint64
		statuses   map[string]string
		excluded   map[string]string
	}{
		{
			desc: "weights updates by dataset size",
			trainers: map[string]*scriptedTrainer{
				"a": {size: 100, value: 1},
				"b": {size: 300, value: 0},
			},
			fraction:   1,
			minClients: 2,
			outcome:    fl.Completed,
			selected:   2,
			value:      0.25,
			version:    1,
			statuses:   map[string]string{"a": "submitted", "b": "submitted"},
			excluded:   map[string]string{},
		},
		{
			desc: "selects a fraction of active clients",
			trainers: map[string]*scriptedTrainer{
				"a": {size: 10, value: 2},
				"b": {size: 10, value: 2},
				"c": {size: 10, value: 2},
				"d": {size: 10, value: 2},
				"e": {size: 10, value: 2},
			},
			fraction:   0.6,
			minClients: 1,
			outcome:    fl.Completed,
			selected:   3,
			value:      2,
			version:    1,
			excluded:   map[string]string{},
		},
		{
			desc: "failure below quorum aborts and keeps the model",
			trainers: map[string]*scriptedTrainer{
				"a": {size: 100, value: 1},
				"b": {size: 300, value: 0, fail: 1},
			},
			fraction:   1,
			minClients: 2,
			outcome:    fl.AbortedQuorum,
			selected:   2,
			value:      7,
			version:    0,
			statuses:   map[string]string{"a": "submitted", "b": "failed"},
			excluded:   map[string]string{"b": "training_failed"},
		},
		{
			desc: "failure above quorum is excluded from the average",
			trainers: map[string]*scriptedTrainer{
				"a": {size: 100, value: 1},
				"b": {size: 300, value: 0},
				"c": {size: 600, value: 9, fail: 1},
			},
			fraction:   1,
			minClients: 2,
			outcome:    fl.Completed,
			selected:   3,
			value:      0.25,
			version:    1,
			statuses:   map[string]string{"a": "submitted", "b": "submitted", "c": "failed"},
			excluded:   map[string]string{"c": "training_failed"},
		},
		{
			desc: "straggler times out at the deadline",
			trainers: map[string]*scriptedTrainer{
				"a": {size: 100, value: 1},
				"b": {size: 300, value: 0},
				"c": {size: 600, value: 9, block: true},
			},
			fraction:   1,
			minClients: 2,
			deadline:   200 * time.Millisecond,
			outcome:    fl.Completed,
			selected:   3,
			value:      0.25,
			version:    1,
			statuses:   map[string]string{"a": "submitted", "b": "submitted", "c": "timed_out"},
			excluded:   map[string]string{"c": "timed_out"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := testConfig()
			cfg.ClientFraction = tc.fraction
			cfg.MinClients = tc.minClients
			if tc.deadline > 0 {
				cfg.RoundDeadline = tc.deadline
			}
			h := newLocalHarness(t, cfg, tc.trainers)
			global := globalModel(t, 0, 7)

			res, err := h.rc.RunRound(context.Background(), coordinator.RoundInput{Round: 1, Global: global})
			require.Nil(t, err)

			rec := res.Record
			assert.Equal(t, tc.outcome, rec.Outcome)
			assert.Len(t, rec.Selected, tc.selected)
			assert.Equal(t, uint64(0), rec.BaseVersion)
			assert.Equal(t, tc.version, rec.ResultVersion)
			assert.Equal(t, tc.version, res.Params.Version)
			assert.InDelta(t, tc.value, res.Params.Tensors[0].Values[0], 1e-12)
			assert.Equal(t, tc.excluded, rec.Excluded)
			if tc.statuses != nil {
				assert.Equal(t, tc.statuses, rec.Statuses)
			}
			assert.Equal(t, []float64{7}, global.Tensors[0].Values, "input model must not change")
			assert.Equal(t, coordinator.Idle, h.rc.Snapshot().Phase)

			for _, id := range rec.Selected {
				d, err := h.registry.Get(context.Background(), id)
				require.Nil(t, err)
				assert.Equal(t, client.Available, d.Status, "client %s was not released", id)
			}
		})
	}
}

func TestRunRoundExcludesMalformedLocalUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.MinClients = 2
	cfg.RoundDeadline = 5 * time.Second
	h := newLocalHarness(t, cfg, map[string]*scriptedTrainer{
		"a": {size: 100, value: 1},
		"b": {size: 300, value: 0},
		"c": {size: 600, value: 9, rename: "v"},
	})

	start := time.Now()
	res, err := h.rc.RunRound(context.Background(), coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 7)})
	require.Nil(t, err)
	assert.Less(t, time.Since(start), cfg.RoundDeadline/2, "round waited for a client that cannot resubmit")

	rec := res.Record
	assert.Equal(t, fl.Completed, rec.Outcome)
	assert.InDelta(t, 0.25, res.Params.Tensors[0].Values[0], 1e-12)
	assert.Equal(t, map[string]string{"c": coordinator.ReasonShapeMismatch}, rec.Excluded)
	assert.Equal(t, "timed_out", rec.Statuses["c"])
	assert.Equal(t, []string{"a", "b"}, rec.Submitted)
}

// TestRunRoundSelectionAndWeighting covers a full round: three of five
// clients are selected, one of them never answers and the other two are
// weighted 100 to 300.
func TestRunRoundSelectionAndWeighting(t *testing.T) {
	cfg := testConfig()
	cfg.ClientFraction = 0.6
	cfg.MinClients = 2
	cfg.RoundDeadline = 300 * time.Millisecond
	h := newRemoteHarness(t, cfg, map[string]uint64{"a": 10, "b": 10, "c": 10, "d": 10, "e": 10})
	ctx := context.Background()

	out := runAsync(ctx, h.rc, coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 7)})
	waitForPhase(t, h.rc, coordinator.Collecting)
	selected := h.rc.Snapshot().Selected
	require.Len(t, selected, 3)

	ack, err := h.rc.Submit(ctx, update(t, selected[0], 1, 100, 1))
	require.Nil(t, err)
	assert.True(t, ack.Accepted)
	ack, err = h.rc.Submit(ctx, update(t, selected[1], 1, 300, 0))
	require.Nil(t, err)
	assert.True(t, ack.Accepted)

	o := await(t, out)
	require.Nil(t, o.err)
	rec := o.res.Record
	assert.Equal(t, fl.Completed, rec.Outcome)
	assert.Equal(t, selected, rec.Selected)
	assert.Equal(t, uint64(400), rec.TotalSamples)
	assert.Equal(t, uint64(1), o.res.Params.Version)
	assert.InDelta(t, 0.25, o.res.Params.Tensors[0].Values[0], 1e-12)
	assert.Equal(t, map[string]string{selected[2]: "timed_out"}, rec.Excluded)
	assert.ElementsMatch(t, selected[:2], rec.Submitted)
	assert.Len(t, rec.Statuses, 3)
}

func TestRunRoundInsufficientClients(t *testing.T) {
	cfg := testConfig()
	cfg.MinClients = 3
	h := newLocalHarness(t, cfg, map[string]*scriptedTrainer{"a": {size: 1, value: 1}})

	res, err := h.rc.RunRound(context.Background(), coordinator.RoundInput{Round: 1, Global: globalModel(t, 4, 0)})
	require.Nil(t, err)
	assert.Equal(t, fl.AbortedQuorum, res.Record.Outcome)
	assert.Equal(t, uint64(4), res.Record.ResultVersion)
	assert.Equal(t, uint64(4), res.Params.Version)
	assert.Contains(t, res.Record.Error, fl.ErrInsufficientClients.Error())
}

func TestSubmit(t *testing.T) {
	cfg := testConfig()
	cfg.MinClients = 2
	h := newRemoteHarness(t, cfg, map[string]uint64{"a": 100, "b": 300})
	ctx := context.Background()

	out := runAsync(ctx, h.rc, coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 0)})
	waitForPhase(t, h.rc, coordinator.Collecting)
	assert.ElementsMatch(t, []string{"a", "b"}, h.rc.Snapshot().Selected)

	bad := update(t, "b", 1, 300, 0)
	bad.Params.Tensors[0] = fl.Tensor{Name: "w", Shape: []int{2}, Values: []float64{0, 0}}

	cases := []struct {
		desc   string
		update fl.Update
		ack    coordinator.Ack
	}{
		{
			desc:   "first update",
			update: update(t, "a", 1, 100, 5),
			ack:    coordinator.Ack{Accepted: true, Round: 1},
		},
		{
			desc:   "resubmission replaces the earlier update",
			update: update(t, "a", 1, 100, 1),
			ack:    coordinator.Ack{Accepted: true, Round: 1},
		},
		{
			desc:   "client outside the selection",
			update: update(t, "x", 1, 100, 1),
			ack:    coordinator.Ack{Round: 1, Reason: coordinator.ReasonNotSelected},
		},
		{
			desc:   "update for a future round",
			update: update(t, "b", 2, 300, 0),
			ack:    coordinator.Ack{Round: 2, Reason: coordinator.ReasonNotCollecting},
		},
		{
			desc:   "update with a different layout",
			update: bad,
			ack:    coordinator.Ack{Round: 1, Reason: coordinator.ReasonShapeMismatch},
		},
		{
			desc:   "update with an empty dataset",
			update: update(t, "b", 1, 0, 0),
			ack:    coordinator.Ack{Round: 1, Reason: coordinator.ReasonInvalidUpdate},
		},
		{
			desc:   "valid update after a rejected one",
			update: update(t, "b", 1, 300, 0),
			ack:    coordinator.Ack{Accepted: true, Round: 1},
		},
	}

	for _, tc := range cases {
		ack, err := h.rc.Submit(ctx, tc.update)
		assert.Nil(t, err, tc.desc)
		assert.Equal(t, tc.ack, ack, tc.desc)
	}

	o := await(t, out)
	require.Nil(t, o.err)
	assert.Equal(t, fl.Completed, o.res.Record.Outcome)
	assert.Equal(t, []string{"a", "b"}, o.res.Record.Submitted)
	assert.InDelta(t, 0.25, o.res.Params.Tensors[0].Values[0], 1e-12)

	ack, err := h.rc.Submit(ctx, update(t, "a", 1, 100, 3))
	assert.Nil(t, err)
	assert.Equal(t, coordinator.Ack{Round: 1, Reason: coordinator.ReasonStaleRound}, ack)
}

func TestSubmitWithoutClientID(t *testing.T) {
	h := newRemoteHarness(t, testConfig(), map[string]uint64{"a": 1})

	ack, err := h.rc.Submit(context.Background(), fl.Update{Round: 1})
	assert.Nil(t, err)
	assert.Equal(t, coordinator.ReasonInvalidUpdate, ack.Reason)
	assert.False(t, ack.Accepted)
}

func TestSubmitBeforeCollecting(t *testing.T) {
	h := newRemoteHarness(t, testConfig(), map[string]uint64{"a": 1})

	ack, err := h.rc.Submit(context.Background(), update(t, "a", 1, 1, 1))
	assert.Nil(t, err)
	assert.Equal(t, coordinator.Ack{Round: 1, Reason: coordinator.ReasonNotCollecting}, ack)
}

func TestReportFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MinClients = 1
	h := newRemoteHarness(t, cfg, map[string]uint64{"a": 100, "b": 300})
	ctx := context.Background()

	out := runAsync(ctx, h.rc, coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 0)})
	waitForPhase(t, h.rc, coordinator.Collecting)

	ack, err := h.rc.Submit(ctx, update(t, "b", 1, 300, 2))
	require.Nil(t, err)
	require.True(t, ack.Accepted)

	ack, err = h.rc.ReportFailure(ctx, "b", 1, "late failure")
	require.Nil(t, err)
	assert.Equal(t, coordinator.Ack{Round: 1, Reason: coordinator.ReasonAlreadySubmitted}, ack)

	ack, err = h.rc.ReportFailure(ctx, "a", 1, "out of memory")
	require.Nil(t, err)
	assert.True(t, ack.Accepted)

	o := await(t, out)
	require.Nil(t, o.err)
	rec := o.res.Record
	assert.Equal(t, fl.Completed, rec.Outcome)
	assert.Equal(t, map[string]string{"a": "failed", "b": "submitted"}, rec.Statuses)
	assert.Equal(t, map[string]string{"a": "training_failed"}, rec.Excluded)
	assert.InDelta(t, 2, o.res.Params.Tensors[0].Values[0], 1e-12)
}

func TestRunRoundIsExclusive(t *testing.T) {
	h := newRemoteHarness(t, testConfig(), map[string]uint64{"a": 1})
	ctx, cancel := context.WithCancel(context.Background())

	out := runAsync(ctx, h.rc, coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 0)})
	waitForPhase(t, h.rc, coordinator.Collecting)

	_, err := h.rc.RunRound(context.Background(), coordinator.RoundInput{Round: 2, Global: globalModel(t, 0, 0)})
	assert.ErrorIs(t, err, coordinator.ErrRoundInProgress)

	cancel()
	o := await(t, out)
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.Equal(t, fl.AbortedError, o.res.Record.Outcome)
	assert.Equal(t, uint64(0), o.res.Params.Version)
	assert.Equal(t, coordinator.Idle, h.rc.Snapshot().Phase)
}

func TestRunRoundEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.EvaluationDeadline = time.Second
	h := newLocalHarness(t, cfg, map[string]*scriptedTrainer{
		"a": {size: 100, value: 1},
		"b": {size: 300, value: 0},
	})

	res, err := h.rc.RunRound(context.Background(), coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 0)})
	require.Nil(t, err)
	require.NotNil(t, res.Record.EvalLoss)
	assert.InDelta(t, 0.1, *res.Record.EvalLoss, 1e-12)
}

func TestRunRoundStopReason(t *testing.T) {
	cfg := testConfig()
	cfg.NumRounds = 2
	h := newLocalHarness(t, cfg, map[string]*scriptedTrainer{"a": {size: 1, value: 1}})
	ctx := context.Background()

	first, err := h.rc.RunRound(ctx, coordinator.RoundInput{Round: 1, Global: globalModel(t, 0, 0)})
	require.Nil(t, err)
	assert.Equal(t, fl.StopNone, first.Record.StopReason)

	second, err := h.rc.RunRound(ctx, coordinator.RoundInput{
		Round:   2,
		Global:  first.Params,
		History: []fl.RoundRecord{first.Record},
	})
	require.Nil(t, err)
	assert.Equal(t, fl.StopMaxRounds, second.Record.StopReason)
	assert.Equal(t, uint64(2), second.Params.Version)
}
