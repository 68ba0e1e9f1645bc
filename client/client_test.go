package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubTrainer struct {
	size  uint64
	delay time.Duration
	err   error
}

func (s *stubTrainer) DatasetSize() uint64 {
	return s.size
}

func (s *stubTrainer) Train(ctx context.Context, params fl.ParameterSet, _ uint64) (client.TrainResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return client.TrainResult{}, ctx.Err()
	}
	if s.err != nil {
		return client.TrainResult{}, s.err
	}
	params.Tensors[0].Values[0] += 1

	return client.TrainResult{Params: params, Loss: 0.5}, nil
}

func (s *stubTrainer) Evaluate(context.Context, fl.ParameterSet) (client.EvalResult, error) {
	return client.EvalResult{Loss: 0.4, DatasetSize: s.size}, s.err
}

func global(t *testing.T) fl.ParameterSet {
	t.Helper()

	ps, err := client.InitialLinearModel(2)
	require.NoError(t, err)

	return ps
}

func wait(t *testing.T, h *client.Handle) (fl.Update, error) {
	t.Helper()

	select {
	case <-h.Done():
		return h.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("handle did not resolve")

		return fl.Update{}, nil
	}
}

func TestLocalAgentTrain(t *testing.T) {
	errBoom := errors.New("boom")

	cases := []struct {
		desc     string
		trainer  *stubTrainer
		deadline time.Duration
		err      error
	}{
		{
			desc:     "resolves with an update",
			trainer:  &stubTrainer{size: 10},
			deadline: time.Second,
		},
		{
			desc:     "training error",
			trainer:  &stubTrainer{size: 10, err: errBoom},
			deadline: time.Second,
			err:      fl.ErrTrainingError,
		},
		{
			desc:     "deadline passes",
			trainer:  &stubTrainer{size: 10, delay: time.Second},
			deadline: 20 * time.Millisecond,
			err:      fl.ErrTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			agent := client.NewLocalAgent("c1", tc.trainer, slog.Default())
			gp := global(t)

			h, err := agent.Train(context.Background(), client.TrainRequest{
				Round:       4,
				Params:      gp,
				LocalEpochs: 1,
				Deadline:    time.Now().Add(tc.deadline),
			})
			require.NoError(t, err)

			u, err := wait(t, h)
			assert.ErrorIs(t, err, tc.err)
			if tc.err != nil {
				return
			}
			assert.Equal(t, "c1", u.ClientID)
			assert.Equal(t, uint64(4), u.Round)
			assert.Equal(t, uint64(10), u.DatasetSize)
			assert.Equal(t, 0.0, gp.Tensors[0].Values[0], "global parameters must not be mutated")
		})
	}
}

func TestHandleResolvesOnce(t *testing.T) {
	h := client.NewHandle("c1")

	assert.True(t, h.Resolve(fl.Update{ClientID: "c1"}))
	assert.False(t, h.Fail(fl.ErrTimeout))

	u, err := h.Result()
	assert.NoError(t, err)
	assert.Equal(t, "c1", u.ClientID)
}

func TestRemoteAgentTrain(t *testing.T) {
	cases := []struct {
		desc   string
		pubErr error
		queued bool
	}{
		{desc: "publishes and queues", queued: true},
		{desc: "publish failure clears the mailbox", pubErr: errors.New("broker down")},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			pub := new(mocks.MockPubSub)
			pub.On("Publish", mock.Anything, "m/d/c/ch/fl/clients/c1/train", mock.Anything).Return(tc.pubErr)

			mb := client.NewMailbox()
			agent := client.NewRemoteAgent("c1", mb, pub, "d", "ch")

			req := client.TrainRequest{Round: 1, Params: global(t), Deadline: time.Now().Add(time.Minute)}
			h, err := agent.Train(context.Background(), req)
			if tc.pubErr != nil {
				assert.Error(t, err)
				assert.Nil(t, h)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, h)
			}

			_, ok := mb.Get("c1", time.Now())
			assert.Equal(t, tc.queued, ok)
			pub.AssertExpectations(t)
		})
	}
}

func TestMailboxExpires(t *testing.T) {
	mb := client.NewMailbox()
	now := time.Now()
	mb.Put("c1", client.TrainRequest{Round: 1, Deadline: now.Add(time.Second)})

	_, ok := mb.Get("c1", now)
	assert.True(t, ok)
	_, ok = mb.Get("c1", now.Add(2*time.Second))
	assert.False(t, ok)
	_, ok = mb.Get("c1", now)
	assert.False(t, ok)
}

func TestStatusJSON(t *testing.T) {
	d := client.Descriptor{ID: "c1", Status: client.TimedOut}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"timed_out"`)

	var got client.Descriptor
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, client.TimedOut, got.Status)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"sleeping"}`), &got))
}

func TestLinearTrainerReducesLoss(t *testing.T) {
	trainer, err := client.NewSyntheticLinearTrainer(7, 200, []float64{2, -3}, 0.5, 0.01, 0.1)
	require.NoError(t, err)
	assert.Equal(t, uint64(160), trainer.DatasetSize())

	gp := global(t)
	before, err := trainer.Evaluate(context.Background(), gp)
	require.NoError(t, err)

	res, err := trainer.Train(context.Background(), gp, 50)
	require.NoError(t, err)
	after, err := trainer.Evaluate(context.Background(), res.Params)
	require.NoError(t, err)

	assert.Less(t, after.Loss, before.Loss)
	assert.Less(t, res.Loss, 0.01)
	w, ok := res.Params.Tensor(client.LinearWeight)
	require.True(t, ok)
	assert.InDelta(t, 2, w.Values[0], 0.05)
	assert.InDelta(t, -3, w.Values[1], 0.05)

	wrong, err := client.InitialLinearModel(3)
	require.NoError(t, err)
	_, err = trainer.Train(context.Background(), wrong, 1)
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}
