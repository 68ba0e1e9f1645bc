package coordinator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt"
	"github.com/absmach/federate/pkg/mqtt/mocks"
	"github.com/absmach/federate/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cfg coordinator.Config, pubsub mqtt.PubSub) (coordinator.Service, *storage.Repositories) {
	t.Helper()

	reg, repos := newRegistry(t)
	svc, err := coordinator.NewService(cfg, globalModel(t, 0, 0), reg, repos.Rounds, repos.Models, pubsub, "domain", "channel", logger)
	require.Nil(t, err)

	return svc, repos
}

func TestServiceClientLifecycle(t *testing.T) {
	svc, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	d, err := svc.Register(ctx, client.Descriptor{Name: "porto", DatasetSize: 50})
	require.Nil(t, err)
	assert.NotEmpty(t, d.ID)

	cases := []struct {
		desc string
		id   string
		err  error
	}{
		{desc: "heartbeat from registered client", id: d.ID, err: nil},
		{desc: "heartbeat from unknown client", id: "ghost", err: pkgerrors.ErrNotFound},
	}
	for _, tc := range cases {
		_, err := svc.Heartbeat(ctx, tc.id)
		assert.ErrorIs(t, err, tc.err, tc.desc)
	}

	got, err := svc.GetClient(ctx, d.ID)
	require.Nil(t, err)
	assert.Equal(t, "porto", got.Name)

	page, err := svc.ListClients(ctx, 0, 10)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), page.Total)

	require.Nil(t, svc.Deregister(ctx, d.ID))
	_, err = svc.GetClient(ctx, d.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestServiceGetGlobalModelBeforeTraining(t *testing.T) {
	svc, _ := newService(t, testConfig(), nil)

	ps, err := svc.GetGlobalModel(context.Background())
	require.Nil(t, err)
	assert.Equal(t, globalModel(t, 0, 0), ps)
}

func TestServiceTrainingRun(t *testing.T) {
	cfg := testConfig()
	cfg.NumRounds = 1
	svc, _ := newService(t, cfg, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, client.Descriptor{ID: "a", DatasetSize: 10})
	require.Nil(t, err)

	_, err = svc.GetTask(ctx, "a")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	st, err := svc.StartTraining(ctx)
	require.Nil(t, err)
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.ID)

	_, err = svc.StartTraining(ctx)
	assert.ErrorIs(t, err, coordinator.ErrTrainingInProgress)
	assert.ErrorIs(t, err, pkgerrors.ErrConflict)

	var task client.TrainRequest
	require.Eventually(t, func() bool {
		task, err = svc.GetTask(ctx, "a")
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), task.Round)
	assert.Equal(t, cfg.LocalEpochs, task.LocalEpochs)

	_, err = svc.SubmitUpdate(ctx, update(t, "ghost", 1, 10, 3))
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	ack, err := svc.SubmitUpdate(ctx, update(t, "a", 1, 10, 3))
	require.Nil(t, err)
	assert.True(t, ack.Accepted)

	require.Eventually(t, func() bool {
		st, err = svc.TrainingStatus(ctx)
		return err == nil && !st.Running
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, fl.StopMaxRounds, st.StopReason)
	assert.Equal(t, uint64(1), st.Version)
	assert.Empty(t, st.Error)

	ps, err := svc.GetGlobalModel(ctx)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), ps.Version)
	assert.InDelta(t, 3, ps.Tensors[0].Values[0], 1e-12)

	page, err := svc.ListRounds(ctx, 0, 10)
	require.Nil(t, err)
	require.Equal(t, uint64(1), page.Total)
	rec, err := svc.GetRound(ctx, page.Rounds[0].ID)
	require.Nil(t, err)
	assert.Equal(t, fl.Completed, rec.Outcome)

	_, err = svc.GetTask(ctx, "a")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	ack, err = svc.SubmitUpdate(ctx, update(t, "a", 1, 10, 3))
	require.Nil(t, err)
	assert.Equal(t, coordinator.ReasonStaleRound, ack.Reason)
}

func TestServiceStopTraining(t *testing.T) {
	svc, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	_, err := svc.StopTraining(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNoTrainingRun)

	_, err = svc.Register(ctx, client.Descriptor{ID: "a", DatasetSize: 10})
	require.Nil(t, err)
	_, err = svc.StartTraining(ctx)
	require.Nil(t, err)

	st, err := svc.StopTraining(ctx)
	require.Nil(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, fl.StopCancelled, st.StopReason)
	assert.Empty(t, st.Error)
	assert.Equal(t, coordinator.Idle, st.Round.Phase)
}

func TestServiceSubmitUpdateCBOR(t *testing.T) {
	svc, _ := newService(t, testConfig(), nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, client.Descriptor{ID: "a", DatasetSize: 10})
	require.Nil(t, err)

	valid, err := fl.EncodeUpdate(fl.ContentTypeCBOR, update(t, "a", 1, 10, 1))
	require.Nil(t, err)

	cases := []struct {
		desc string
		data []byte
		ack  coordinator.Ack
		err  error
	}{
		{
			desc: "malformed payload",
			data: []byte{0xff, 0x00},
			err:  pkgerrors.ErrInvalidData,
		},
		{
			desc: "valid update outside a round",
			data: valid,
			ack:  coordinator.Ack{Round: 1, Reason: coordinator.ReasonNotCollecting},
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ack, err := svc.SubmitUpdateCBOR(ctx, tc.data)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.ack, ack)
		})
	}
}

func TestServiceSubscribe(t *testing.T) {
	pubsub := new(mocks.MockPubSub)
	var (
		mu       sync.Mutex
		handlers = make(map[string]mqtt.Handler)
	)
	pubsub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		handlers[args.String(1)] = args.Get(2).(mqtt.Handler)
	}).Return(nil)
	pubsub.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil)

	svc, _ := newService(t, testConfig(), pubsub)
	ctx := context.Background()
	require.Nil(t, svc.Subscribe(ctx))
	pubsub.AssertNumberOfCalls(t, "Subscribe", 4)

	register := handlers[fmt.Sprintf(client.RegisterTopicTemplate, "domain", "channel")]
	require.NotNil(t, register)
	require.Nil(t, register("", map[string]any{"client_id": "edge-1", "name": "lisbon", "dataset_size": 25}))
	assert.Error(t, register("", map[string]any{"name": "nameless"}))

	d, err := svc.GetClient(ctx, "edge-1")
	require.Nil(t, err)
	assert.Equal(t, "lisbon", d.Name)
	assert.Equal(t, uint64(25), d.DatasetSize)
	assert.Equal(t, "mqtt", d.Transport)

	alive := handlers[fmt.Sprintf(client.AliveTopicTemplate, "domain", "channel")]
	require.NotNil(t, alive)
	assert.Nil(t, alive("", map[string]any{"client_id": "edge-1"}))
	assert.ErrorIs(t, alive("", map[string]any{"client_id": "ghost"}), pkgerrors.ErrNotFound)

	updates := handlers[fmt.Sprintf(client.UpdateTopicTemplate, "domain", "channel")]
	require.NotNil(t, updates)
	assert.Nil(t, updates("", map[string]any{"client_id": "edge-1", "round": 1}))

	require.Nil(t, svc.Shutdown(ctx))
	pubsub.AssertNumberOfCalls(t, "Unsubscribe", 4)
}
