package coordinator_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/storage"
	"github.com/absmach/federate/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	logger  = slog.New(slog.DiscardHandler)
	errBoom = errors.New("boom")
)

// scriptedTrainer sets every weight to value and reports losses[i] on its
// i-th call, repeating the last loss once the script runs out. A non-empty
// rename replaces the name of the first layer it returns.
type scriptedTrainer struct {
	size   uint64
	value  float64
	losses []float64
	fail   int
	block  bool
	rename string

	mu    sync.Mutex
	calls int
}

func (s *scriptedTrainer) DatasetSize() uint64 {
	return s.size
}

func (s *scriptedTrainer) Train(ctx context.Context, params fl.ParameterSet, _ uint64) (client.TrainResult, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()

		return client.TrainResult{}, ctx.Err()
	}
	if n < s.fail {
		return client.TrainResult{}, errBoom
	}
	for i := range params.Tensors {
		for j := range params.Tensors[i].Values {
			params.Tensors[i].Values[j] = s.value
		}
	}
	if s.rename != "" && len(params.Tensors) > 0 {
		params.Tensors[0].Name = s.rename
	}
	loss := 0.5
	if len(s.losses) > 0 {
		loss = s.losses[min(n, len(s.losses)-1)]
	}

	return client.TrainResult{Params: params, Loss: loss}, nil
}

func (s *scriptedTrainer) Evaluate(context.Context, fl.ParameterSet) (client.EvalResult, error) {
	return client.EvalResult{Loss: 0.1, DatasetSize: s.size}, nil
}

func testConfig() coordinator.Config {
	return coordinator.Config{
		NumRounds:           3,
		ClientFraction:      1,
		MinClients:          1,
		LocalEpochs:         1,
		RoundDeadline:       2 * time.Second,
		MaxRoundRetries:     1,
		ConvergencePatience: 1,
	}
}

func globalModel(t *testing.T, version uint64, value float64) fl.ParameterSet {
	t.Helper()

	ps, err := fl.NewParameterSet(version, fl.Tensor{Name: "w", Shape: []int{1}, Values: []float64{value}})
	require.Nil(t, err)

	return ps
}

func update(t *testing.T, id string, round uint64, size uint64, value float64) fl.Update {
	t.Helper()

	return fl.Update{
		ClientID:    id,
		Round:       round,
		Params:      globalModel(t, 0, value),
		DatasetSize: size,
		Loss:        0.5,
	}
}

type harness struct {
	rc       *coordinator.RoundCoordinator
	registry registry.Registry
	repos    *storage.Repositories
	agents   *coordinator.AgentPool
}

func newRegistry(t *testing.T) (registry.Registry, *storage.Repositories) {
	t.Helper()

	repos, err := storage.NewRepositories(storage.Config{Type: "memory"})
	require.Nil(t, err)

	return registry.New(repos.Clients, registry.WithRand(rand.New(rand.NewPCG(1, 2)))), repos
}

// newLocalHarness registers one in-process agent per trainer.
func newLocalHarness(t *testing.T, cfg coordinator.Config, trainers map[string]*scriptedTrainer) harness {
	t.Helper()

	reg, repos := newRegistry(t)
	agents := coordinator.NewAgentPool(nil)
	for id, tr := range trainers {
		_, err := reg.Register(context.Background(), client.Descriptor{ID: id, DatasetSize: tr.size})
		require.Nil(t, err)
		agents.Add(client.NewLocalAgent(id, tr, logger))
	}

	rc, err := coordinator.NewRoundCoordinator(cfg, reg, agents, fl.NewFedAvgAggregator(), logger)
	require.Nil(t, err)

	return harness{rc: rc, registry: reg, repos: repos, agents: agents}
}

// newRemoteHarness registers clients that only answer through Submit.
func newRemoteHarness(t *testing.T, cfg coordinator.Config, sizes map[string]uint64) harness {
	t.Helper()

	reg, repos := newRegistry(t)
	mailbox := client.NewMailbox()
	agents := coordinator.NewAgentPool(func(id string) client.Agent {
		return client.NewRemoteAgent(id, mailbox, nil, "domain", "channel")
	})
	for id, size := range sizes {
		_, err := reg.Register(context.Background(), client.Descriptor{ID: id, DatasetSize: size})
		require.Nil(t, err)
	}

	rc, err := coordinator.NewRoundCoordinator(cfg, reg, agents, fl.NewFedAvgAggregator(), logger)
	require.Nil(t, err)

	return harness{rc: rc, registry: reg, repos: repos, agents: agents}
}

func waitForPhase(t *testing.T, rc *coordinator.RoundCoordinator, phase coordinator.Phase) {
	t.Helper()

	assert.Eventually(t, func() bool {
		return rc.Snapshot().Phase == phase
	}, 5*time.Second, 5*time.Millisecond, "coordinator never reached %s", phase)
}

type roundOutcome struct {
	res coordinator.RoundResult
	err error
}

func runAsync(ctx context.Context, rc *coordinator.RoundCoordinator, in coordinator.RoundInput) <-chan roundOutcome {
	out := make(chan roundOutcome, 1)
	go func() {
		res, err := rc.RunRound(ctx, in)
		out <- roundOutcome{res: res, err: err}
	}()

	return out
}

func await(t *testing.T, out <-chan roundOutcome) roundOutcome {
	t.Helper()

	select {
	case o := <-out:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("round did not finish")

		return roundOutcome{}
	}
}
