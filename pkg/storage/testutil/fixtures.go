package testutil

import (
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
)

func TestClient(id string) client.Descriptor {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return client.Descriptor{
		ID:           id,
		Name:         "test-client-" + id,
		DatasetSize:  100,
		Status:       client.Available,
		Transport:    "mqtt",
		Metadata:     map[string]string{"region": "eu", "device": "edge"},
		RegisteredAt: now,
		LastSeen:     now,
	}
}

func TestRound(id string, round, attempt uint64) fl.RoundRecord {
	started := time.Now().UTC().Truncate(time.Millisecond)

	return fl.RoundRecord{
		ID:            id,
		Round:         round,
		Attempt:       attempt,
		BaseVersion:   round - 1,
		ResultVersion: round,
		Selected:      []string{"a", "b", "c"},
		Submitted:     []string{"a", "b"},
		Excluded:      map[string]string{"c": "timed_out"},
		Statuses:      map[string]string{"a": "submitted", "b": "submitted", "c": "timed_out"},
		TotalSamples:  200,
		AggregateLoss: 0.5,
		Outcome:       fl.Completed,
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
	}
}

func TestModel(version uint64) fl.ParameterSet {
	ps, err := fl.NewParameterSet(version,
		fl.Tensor{Name: "linear.weight", Shape: []int{2}, Values: []float64{float64(version), 0.5}},
		fl.Tensor{Name: "linear.bias", Shape: []int{1}, Values: []float64{-1}},
	)
	if err != nil {
		panic(err)
	}

	return ps
}
