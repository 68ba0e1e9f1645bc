package fl_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/absmach/federate/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func model(t *testing.T, version uint64, w []float64, b float64) fl.ParameterSet {
	t.Helper()

	ps, err := fl.NewParameterSet(version,
		fl.Tensor{Name: "dense.weight", Shape: []int{len(w)}, Values: w},
		fl.Tensor{Name: "dense.bias", Shape: []int{1}, Values: []float64{b}},
	)
	require.NoError(t, err)

	return ps
}

func update(t *testing.T, id string, size uint64, loss float64, w []float64, b float64) fl.Update {
	t.Helper()

	return fl.Update{
		ClientID:    id,
		Round:       1,
		Params:      model(t, 0, w, b),
		DatasetSize: size,
		Loss:        loss,
	}
}

func TestFedAvgAggregate(t *testing.T) {
	global := model(t, 3, []float64{0, 0}, 0)
	agg := fl.NewFedAvgAggregator()

	badShape, err := fl.NewParameterSet(0, fl.Tensor{Name: "dense.weight", Shape: []int{3}, Values: []float64{1, 2, 3}})
	require.NoError(t, err)

	cases := []struct {
		desc     string
		updates  []fl.Update
		weight   []float64
		bias     float64
		loss     float64
		samples  uint64
		included []string
		excluded []string
		err      error
	}{
		{
			desc: "weights by dataset size",
			updates: []fl.Update{
				update(t, "a", 100, 1.0, []float64{1, 2}, 4),
				update(t, "b", 300, 0.5, []float64{5, 6}, 8),
			},
			weight:   []float64{4, 5},
			bias:     7,
			loss:     0.625,
			samples:  400,
			included: []string{"a", "b"},
		},
		{
			desc: "excludes mismatched shapes from the sample total",
			updates: []fl.Update{
				update(t, "a", 100, 1.0, []float64{1, 1}, 1),
				{ClientID: "b", Round: 1, Params: badShape, DatasetSize: 1000, Loss: 9},
			},
			weight:   []float64{1, 1},
			bias:     1,
			loss:     1.0,
			samples:  100,
			included: []string{"a"},
			excluded: []string{"b"},
		},
		{
			desc: "excludes empty datasets",
			updates: []fl.Update{
				update(t, "a", 0, 1.0, []float64{1, 1}, 1),
				update(t, "b", 10, 2.0, []float64{3, 3}, 3),
			},
			weight:   []float64{3, 3},
			bias:     3,
			loss:     2.0,
			samples:  10,
			included: []string{"b"},
			excluded: []string{"a"},
		},
		{
			desc: "excludes non-finite values",
			updates: []fl.Update{
				update(t, "a", 10, 1.0, []float64{math.NaN(), 1}, 1),
				update(t, "b", 10, 2.0, []float64{3, 3}, 3),
			},
			weight:   []float64{3, 3},
			bias:     3,
			loss:     2.0,
			samples:  10,
			included: []string{"b"},
			excluded: []string{"a"},
		},
		{
			desc:    "no updates",
			updates: nil,
			err:     fl.ErrNoValidUpdates,
		},
		{
			desc: "every update excluded",
			updates: []fl.Update{
				{ClientID: "b", Round: 1, Params: badShape, DatasetSize: 10},
			},
			excluded: []string{"b"},
			err:      fl.ErrNoValidUpdates,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := agg.Aggregate(global, tc.updates)
			assert.ErrorIs(t, err, tc.err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
			for _, id := range tc.excluded {
				assert.Contains(t, res.Excluded, id)
			}
			if tc.err != nil {
				return
			}

			w, ok := res.Params.Tensor("dense.weight")
			require.True(t, ok)
			assert.InDeltaSlice(t, tc.weight, w.Values, 1e-12)
			b, ok := res.Params.Tensor("dense.bias")
			require.True(t, ok)
			assert.InDelta(t, tc.bias, b.Values[0], 1e-12)
			assert.InDelta(t, tc.loss, res.Loss, 1e-12)
			assert.Equal(t, tc.samples, res.TotalSamples)
			assert.Equal(t, tc.included, res.Included)
			assert.Equal(t, global.Version+1, res.Params.Version)
		})
	}
}

func TestFedAvgAggregateOrderIndependent(t *testing.T) {
	global := model(t, 0, []float64{0, 0, 0}, 0)
	agg := fl.NewFedAvgAggregator()

	updates := []fl.Update{
		update(t, "c", 7, 0.3, []float64{0.1, 0.7, 1.3}, 0.01),
		update(t, "a", 13, 0.9, []float64{2.2, -0.4, 0.5}, 0.2),
		update(t, "b", 29, 0.6, []float64{-1.1, 3.3, 0.05}, -0.7),
	}
	reversed := []fl.Update{updates[2], updates[1], updates[0]}

	first, err := agg.Aggregate(global, updates)
	require.NoError(t, err)
	second, err := agg.Aggregate(global, reversed)
	require.NoError(t, err)

	assert.Equal(t, first.Params, second.Params)
	assert.Equal(t, first.Loss, second.Loss)
}

func TestFedAvgAggregateMetrics(t *testing.T) {
	global := model(t, 0, []float64{0}, 0)
	agg := fl.NewFedAvgAggregator()

	a := update(t, "a", 100, 1, []float64{1}, 1)
	a.Metrics = map[string]float64{"mae": 2, "accuracy": 0.5}
	b := update(t, "b", 300, 1, []float64{1}, 1)
	b.Metrics = map[string]float64{"mae": 4}

	res, err := agg.Aggregate(global, []fl.Update{a, b})
	require.NoError(t, err)

	assert.InDelta(t, 3.5, res.Metrics["mae"], 1e-12)
	assert.InDelta(t, 0.5, res.Metrics["accuracy"], 1e-12)
}
