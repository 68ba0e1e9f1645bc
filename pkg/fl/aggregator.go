package fl

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

type Aggregator interface {
	// Aggregate combines updates into the successor of global. Updates that do
	// not match the global layout are excluded and reported, never fatal.
	Aggregate(global ParameterSet, updates []Update) (AggregateResult, error)
}

type AggregateResult struct {
	Params       ParameterSet
	Included     []string
	Excluded     map[string]error
	TotalSamples uint64
	Loss         float64
	Metrics      map[string]float64
}

type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return &FedAvgAggregator{}
}

func (f *FedAvgAggregator) Aggregate(global ParameterSet, updates []Update) (AggregateResult, error) {
	res := AggregateResult{
		Excluded: make(map[string]error),
		Metrics:  make(map[string]float64),
	}

	sorted := slices.Clone(updates)
	slices.SortStableFunc(sorted, func(a, b Update) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})

	valid := make([]Update, 0, len(sorted))
	for _, u := range sorted {
		if err := global.CheckShape(u.Params); err != nil {
			res.Excluded[u.ClientID] = err

			continue
		}
		if u.DatasetSize == 0 {
			res.Excluded[u.ClientID] = fmt.Errorf("%w: empty dataset", ErrInvalidParameters)

			continue
		}
		if err := checkFinite(u); err != nil {
			res.Excluded[u.ClientID] = err

			continue
		}
		if res.TotalSamples > math.MaxUint64-u.DatasetSize {
			return AggregateResult{}, ErrOverflow
		}
		res.TotalSamples += u.DatasetSize
		valid = append(valid, u)
	}

	if res.TotalSamples == 0 {
		return res, ErrNoValidUpdates
	}

	total := float64(res.TotalSamples)
	acc := make(map[string][]float64, len(global.Tensors))
	for _, t := range global.Tensors {
		acc[t.Name] = make([]float64, len(t.Values))
	}

	metricWeights := make(map[string]float64)
	for _, u := range valid {
		weight := float64(u.DatasetSize) / total
		for _, t := range u.Params.Tensors {
			dst := acc[t.Name]
			for i, v := range t.Values {
				dst[i] += weight * v
			}
		}
		res.Loss += weight * u.Loss
		for name, v := range u.Metrics {
			res.Metrics[name] += weight * v
			metricWeights[name] += weight
		}
		res.Included = append(res.Included, u.ClientID)
	}

	// Metrics reported by only some clients are normalised over those clients.
	for name, w := range metricWeights {
		if w > 0 {
			res.Metrics[name] /= w
		}
	}

	tensors := make([]Tensor, len(global.Tensors))
	for i, t := range global.Tensors {
		tensors[i] = Tensor{
			Name:   t.Name,
			Shape:  slices.Clone(t.Shape),
			Values: acc[t.Name],
		}
	}
	res.Params = ParameterSet{
		Version: global.Version + 1,
		Tensors: tensors,
	}

	return res, nil
}

func checkFinite(u Update) error {
	if math.IsNaN(u.Loss) || math.IsInf(u.Loss, 0) {
		return fmt.Errorf("%w: non-finite loss", ErrInvalidParameters)
	}
	for _, t := range u.Params.Tensors {
		for _, v := range t.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: layer %q contains non-finite values", ErrInvalidParameters, t.Name)
			}
		}
	}

	return nil
}
