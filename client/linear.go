package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/absmach/federate/pkg/fl"
)

const (
	LinearWeight = "linear.weight"
	LinearBias   = "linear.bias"

	evalShare = 5
)

var errEmptyDataset = errors.New("empty local dataset")

type sample struct {
	x []float64
	y float64
}

// LinearTrainer fits a linear regression model with full-batch gradient
// descent over a private dataset. Every fifth sample is held out for
// evaluation.
type LinearTrainer struct {
	lr    float64
	train []sample
	eval  []sample
}

// NewLinearTrainer wraps an existing dataset.
func NewLinearTrainer(xs [][]float64, ys []float64, lr float64) (*LinearTrainer, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("features and targets differ in length: %d != %d", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil, errEmptyDataset
	}

	t := &LinearTrainer{lr: lr}
	for i := range xs {
		if len(xs[i]) != len(xs[0]) {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(xs[i]), len(xs[0]))
		}
		s := sample{x: xs[i], y: ys[i]}
		if i%evalShare == evalShare-1 {
			t.eval = append(t.eval, s)

			continue
		}
		t.train = append(t.train, s)
	}

	return t, nil
}

// NewSyntheticLinearTrainer draws n samples from y = w.x + b + noise using seed.
func NewSyntheticLinearTrainer(seed uint64, n int, w []float64, b, noise, lr float64) (*LinearTrainer, error) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := range n {
		x := make([]float64, len(w))
		y := b
		for j := range w {
			x[j] = r.NormFloat64()
			y += w[j] * x[j]
		}
		xs[i] = x
		ys[i] = y + noise*r.NormFloat64()
	}

	return NewLinearTrainer(xs, ys, lr)
}

// InitialLinearModel returns the zero model for dim features.
func InitialLinearModel(dim int) (fl.ParameterSet, error) {
	return fl.NewParameterSet(0,
		fl.Tensor{Name: LinearWeight, Shape: []int{dim}, Values: make([]float64, dim)},
		fl.Tensor{Name: LinearBias, Shape: []int{1}, Values: []float64{0}},
	)
}

func (t *LinearTrainer) DatasetSize() uint64 {
	return uint64(len(t.train))
}

func (t *LinearTrainer) Train(ctx context.Context, params fl.ParameterSet, epochs uint64) (TrainResult, error) {
	w, b, err := linearParams(params)
	if err != nil {
		return TrainResult{}, err
	}
	if len(t.train) == 0 {
		return TrainResult{}, errEmptyDataset
	}
	if err := t.checkDim(len(w)); err != nil {
		return TrainResult{}, err
	}

	n := float64(len(t.train))
	grad := make([]float64, len(w))
	for range epochs {
		if err := ctx.Err(); err != nil {
			return TrainResult{}, err
		}
		clear(grad)
		var gb float64
		for _, s := range t.train {
			diff := predict(w, b, s.x) - s.y
			for j := range w {
				grad[j] += diff * s.x[j]
			}
			gb += diff
		}
		for j := range w {
			w[j] -= t.lr * 2 * grad[j] / n
		}
		b -= t.lr * 2 * gb / n
	}

	mse, mae := score(w, b, t.train)
	out, err := fl.NewParameterSet(params.Version,
		fl.Tensor{Name: LinearWeight, Shape: []int{len(w)}, Values: w},
		fl.Tensor{Name: LinearBias, Shape: []int{1}, Values: []float64{b}},
	)
	if err != nil {
		return TrainResult{}, err
	}

	return TrainResult{
		Params:  out,
		Loss:    mse,
		Metrics: map[string]float64{"mae": mae},
	}, nil
}

func (t *LinearTrainer) Evaluate(_ context.Context, params fl.ParameterSet) (EvalResult, error) {
	w, b, err := linearParams(params)
	if err != nil {
		return EvalResult{}, err
	}
	if err := t.checkDim(len(w)); err != nil {
		return EvalResult{}, err
	}
	set := t.eval
	if len(set) == 0 {
		set = t.train
	}
	mse, mae := score(w, b, set)

	return EvalResult{
		Loss:        mse,
		DatasetSize: uint64(len(set)),
		Metrics:     map[string]float64{"mae": mae},
	}, nil
}

func (t *LinearTrainer) checkDim(dim int) error {
	if len(t.train) > 0 && len(t.train[0].x) != dim {
		return fmt.Errorf("%w: model has %d features, data has %d", fl.ErrShapeMismatch, dim, len(t.train[0].x))
	}

	return nil
}

func linearParams(params fl.ParameterSet) ([]float64, float64, error) {
	wt, ok := params.Tensor(LinearWeight)
	if !ok {
		return nil, 0, fmt.Errorf("%w: missing %s", fl.ErrShapeMismatch, LinearWeight)
	}
	bt, ok := params.Tensor(LinearBias)
	if !ok || len(bt.Values) != 1 {
		return nil, 0, fmt.Errorf("%w: missing %s", fl.ErrShapeMismatch, LinearBias)
	}
	w := make([]float64, len(wt.Values))
	copy(w, wt.Values)

	return w, bt.Values[0], nil
}

func predict(w []float64, b float64, x []float64) float64 {
	y := b
	for j := range w {
		y += w[j] * x[j]
	}

	return y
}

func score(w []float64, b float64, set []sample) (float64, float64) {
	if len(set) == 0 {
		return 0, 0
	}
	var se, ae float64
	for _, s := range set {
		d := predict(w, b, s.x) - s.y
		se += d * d
		ae += math.Abs(d)
	}
	n := float64(len(set))

	return se / n, ae / n
}
