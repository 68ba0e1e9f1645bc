package fl

import (
	"fmt"
	"slices"
	"strings"
)

// Tensor is a named, shaped block of model weights stored in row-major order.
type Tensor struct {
	Name   string    `json:"name"   cbor:"1,keyasint"`
	Shape  []int     `json:"shape"  cbor:"2,keyasint"`
	Values []float64 `json:"values" cbor:"3,keyasint"`
}

func (t Tensor) size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}

	return n
}

func (t Tensor) clone() Tensor {
	return Tensor{
		Name:   t.Name,
		Shape:  slices.Clone(t.Shape),
		Values: slices.Clone(t.Values),
	}
}

// ParameterSet is a versioned, ordered collection of named tensors.
// A published ParameterSet is never mutated; every change produces a new value
// with a new version.
type ParameterSet struct {
	Version uint64   `json:"version" cbor:"1,keyasint"`
	Tensors []Tensor `json:"tensors" cbor:"2,keyasint"`
}

// NewParameterSet validates tensors and returns them ordered by name.
func NewParameterSet(version uint64, tensors ...Tensor) (ParameterSet, error) {
	ps := ParameterSet{
		Version: version,
		Tensors: make([]Tensor, 0, len(tensors)),
	}
	for _, t := range tensors {
		ps.Tensors = append(ps.Tensors, t.clone())
	}
	slices.SortFunc(ps.Tensors, func(a, b Tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	if err := ps.Validate(); err != nil {
		return ParameterSet{}, err
	}

	return ps, nil
}

// Validate checks that tensor names are unique and non-empty and that every
// tensor carries exactly as many values as its shape describes.
func (ps ParameterSet) Validate() error {
	seen := make(map[string]struct{}, len(ps.Tensors))
	for _, t := range ps.Tensors {
		if t.Name == "" {
			return fmt.Errorf("%w: tensor with empty name", ErrInvalidParameters)
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("%w: duplicate tensor %q", ErrInvalidParameters, t.Name)
		}
		seen[t.Name] = struct{}{}
		for _, d := range t.Shape {
			if d <= 0 {
				return fmt.Errorf("%w: tensor %q has non-positive dimension", ErrInvalidParameters, t.Name)
			}
		}
		if t.size() != len(t.Values) {
			return fmt.Errorf("%w: tensor %q expects %d values, got %d", ErrInvalidParameters, t.Name, t.size(), len(t.Values))
		}
	}

	return nil
}

// Clone returns a deep copy that callers are free to modify.
func (ps ParameterSet) Clone() ParameterSet {
	out := ParameterSet{
		Version: ps.Version,
		Tensors: make([]Tensor, len(ps.Tensors)),
	}
	for i, t := range ps.Tensors {
		out.Tensors[i] = t.clone()
	}

	return out
}

// Tensor looks up a layer by name.
func (ps ParameterSet) Tensor(name string) (Tensor, bool) {
	i := slices.IndexFunc(ps.Tensors, func(t Tensor) bool {
		return t.Name == name
	})
	if i < 0 {
		return Tensor{}, false
	}

	return ps.Tensors[i], true
}

// Names lists layer names in order.
func (ps ParameterSet) Names() []string {
	names := make([]string, len(ps.Tensors))
	for i, t := range ps.Tensors {
		names[i] = t.Name
	}

	return names
}

// CheckShape reports ErrShapeMismatch unless other has every layer of ps with an
// identical shape. Extra layers in other are not allowed either.
func (ps ParameterSet) CheckShape(other ParameterSet) error {
	if len(other.Tensors) != len(ps.Tensors) {
		return fmt.Errorf("%w: expected %d layers, got %d", ErrShapeMismatch, len(ps.Tensors), len(other.Tensors))
	}
	for _, want := range ps.Tensors {
		got, ok := other.Tensor(want.Name)
		if !ok {
			return fmt.Errorf("%w: missing layer %q", ErrShapeMismatch, want.Name)
		}
		if !slices.Equal(want.Shape, got.Shape) || len(got.Values) != len(want.Values) {
			return fmt.Errorf("%w: layer %q has shape %v, expected %v", ErrShapeMismatch, want.Name, got.Shape, want.Shape)
		}
	}

	return nil
}

// NumValues is the total number of scalar parameters.
func (ps ParameterSet) NumValues() int {
	n := 0
	for _, t := range ps.Tensors {
		n += len(t.Values)
	}

	return n
}
