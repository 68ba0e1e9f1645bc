// Package registry tracks the participants of a federation and selects the
// subset that trains in each round.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/storage"
	"github.com/google/uuid"
)

const (
	lockStripes = 64
	pageSize    = 1000
)

var namegen = namegenerator.NewGenerator()

// RoundRef identifies one attempt of one round. Selection is recorded per ref.
type RoundRef struct {
	Round   uint64
	Attempt uint64
}

type Registry interface {
	// Register creates a descriptor on first contact and refreshes name,
	// dataset size and liveness on subsequent ones. Status is preserved.
	Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error)
	Deregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (client.Descriptor, error)
	List(ctx context.Context, offset, limit uint64) (client.Page, error)
	// Touch records a heartbeat.
	Touch(ctx context.Context, id string) (client.Descriptor, error)
	MarkStatus(ctx context.Context, id string, status client.Status) error
	// Active returns registered clients heard from within the liveness window.
	Active(ctx context.Context) ([]client.Descriptor, error)
	// Select picks max(minCount, ceil(fraction*|active|)) Available clients
	// uniformly at random and marks them Selected. Repeating the call for the
	// same ref returns the same clients.
	Select(ctx context.Context, ref RoundRef, fraction float64, minCount int) ([]client.Descriptor, error)
	// Release returns clients to Available after a round attempt ends.
	Release(ctx context.Context, ids []string) error
}

type Option func(*registry)

// WithRand sets the source used for selection.
func WithRand(r *rand.Rand) Option {
	return func(reg *registry) {
		reg.rng = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(reg *registry) {
		reg.now = now
	}
}

// WithLivenessWindow sets how recent a heartbeat must be for a client to be
// active. Zero treats every registered client as active.
func WithLivenessWindow(window time.Duration) Option {
	return func(reg *registry) {
		reg.liveness = window
	}
}

type registry struct {
	repo     storage.ClientRepository
	now      func() time.Time
	liveness time.Duration

	locks [lockStripes]sync.Mutex

	selMu      sync.Mutex
	rng        *rand.Rand
	selections map[RoundRef][]string
}

func New(repo storage.ClientRepository, opts ...Option) Registry {
	reg := &registry{
		repo:       repo,
		now:        time.Now,
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		selections: make(map[RoundRef][]string),
	}
	for _, opt := range opts {
		opt(reg)
	}

	return reg
}

func (r *registry) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &r.locks[h.Sum32()%lockStripes]
	mu.Lock()

	return mu.Unlock
}

func (r *registry) Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Name == "" {
		d.Name = namegen.Generate()
	}

	defer r.lock(d.ID)()

	now := r.now()
	existing, err := r.repo.Get(ctx, d.ID)
	switch {
	case err == nil:
		existing.Name = d.Name
		existing.DatasetSize = d.DatasetSize
		existing.LastSeen = now
		if d.Transport != "" {
			existing.Transport = d.Transport
		}
		if d.Metadata != nil {
			existing.Metadata = d.Metadata
		}
		if err := r.repo.Update(ctx, existing); err != nil {
			return client.Descriptor{}, err
		}

		return existing, nil
	case errors.Is(err, pkgerrors.ErrNotFound):
		d.Status = client.Available
		d.RegisteredAt = now
		d.LastSeen = now
		if err := r.repo.Create(ctx, d); err != nil {
			return client.Descriptor{}, err
		}

		return d, nil
	default:
		return client.Descriptor{}, err
	}
}

func (r *registry) Deregister(ctx context.Context, id string) error {
	defer r.lock(id)()

	return r.repo.Delete(ctx, id)
}

func (r *registry) Get(ctx context.Context, id string) (client.Descriptor, error) {
	return r.repo.Get(ctx, id)
}

func (r *registry) List(ctx context.Context, offset, limit uint64) (client.Page, error) {
	clients, total, err := r.repo.List(ctx, offset, limit)
	if err != nil {
		return client.Page{}, err
	}

	return client.Page{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Clients: clients,
	}, nil
}

func (r *registry) Touch(ctx context.Context, id string) (client.Descriptor, error) {
	defer r.lock(id)()

	d, err := r.repo.Get(ctx, id)
	if err != nil {
		return client.Descriptor{}, err
	}
	d.LastSeen = r.now()
	if err := r.repo.Update(ctx, d); err != nil {
		return client.Descriptor{}, err
	}

	return d, nil
}

func (r *registry) MarkStatus(ctx context.Context, id string, status client.Status) error {
	defer r.lock(id)()

	return r.setStatus(ctx, id, status)
}

func (r *registry) setStatus(ctx context.Context, id string, status client.Status) error {
	d, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == status {
		return nil
	}
	d.Status = status

	return r.repo.Update(ctx, d)
}

func (r *registry) all(ctx context.Context) ([]client.Descriptor, error) {
	var all []client.Descriptor
	for offset := uint64(0); ; offset += pageSize {
		page, total, err := r.repo.List(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if offset+pageSize >= total || len(page) == 0 {
			return all, nil
		}
	}
}

func (r *registry) Active(ctx context.Context) ([]client.Descriptor, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()

	return slices.DeleteFunc(all, func(d client.Descriptor) bool {
		return !d.Live(now, r.liveness)
	}), nil
}

// SelectionSize returns max(minCount, ceil(fraction*active)) capped at
// available. The small tolerance keeps products such as 0.6*5 from rounding
// up past the exact integer.
func SelectionSize(fraction float64, minCount, active, available int) int {
	n := int(math.Ceil(fraction*float64(active) - 1e-9))
	n = max(n, minCount, 0)

	return min(n, available)
}

func (r *registry) Select(ctx context.Context, ref RoundRef, fraction float64, minCount int) ([]client.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) || minCount < 0 {
		return nil, fmt.Errorf("%w: fraction %v, min count %d", fl.ErrInvalidConfig, fraction, minCount)
	}

	r.selMu.Lock()
	defer r.selMu.Unlock()

	if ids, ok := r.selections[ref]; ok {
		return r.lookup(ctx, ids)
	}

	active, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	available := slices.DeleteFunc(slices.Clone(active), func(d client.Descriptor) bool {
		return d.Status != client.Available
	})
	if len(available) < minCount {
		return nil, fmt.Errorf("%w: %d available, %d required", fl.ErrInsufficientClients, len(available), minCount)
	}
	size := SelectionSize(fraction, minCount, len(active), len(available))
	if size == 0 {
		return nil, fmt.Errorf("%w: no available clients", fl.ErrInsufficientClients)
	}

	// Shuffle from a canonical order so a seeded source is reproducible.
	slices.SortFunc(available, func(a, b client.Descriptor) int {
		return cmp.Compare(a.ID, b.ID)
	})
	r.rng.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	selected := make([]client.Descriptor, 0, size)
	for _, d := range available {
		if len(selected) == size {
			break
		}
		if err := r.MarkStatus(ctx, d.ID, client.Selected); err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				continue
			}

			return nil, err
		}
		d.Status = client.Selected
		selected = append(selected, d)
	}
	if len(selected) < max(minCount, 1) {
		ids := make([]string, len(selected))
		for i, d := range selected {
			ids[i] = d.ID
		}

		return nil, errors.Join(
			fmt.Errorf("%w: %d selectable, %d required", fl.ErrInsufficientClients, len(selected), minCount),
			r.Release(ctx, ids),
		)
	}

	ids := make([]string, len(selected))
	for i, d := range selected {
		ids[i] = d.ID
	}
	for k := range r.selections {
		if k.Round < ref.Round {
			delete(r.selections, k)
		}
	}
	r.selections[ref] = ids

	return selected, nil
}

func (r *registry) lookup(ctx context.Context, ids []string) ([]client.Descriptor, error) {
	selected := make([]client.Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := r.repo.Get(ctx, id)
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		selected = append(selected, d)
	}

	return selected, nil
}

func (r *registry) Release(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		err := r.MarkStatus(ctx, id, client.Available)
		if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
