package storage

import (
	"context"
	"fmt"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

type memoryClientRepo struct {
	storage Storage
}

func newMemoryClientRepository(s Storage) ClientRepository {
	return &memoryClientRepo{storage: s}
}

func (r *memoryClientRepo) Create(ctx context.Context, d client.Descriptor) error {
	return r.storage.Create(ctx, d.ID, d)
}

func (r *memoryClientRepo) Get(ctx context.Context, id string) (client.Descriptor, error) {
	data, err := r.storage.Get(ctx, id)
	if err != nil {
		return client.Descriptor{}, err
	}
	d, ok := data.(client.Descriptor)
	if !ok {
		return client.Descriptor{}, pkgerrors.ErrInvalidData
	}

	return d, nil
}

func (r *memoryClientRepo) Update(ctx context.Context, d client.Descriptor) error {
	return r.storage.Update(ctx, d.ID, d)
}

func (r *memoryClientRepo) List(ctx context.Context, offset, limit uint64) ([]client.Descriptor, uint64, error) {
	data, total, err := r.storage.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	clients := make([]client.Descriptor, len(data))
	for i, v := range data {
		d, ok := v.(client.Descriptor)
		if !ok {
			return nil, 0, pkgerrors.ErrInvalidData
		}
		clients[i] = d
	}

	return clients, total, nil
}

func (r *memoryClientRepo) Delete(ctx context.Context, id string) error {
	return r.storage.Delete(ctx, id)
}

// memoryRoundRepo keys records so that lexical order is round/attempt order
// and keeps an ID index for lookups.
type memoryRoundRepo struct {
	records Storage
	index   Storage
}

func newMemoryRoundRepository(records, index Storage) RoundRepository {
	return &memoryRoundRepo{records: records, index: index}
}

func roundKey(r fl.RoundRecord) string {
	return fmt.Sprintf("%020d/%010d/%s", r.Round, r.Attempt, r.ID)
}

func (r *memoryRoundRepo) Create(ctx context.Context, rec fl.RoundRecord) error {
	if rec.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	key := roundKey(rec)
	if err := r.index.Create(ctx, rec.ID, key); err != nil {
		return err
	}

	return r.records.Create(ctx, key, rec)
}

func (r *memoryRoundRepo) Get(ctx context.Context, id string) (fl.RoundRecord, error) {
	key, err := r.index.Get(ctx, id)
	if err != nil {
		return fl.RoundRecord{}, err
	}
	k, ok := key.(string)
	if !ok {
		return fl.RoundRecord{}, pkgerrors.ErrInvalidData
	}
	data, err := r.records.Get(ctx, k)
	if err != nil {
		return fl.RoundRecord{}, err
	}
	rec, ok := data.(fl.RoundRecord)
	if !ok {
		return fl.RoundRecord{}, pkgerrors.ErrInvalidData
	}

	return rec, nil
}

func (r *memoryRoundRepo) List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	data, total, err := r.records.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	records := make([]fl.RoundRecord, len(data))
	for i, v := range data {
		rec, ok := v.(fl.RoundRecord)
		if !ok {
			return nil, 0, pkgerrors.ErrInvalidData
		}
		records[i] = rec
	}

	return records, total, nil
}

type memoryModelRepo struct {
	storage Storage
}

func newMemoryModelRepository(s Storage) ModelRepository {
	return &memoryModelRepo{storage: s}
}

func modelKey(version uint64) string {
	return fmt.Sprintf("%020d", version)
}

func (r *memoryModelRepo) Save(ctx context.Context, ps fl.ParameterSet) error {
	return r.storage.Create(ctx, modelKey(ps.Version), ps.Clone())
}

func (r *memoryModelRepo) Get(ctx context.Context, version uint64) (fl.ParameterSet, error) {
	data, err := r.storage.Get(ctx, modelKey(version))
	if err != nil {
		return fl.ParameterSet{}, err
	}
	ps, ok := data.(fl.ParameterSet)
	if !ok {
		return fl.ParameterSet{}, pkgerrors.ErrInvalidData
	}

	return ps.Clone(), nil
}

func (r *memoryModelRepo) Latest(ctx context.Context) (fl.ParameterSet, error) {
	_, total, err := r.storage.List(ctx, 0, 0)
	if err != nil {
		return fl.ParameterSet{}, err
	}
	if total == 0 {
		return fl.ParameterSet{}, pkgerrors.ErrNotFound
	}
	data, _, err := r.storage.List(ctx, total-1, 1)
	if err != nil {
		return fl.ParameterSet{}, err
	}
	ps, ok := data[0].(fl.ParameterSet)
	if !ok {
		return fl.ParameterSet{}, pkgerrors.ErrInvalidData
	}

	return ps.Clone(), nil
}

func (r *memoryModelRepo) Versions(ctx context.Context) ([]uint64, error) {
	_, total, err := r.storage.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	data, _, err := r.storage.List(ctx, 0, total)
	if err != nil {
		return nil, err
	}
	versions := make([]uint64, len(data))
	for i, v := range data {
		ps, ok := v.(fl.ParameterSet)
		if !ok {
			return nil, pkgerrors.ErrInvalidData
		}
		versions[i] = ps.Version
	}

	return versions, nil
}
