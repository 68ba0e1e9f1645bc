package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/federate/pkg/fl"
)

const modelPrefix = "model:"

type modelRepo struct {
	db *Database
}

func NewModelRepository(db *Database) ModelRepository {
	return &modelRepo{db: db}
}

func modelKey(version uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", modelPrefix, version)
}

func (r *modelRepo) Save(ctx context.Context, ps fl.ParameterSet) error {
	val, err := ps.Blob()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return r.db.create(modelKey(ps.Version), val)
}

func (r *modelRepo) Get(ctx context.Context, version uint64) (fl.ParameterSet, error) {
	val, err := r.db.get(modelKey(version))
	switch {
	case errors.Is(err, errKeyNotFound):
		return fl.ParameterSet{}, ErrModelNotFound
	case err != nil:
		return fl.ParameterSet{}, err
	}

	return fl.ParseBlob(val)
}

func (r *modelRepo) Latest(ctx context.Context) (fl.ParameterSet, error) {
	val, err := r.db.lastWithPrefix([]byte(modelPrefix))
	switch {
	case errors.Is(err, errKeyNotFound):
		return fl.ParameterSet{}, ErrModelNotFound
	case err != nil:
		return fl.ParameterSet{}, err
	}

	return fl.ParseBlob(val)
}

func (r *modelRepo) Versions(ctx context.Context) ([]uint64, error) {
	prefix := []byte(modelPrefix)
	total, err := r.db.countWithPrefix(prefix)
	if err != nil {
		return nil, err
	}
	values, err := r.db.listWithPrefix(prefix, 0, total)
	if err != nil {
		return nil, err
	}
	versions := make([]uint64, len(values))
	for i, val := range values {
		ps, err := fl.ParseBlob(val)
		if err != nil {
			return nil, err
		}
		versions[i] = ps.Version
	}

	return versions, nil
}
